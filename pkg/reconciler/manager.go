package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"camwatch/pkg/logger"
)

// ErrCycleInProgress another replica holds the cycle lock
var ErrCycleInProgress = errors.New("cycle already running on another instance")

// ErrSweeperDisabled the orphan sweeper is not configured
var ErrSweeperDisabled = errors.New("orphan sweeper is disabled")

const defaultStateKey = "camwatch:reconciler-state"

// persistedState survives restarts when redis is configured
type persistedState struct {
	Enabled bool `json:"enabled"`
}

// Manager owns the reconciler lifecycle: enable switch, cross-replica
// locking, last results and observers.
type Manager struct {
	reconciler *Reconciler
	sweeper    *Sweeper
	cycleLock  DistributedLock
	sweepLock  DistributedLock
	observers  []ReportObserver

	redisClient *redis.Client
	stateKey    string

	mu          sync.RWMutex
	enabled     bool
	lastRunTime time.Time
	lastReport  *Report
	lastSweep   *SweepReport

	runMu sync.Mutex // serializes cycles within this process
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSweeper enables orphan sweeping
func WithSweeper(s *Sweeper) ManagerOption {
	return func(m *Manager) { m.sweeper = s }
}

// WithObserver registers a report observer
func WithObserver(o ReportObserver) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithLocks overrides the cycle and sweep locks
func WithLocks(cycle, sweep DistributedLock) ManagerOption {
	return func(m *Manager) {
		m.cycleLock = cycle
		m.sweepLock = sweep
	}
}

// NewManager creates a manager. redisClient may be nil (single instance,
// enabled state kept in memory only).
func NewManager(r *Reconciler, enabled bool, redisClient *redis.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		reconciler:  r,
		redisClient: redisClient,
		stateKey:    defaultStateKey,
		enabled:     enabled,
		cycleLock:   NewRedisDistributedLock(redisClient, ReconcileLockKey),
		sweepLock:   NewRedisDistributedLock(redisClient, SweepLockKey),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.loadPersistedState(context.Background())
	return m
}

// RunScheduled runs a cycle from a scheduler; it is a no-op while disabled or
// while another replica is reconciling.
func (m *Manager) RunScheduled(ctx context.Context) error {
	if !m.IsEnabled() {
		logger.DebugCtx(ctx, "reconciler disabled, skipping scheduled cycle")
		return nil
	}
	_, err := m.RunOnce(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		return nil
	}
	return err
}

// RunOnce runs one cycle now, regardless of the enable switch
func (m *Manager) RunOnce(ctx context.Context) (*Report, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	acquired, err := m.cycleLock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "reconcile lock held by another instance, skipping this run")
		return nil, ErrCycleInProgress
	}
	defer func() {
		if err := m.cycleLock.Unlock(ctx); err != nil {
			logger.ErrorCtx(ctx, "failed to release distributed lock: %v", err)
		}
	}()

	m.mu.Lock()
	m.lastRunTime = time.Now()
	m.mu.Unlock()

	report, err := m.reconciler.Reconcile(ctx)

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	if report != nil {
		for _, o := range m.observers {
			o.ObserveReport(report)
		}
	}
	return report, err
}

// Sweep runs one orphan sweep
func (m *Manager) Sweep(ctx context.Context) (*SweepReport, error) {
	if m.sweeper == nil {
		return nil, ErrSweeperDisabled
	}

	acquired, err := m.sweepLock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	if !acquired {
		return nil, ErrCycleInProgress
	}
	defer func() {
		if err := m.sweepLock.Unlock(ctx); err != nil {
			logger.ErrorCtx(ctx, "failed to release sweep lock: %v", err)
		}
	}()

	report, err := m.sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastSweep = report
	m.mu.Unlock()

	for _, o := range m.observers {
		o.ObserveSweep(report)
	}
	return report, nil
}

// SweepScheduled runs a sweep from a scheduler, honoring the enable switch
func (m *Manager) SweepScheduled(ctx context.Context) error {
	if !m.IsEnabled() || m.sweeper == nil {
		return nil
	}
	_, err := m.Sweep(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		return nil
	}
	return err
}

// Enable turns scheduled cycles on
func (m *Manager) Enable(ctx context.Context) {
	m.setEnabled(ctx, true)
}

// Disable turns scheduled cycles off; manual runs still work
func (m *Manager) Disable(ctx context.Context) {
	m.setEnabled(ctx, false)
}

func (m *Manager) setEnabled(ctx context.Context, enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	logger.InfoCtx(ctx, "reconciler enabled=%v", enabled)
	m.persistState(ctx)
}

// IsEnabled reports the enable switch
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// GetStatus returns the switch and the latest results
func (m *Manager) GetStatus() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Status{
		Enabled:     m.enabled,
		LastRunTime: m.lastRunTime,
		LastReport:  m.lastReport,
		LastSweep:   m.lastSweep,
	}
}

func (m *Manager) loadPersistedState(ctx context.Context) {
	if m.redisClient == nil {
		return
	}
	data, err := m.redisClient.Get(ctx, m.stateKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.WarnCtx(ctx, "failed to load reconciler state from redis: %v", err)
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.WarnCtx(ctx, "failed to decode reconciler state from redis: %v", err)
		return
	}

	m.mu.Lock()
	m.enabled = state.Enabled
	m.mu.Unlock()

	logger.InfoCtx(ctx, "loaded reconciler state from redis: enabled=%v", state.Enabled)
}

func (m *Manager) persistState(ctx context.Context) {
	if m.redisClient == nil {
		return
	}
	data, err := json.Marshal(persistedState{Enabled: m.IsEnabled()})
	if err != nil {
		logger.WarnCtx(ctx, "failed to encode reconciler state: %v", err)
		return
	}
	if err := m.redisClient.Set(ctx, m.stateKey, data, 0).Err(); err != nil {
		logger.WarnCtx(ctx, "failed to persist reconciler state: %v", err)
	}
}
