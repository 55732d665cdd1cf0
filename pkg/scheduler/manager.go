package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"camwatch/pkg/config"
	"camwatch/pkg/logger"
)

const (
	TypeReconcile = "camwatch:reconcile"
	TypeSweep     = "camwatch:sweep"

	queueName = "camwatch"
)

// RunFunc one scheduled unit of work (a reconcile cycle or a sweep)
type RunFunc func(ctx context.Context) error

// periodicEntry one cron registration
type periodicEntry struct {
	cronspec string
	task     *asynq.Task
	opts     []asynq.Option
}

// Manager runs reconcile cycles as asynq periodic tasks. The asynq scheduler
// enqueues at most one task per interval across replicas and the server
// processes it on whichever replica dequeues it first.
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	entries   []periodicEntry
}

// NewManager creates the scheduler. sweepInterval <= 0 disables the sweep entry.
func NewManager(cfg config.RedisConfig, interval, sweepInterval time.Duration) (*Manager, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("asynq scheduler requires redis")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid reconcile interval: %s", interval)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queueName: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	return &Manager{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC}),
		mux:       asynq.NewServeMux(),
		entries:   periodicEntries(interval, sweepInterval),
	}, nil
}

func periodicEntries(interval, sweepInterval time.Duration) []periodicEntry {
	entries := []periodicEntry{{
		cronspec: fmt.Sprintf("@every %s", interval),
		task:     asynq.NewTask(TypeReconcile, nil),
		opts:     taskOptions(interval),
	}}
	if sweepInterval > 0 {
		entries = append(entries, periodicEntry{
			cronspec: fmt.Sprintf("@every %s", sweepInterval),
			task:     asynq.NewTask(TypeSweep, nil),
			opts:     taskOptions(sweepInterval),
		})
	}
	return entries
}

// taskOptions a late cycle is superseded by the next one, never retried
func taskOptions(interval time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(interval),
		asynq.Unique(interval),
	}
}

// NewHandler wraps run as an asynq handler; failures are never retried
func NewHandler(name string, run RunFunc) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		ctx = logger.WithTrace(ctx, task.Type())
		if err := run(ctx); err != nil {
			logger.ErrorCtx(ctx, "scheduled %s failed: %v", name, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	}
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Enqueue triggers an immediate run of taskType
func (m *Manager) Enqueue(ctx context.Context, taskType string) error {
	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(taskType, nil), asynq.Queue(queueName), asynq.MaxRetry(0))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	logger.InfoCtx(ctx, "task enqueued, id: %s, type: %s", info.ID, taskType)
	return nil
}

// Start registers the periodic entries and starts the server and scheduler
func (m *Manager) Start() error {
	for _, e := range m.entries {
		id, err := m.scheduler.Register(e.cronspec, e.task, e.opts...)
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", e.task.Type(), err)
		}
		logger.Infof("registered periodic task %s (%s), entry %s", e.task.Type(), e.cronspec, id)
	}

	logger.Info("starting asynq server")
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	if err := m.scheduler.Start(); err != nil {
		m.server.Shutdown()
		return fmt.Errorf("failed to start asynq scheduler: %w", err)
	}
	return nil
}

// Stop stops the scheduler first so nothing new is enqueued, then the server
func (m *Manager) Stop() {
	logger.Info("stopping asynq scheduler")
	m.scheduler.Shutdown()
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}
