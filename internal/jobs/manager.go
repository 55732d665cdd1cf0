package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"camwatch/pkg/logger"
)

// Job a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob a job whose first run waits for the next interval boundary.
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Manager runs registered jobs on their own tickers until stopped. A job run
// never overlaps itself: a slow run delays the next tick.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make([]Job, 0),
	}
}

// Register adds a job; jobs registered after Start are ignored.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		logger.WarnCtx(m.ctx, "job %s registered after start, ignoring", job.Name())
		return
	}
	m.jobs = append(m.jobs, job)
}

// Jobs names of the registered jobs
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	if aligned, ok := job.(AlignedJob); ok && aligned.AlignToInterval() {
		now := time.Now()
		next := now.Truncate(interval).Add(interval)
		logger.InfoCtx(m.ctx, "job %s will start at %v (in %v)", job.Name(), next.Format("15:04:05"), next.Sub(now))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	m.executeJob(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

func (m *Manager) executeJob(job Job) {
	if m.ctx.Err() != nil {
		return
	}
	if err := runSafely(m.ctx, job); err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}

// runSafely turns a panicking job into an error so one bad run cannot kill
// the job's goroutine.
func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "background job %s panicked: %v\n%s", job.Name(), r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName     string
	JobInterval time.Duration
	Aligned     bool
	Fn          func(ctx context.Context) error
}

func (f *FuncJob) Name() string            { return f.JobName }
func (f *FuncJob) Interval() time.Duration { return f.JobInterval }
func (f *FuncJob) AlignToInterval() bool   { return f.Aligned }

func (f *FuncJob) Run(ctx context.Context) error {
	if f.Fn == nil {
		return fmt.Errorf("job %s has no function", f.JobName)
	}
	return f.Fn(ctx)
}
