package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/store/memory"
)

type fakeRegistry struct {
	names []string
	err   error
}

func (f *fakeRegistry) ListStreams(ctx context.Context) ([]*interfaces.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*interfaces.Stream, 0, len(f.names))
	for _, n := range f.names {
		out = append(out, &interfaces.Stream{Name: n})
	}
	return out, nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	samples  map[string]*interfaces.MetricSample
	errs     map[string][]error // consumed one per call before the sample is returned
	requests map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		samples:  make(map[string]*interfaces.MetricSample),
		errs:     make(map[string][]error),
		requests: make(map[string]int),
	}
}

func (f *fakeMetrics) set(stream string, producer, consumer interfaces.ByteCount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[stream] = &interfaces.MetricSample{Stream: stream, Producer: producer, Consumer: consumer}
}

func (f *fakeMetrics) Sample(ctx context.Context, stream string, window interfaces.TimeWindow) (*interfaces.MetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[stream]++
	if errs := f.errs[stream]; len(errs) > 0 {
		f.errs[stream] = errs[1:]
		return nil, errs[0]
	}
	s, ok := f.samples[stream]
	if !ok {
		return &interfaces.MetricSample{Stream: stream, Window: window}, nil
	}
	cp := *s
	cp.Window = window
	return &cp, nil
}

type fakeSupervisor struct {
	mu       sync.Mutex
	seq      int
	prefix   string
	started  []string // stream ids
	stopped  []string // worker ids
	live     map[string]*interfaces.WorkerTask
	startErr map[string]error
	stopErr  map[string]error
}

func newFakeSupervisor(prefix string) *fakeSupervisor {
	return &fakeSupervisor{
		prefix:   prefix,
		live:     make(map[string]*interfaces.WorkerTask),
		startErr: make(map[string]error),
		stopErr:  make(map[string]error),
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, stream string) (*interfaces.WorkerTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, stream)
	if err := f.startErr[stream]; err != nil {
		return nil, err
	}
	f.seq++
	task := &interfaces.WorkerTask{
		ID:        fmt.Sprintf("%s-%d", f.prefix, f.seq),
		StreamID:  stream,
		State:     constants.TaskStateProvisioning,
		StartedAt: time.Now(),
	}
	f.live[task.ID] = task
	return task, nil
}

func (f *fakeSupervisor) Stop(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, workerID)
	if err := f.stopErr[workerID]; err != nil {
		return err
	}
	delete(f.live, workerID)
	return nil
}

func (f *fakeSupervisor) List(ctx context.Context) ([]*interfaces.WorkerTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*interfaces.WorkerTask, 0, len(f.live))
	for _, t := range f.live {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeSupervisor) addLive(task *interfaces.WorkerTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[task.ID] = task
}

func (f *fakeSupervisor) calls() (started, stopped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...), append([]string(nil), f.stopped...)
}

func (f *fakeSupervisor) liveIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.live))
	for id := range f.live {
		ids = append(ids, id)
	}
	return ids
}

// scriptedStore is a memory store whose CompareAndSet can be replaced, and
// whose reads can hang once a write has been attempted
type scriptedStore struct {
	*memory.AssignmentStore
	mu        sync.Mutex
	onCAS     func(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error)
	hangReads bool
	casCalls  int
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{AssignmentStore: memory.NewAssignmentStore()}
}

func (s *scriptedStore) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	s.mu.Lock()
	hang := s.hangReads && s.casCalls > 0
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.AssignmentStore.Get(ctx, stream)
}

func (s *scriptedStore) CompareAndSet(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error) {
	s.mu.Lock()
	s.casCalls++
	onCAS := s.onCAS
	s.mu.Unlock()
	if onCAS != nil {
		return onCAS(ctx, stream, version, workerID)
	}
	return s.AssignmentStore.CompareAndSet(ctx, stream, version, workerID)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []*interfaces.ReconcileEvent
}

func (c *captureRecorder) Record(ctx context.Context, event *interfaces.ReconcileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureRecorder) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

// blockingRecorder holds every Record call until its context ends
type blockingRecorder struct{}

func (blockingRecorder) Record(ctx context.Context, event *interfaces.ReconcileEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

type captureObserver struct {
	mu      sync.Mutex
	reports []*Report
	sweeps  []*SweepReport
}

func (c *captureObserver) ObserveReport(r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func (c *captureObserver) ObserveSweep(r *SweepReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps = append(c.sweeps, r)
}

func testOptions() Options {
	return Options{
		CallTimeout:  time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}
