package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/store/memory"
)

type harness struct {
	registry   *fakeRegistry
	metrics    *fakeMetrics
	store      *memory.AssignmentStore
	supervisor *fakeSupervisor
	recorder   *captureRecorder
	reconciler *Reconciler
}

func newHarness(streams ...string) *harness {
	h := &harness{
		registry:   &fakeRegistry{names: streams},
		metrics:    newFakeMetrics(),
		store:      memory.NewAssignmentStore(),
		supervisor: newFakeSupervisor("task"),
		recorder:   &captureRecorder{},
	}
	h.reconciler = New(h.registry, h.metrics, h.store, h.supervisor, testOptions(), h.recorder)
	return h
}

func (h *harness) worker(t *testing.T, stream string) string {
	t.Helper()
	a, err := h.store.Get(context.Background(), stream)
	require.NoError(t, err)
	return a.WorkerID
}

func TestReconcile_StartsWorkerForProducingStream(t *testing.T) {
	h := newHarness("cam-1")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	started, stopped := h.supervisor.calls()
	assert.Equal(t, []string{"cam-1"}, started)
	assert.Empty(t, stopped)
	assert.Equal(t, "task-1", h.worker(t, "cam-1"))
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Streams)
}

func TestReconcile_StopsWorkerOfIdleStream(t *testing.T) {
	h := newHarness("cam-2")
	h.store.Put("cam-2", "worker-abc")
	h.metrics.set("cam-2", interfaces.Bytes(0), interfaces.Bytes(900))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	started, stopped := h.supervisor.calls()
	assert.Empty(t, started)
	assert.Equal(t, []string{"worker-abc"}, stopped)
	assert.Equal(t, constants.NoWorker, h.worker(t, "cam-2"))
	assert.Equal(t, 1, report.Stopped)
}

func TestReconcile_ServedStreamUnchanged(t *testing.T) {
	h := newHarness("cam-3")
	before := h.store.Put("cam-3", "worker-xyz")
	h.metrics.set("cam-3", interfaces.Bytes(300), interfaces.Bytes(300))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	started, stopped := h.supervisor.calls()
	assert.Empty(t, started)
	assert.Empty(t, stopped)

	after, err := h.store.Get(context.Background(), "cam-3")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, "worker-xyz", after.WorkerID)
	assert.Equal(t, 1, report.Unchanged)
}

func TestReconcile_UnknownProducerSkips(t *testing.T) {
	h := newHarness("cam-4")
	h.store.Put("cam-4", "worker-4")
	h.metrics.set("cam-4", interfaces.UnknownBytes, interfaces.Bytes(100))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	started, stopped := h.supervisor.calls()
	assert.Empty(t, started)
	assert.Empty(t, stopped)
	assert.Equal(t, "worker-4", h.worker(t, "cam-4"))
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, constants.ActionSkip, report.Outcomes[0].Action)
}

func TestReconcile_MetricUnavailableSkipsAfterRetries(t *testing.T) {
	h := newHarness("cam-5")
	h.store.Put("cam-5", "worker-5")
	unavailable := fmt.Errorf("%w: PartialData", interfaces.ErrMetricUnavailable)
	h.metrics.errs["cam-5"] = []error{unavailable, unavailable, unavailable}

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 3, h.metrics.requests["cam-5"], "one call plus two retries")
	assert.Equal(t, "worker-5", h.worker(t, "cam-5"))
}

func TestReconcile_TransientMetricErrorRecovers(t *testing.T) {
	h := newHarness("cam-6")
	h.metrics.errs["cam-6"] = []error{fmt.Errorf("%w: throttled", interfaces.ErrMetricUnavailable)}
	h.metrics.set("cam-6", interfaces.Bytes(10), interfaces.Bytes(0))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 2, h.metrics.requests["cam-6"])
}

func TestReconcile_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness("cam-1", "cam-2", "cam-3", "cam-4")
	h.store.Put("cam-2", "worker-abc")
	h.store.Put("cam-3", "worker-xyz")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	h.metrics.set("cam-2", interfaces.Bytes(0), interfaces.Bytes(900))
	h.metrics.set("cam-3", interfaces.Bytes(300), interfaces.Bytes(300))
	h.metrics.set("cam-4", interfaces.UnknownBytes, interfaces.Bytes(0))

	first, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Started)
	assert.Equal(t, 1, first.Stopped)
	assert.Equal(t, 1, first.Unchanged)
	assert.Equal(t, 1, first.Skipped)

	started, stopped := h.supervisor.calls()

	second, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Started)
	assert.Zero(t, second.Stopped)

	startedAgain, stoppedAgain := h.supervisor.calls()
	assert.Equal(t, started, startedAgain)
	assert.Equal(t, stopped, stoppedAgain)
}

func TestReconcile_LaunchFailureIsIsolated(t *testing.T) {
	h := newHarness("cam-a", "cam-b")
	h.metrics.set("cam-a", interfaces.Bytes(1), interfaces.Bytes(0))
	h.metrics.set("cam-b", interfaces.Bytes(1), interfaces.Bytes(0))
	h.supervisor.startErr["cam-a"] = fmt.Errorf("%w: RESOURCE:ENI", interfaces.ErrLaunchFailed)

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, constants.NoWorker, h.worker(t, "cam-a"))
	assert.NotEqual(t, constants.NoWorker, h.worker(t, "cam-b"))

	started, _ := h.supervisor.calls()
	assert.Len(t, started, 2, "a rejected launch is never retried")
}

func TestReconcile_StopFailureKeepsAssignment(t *testing.T) {
	h := newHarness("cam-2")
	h.store.Put("cam-2", "worker-abc")
	h.metrics.set("cam-2", interfaces.Bytes(0), interfaces.Bytes(0))
	h.supervisor.stopErr["worker-abc"] = fmt.Errorf("%w: desired status RUNNING", interfaces.ErrTerminationFailed)

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "worker-abc", h.worker(t, "cam-2"))
	_, stopped := h.supervisor.calls()
	assert.Len(t, stopped, 1, "termination failures are not retried within a cycle")
}

func TestReconcile_RegistryFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.registry.err = errors.New("access denied")

	_, err := h.reconciler.Reconcile(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrRegistryUnavailable)
}

func TestReconcile_DuplicateStreamsCollapsed(t *testing.T) {
	h := newHarness("cam-1", "cam-1", "cam-1")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	started, _ := h.supervisor.calls()
	assert.Len(t, started, 1)
	assert.Equal(t, 1, report.Streams)
}

func TestReconcile_CancelledContextTouchesNothing(t *testing.T) {
	h := newHarness("cam-1", "cam-2")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	h.metrics.set("cam-2", interfaces.Bytes(500), interfaces.Bytes(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.reconciler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	started, stopped := h.supervisor.calls()
	assert.Empty(t, started)
	assert.Empty(t, stopped)
}

func TestReconcile_RecordsEvents(t *testing.T) {
	h := newHarness("cam-1", "cam-3")
	h.store.Put("cam-3", "worker-xyz")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	h.metrics.set("cam-3", interfaces.Bytes(300), interfaces.Bytes(300))

	_, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)

	require.Len(t, h.recorder.events, 1, "unchanged streams are not recorded")
	event := h.recorder.events[0]
	assert.Equal(t, "cam-1", event.Stream)
	assert.Equal(t, "start", event.Action)
	assert.Equal(t, constants.NoWorker, event.PrevWorkerID)
	assert.Equal(t, "500", event.Producer)
	assert.NotEmpty(t, event.EventID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestReconcile_ParallelStreams(t *testing.T) {
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("cam-%02d", i)
	}
	h := newHarness(names...)
	opts := testOptions()
	opts.Concurrency = 8
	h.reconciler = New(h.registry, h.metrics, h.store, h.supervisor, opts)
	for _, n := range names {
		h.metrics.set(n, interfaces.Bytes(1), interfaces.Bytes(0))
	}

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, report.Started)
	assert.Len(t, report.Outcomes, 20)
	for i, o := range report.Outcomes {
		assert.Equal(t, names[i], o.Stream, "outcomes keep registry order")
	}
}

// Concurrent cycles against one store must leave exactly one recorded worker
// and exactly one live task per stream.
func TestReconcile_ConcurrentCyclesSingleWinner(t *testing.T) {
	store := memory.NewAssignmentStore()
	metrics := newFakeMetrics()
	metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	supervisor := newFakeSupervisor("task")
	registry := &fakeRegistry{names: []string{"cam-1"}}

	const replicas = 8
	var wg sync.WaitGroup
	reports := make([]*Report, replicas)
	for i := 0; i < replicas; i++ {
		r := New(registry, metrics, store, supervisor, testOptions())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := r.Reconcile(context.Background())
			assert.NoError(t, err)
			reports[i] = report
		}(i)
	}
	wg.Wait()

	a, err := store.Get(context.Background(), "cam-1")
	require.NoError(t, err)
	require.True(t, a.HasWorker())

	live := supervisor.liveIDs()
	assert.Equal(t, []string{a.WorkerID}, live)

	starts := 0
	for _, r := range reports {
		starts += r.Started
	}
	assert.Equal(t, 1, starts)
}

func TestUniqueNames(t *testing.T) {
	streams := []*interfaces.Stream{{Name: "b"}, nil, {Name: "a"}, {Name: ""}, {Name: "b"}}
	assert.Equal(t, []string{"b", "a"}, uniqueNames(streams))
}

func newScriptedReconciler(store *scriptedStore, stream string, opts Options) (*Reconciler, *fakeMetrics, *fakeSupervisor, *captureRecorder) {
	metrics := newFakeMetrics()
	supervisor := newFakeSupervisor("task")
	recorder := &captureRecorder{}
	r := New(&fakeRegistry{names: []string{stream}}, metrics, store, supervisor, opts, recorder)
	return r, metrics, supervisor, recorder
}

func connReset() error {
	return &net.OpError{Op: "write", Net: "tcp", Err: errors.New("connection reset by peer")}
}

func TestReconcile_StartWriteLandedDespiteError(t *testing.T) {
	store := newScriptedStore()
	store.onCAS = func(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error) {
		if _, err := store.AssignmentStore.CompareAndSet(ctx, stream, version, workerID); err != nil {
			return nil, err
		}
		return nil, connReset()
	}
	r, metrics, supervisor, recorder := newScriptedReconciler(store, "cam-1", testOptions())
	metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Started)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Conflicts)

	started, stopped := supervisor.calls()
	assert.Equal(t, []string{"cam-1"}, started)
	assert.Empty(t, stopped, "the recorded worker must not be stopped")

	a, err := store.Get(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", a.WorkerID)
	assert.Equal(t, []string{"start"}, recorder.actions())
}

func TestReconcile_StopLostToConcurrentClear(t *testing.T) {
	store := newScriptedStore()
	store.Put("cam-2", "worker-abc")
	store.onCAS = func(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error) {
		store.Put(stream, constants.NoWorker)
		return store.AssignmentStore.CompareAndSet(ctx, stream, version, workerID)
	}
	r, metrics, supervisor, recorder := newScriptedReconciler(store, "cam-2", testOptions())
	metrics.set("cam-2", interfaces.Bytes(0), interfaces.Bytes(900))

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stopped)
	assert.Zero(t, report.Conflicts)
	assert.Zero(t, report.Failed)

	started, stopped := supervisor.calls()
	assert.Empty(t, started)
	assert.Equal(t, []string{"worker-abc"}, stopped)
	assert.Equal(t, []string{"stop"}, recorder.actions())
}

func TestReconcile_StopLostToNewWorker(t *testing.T) {
	store := newScriptedStore()
	store.Put("cam-2", "worker-abc")
	store.onCAS = func(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error) {
		store.Put(stream, "worker-new")
		return store.AssignmentStore.CompareAndSet(ctx, stream, version, workerID)
	}
	r, metrics, supervisor, recorder := newScriptedReconciler(store, "cam-2", testOptions())
	metrics.set("cam-2", interfaces.Bytes(0), interfaces.Bytes(900))

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Conflicts)
	assert.Zero(t, report.Stopped)

	started, stopped := supervisor.calls()
	assert.Empty(t, started)
	assert.Equal(t, []string{"worker-abc"}, stopped, "only the old worker is stopped")

	a, err := store.Get(context.Background(), "cam-2")
	require.NoError(t, err)
	assert.Equal(t, "worker-new", a.WorkerID)

	require.Len(t, report.Outcomes, 1)
	assert.ErrorIs(t, report.Outcomes[0].Err, interfaces.ErrStoreConflict)
	assert.Equal(t, []string{"conflict"}, recorder.actions())
}

func TestReconcile_RereadAfterFailedWriteIsBounded(t *testing.T) {
	store := newScriptedStore()
	store.hangReads = true
	store.onCAS = func(ctx context.Context, stream string, version int64, workerID string) (*interfaces.Assignment, error) {
		return nil, connReset()
	}
	opts := testOptions()
	opts.CallTimeout = 50 * time.Millisecond
	opts.MaxRetries = 0
	r, metrics, _, recorder := newScriptedReconciler(store, "cam-1", opts)
	metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	begin := time.Now()
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"fail"}, recorder.actions())
}

func TestReconcile_SlowRecorderIsBounded(t *testing.T) {
	opts := testOptions()
	opts.CallTimeout = 50 * time.Millisecond
	recorder := &captureRecorder{}
	metrics := newFakeMetrics()
	metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	r := New(&fakeRegistry{names: []string{"cam-1"}}, metrics, memory.NewAssignmentStore(),
		newFakeSupervisor("task"), opts, blockingRecorder{}, recorder)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	begin := time.Now()
	report, err := r.Reconcile(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, []string{"start"}, recorder.actions(), "later recorders still run")
}

func TestReconcile_RecordsSkips(t *testing.T) {
	h := newHarness("cam-4", "cam-5")
	h.metrics.set("cam-4", interfaces.UnknownBytes, interfaces.Bytes(100))
	h.metrics.errs["cam-5"] = []error{fmt.Errorf("%w: PartialData", interfaces.ErrMetricUnavailable)}
	h.reconciler.opts.MaxRetries = 0

	report, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)

	require.Len(t, h.recorder.events, 2)
	byStream := map[string]*interfaces.ReconcileEvent{}
	for _, e := range h.recorder.events {
		byStream[e.Stream] = e
	}
	assert.Equal(t, "skip", byStream["cam-4"].Action)
	assert.Equal(t, "incomplete metrics", byStream["cam-4"].Reason)
	assert.Equal(t, "unknown", byStream["cam-4"].Producer)
	assert.Empty(t, byStream["cam-4"].Error)

	assert.Equal(t, "skip", byStream["cam-5"].Action)
	assert.Equal(t, "metrics unavailable", byStream["cam-5"].Reason)
	assert.Equal(t, "METRIC_UNAVAILABLE", byStream["cam-5"].ErrorKind)
}
