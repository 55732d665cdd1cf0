package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/store/memory"
)

func TestSweep_StopsOnlyOldOrphans(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewAssignmentStore()
	store.Put("cam-1", "owned")
	store.Put("cam-2", constants.NoWorker)

	supervisor := newFakeSupervisor("task")
	supervisor.addLive(&interfaces.WorkerTask{ID: "owned", StreamID: "cam-1", State: constants.TaskStateRunning, StartedAt: now.Add(-time.Hour)})
	supervisor.addLive(&interfaces.WorkerTask{ID: "orphan", StreamID: "cam-2", State: constants.TaskStateRunning, StartedAt: now.Add(-10 * time.Minute)})
	supervisor.addLive(&interfaces.WorkerTask{ID: "fresh", StreamID: "cam-3", State: constants.TaskStatePending, StartedAt: now.Add(-time.Minute)})
	supervisor.addLive(&interfaces.WorkerTask{ID: "undated", StreamID: "cam-4", State: constants.TaskStateProvisioning})
	supervisor.addLive(&interfaces.WorkerTask{ID: "leaving", StreamID: "cam-5", State: constants.TaskStateStopping, StartedAt: now.Add(-time.Hour)})

	opts := testOptions()
	opts.Now = func() time.Time { return now }
	sweeper := NewSweeper(store, supervisor, 5*time.Minute, opts)

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"orphan"}, report.Terminated)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 4, report.Tasks)
	assert.Equal(t, 1, report.Owned)
	assert.Equal(t, 2, report.Young)

	_, stopped := supervisor.calls()
	assert.Equal(t, []string{"orphan"}, stopped)
}

func TestSweep_StopFailureReported(t *testing.T) {
	now := time.Now()
	supervisor := newFakeSupervisor("task")
	supervisor.addLive(&interfaces.WorkerTask{ID: "orphan", State: constants.TaskStateRunning, StartedAt: now.Add(-time.Hour)})
	supervisor.stopErr["orphan"] = errors.New("termination failed: denied")

	sweeper := NewSweeper(memory.NewAssignmentStore(), supervisor, 0, testOptions())
	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, report.Failed)
	assert.Empty(t, report.Terminated)
}

func TestSweep_AfterLostAssignmentWrite(t *testing.T) {
	// a start whose assignment write never landed leaves a task nothing references
	h := newHarness("cam-1")
	h.metrics.set("cam-1", interfaces.Bytes(500), interfaces.Bytes(0))
	task, err := h.supervisor.Start(context.Background(), "cam-1")
	require.NoError(t, err)

	opts := testOptions()
	opts.Now = func() time.Time { return task.StartedAt.Add(time.Hour) }
	report, err := NewSweeper(h.store, h.supervisor, time.Minute, opts).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, report.Terminated)
	assert.Empty(t, h.supervisor.liveIDs())
}

func TestSweep_RecordsTerminatedAndFailedOrphans(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	supervisor := newFakeSupervisor("task")
	supervisor.addLive(&interfaces.WorkerTask{ID: "orphan", StreamID: "cam-7", State: constants.TaskStateRunning, StartedAt: now.Add(-time.Hour)})
	supervisor.addLive(&interfaces.WorkerTask{ID: "stuck", StreamID: "cam-8", State: constants.TaskStateRunning, StartedAt: now.Add(-time.Hour)})
	supervisor.stopErr["stuck"] = fmt.Errorf("%w: AccessDenied", interfaces.ErrTerminationFailed)

	opts := testOptions()
	opts.Now = func() time.Time { return now }
	recorder := &captureRecorder{}
	report, err := NewSweeper(memory.NewAssignmentStore(), supervisor, time.Minute, opts, recorder).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, report.Terminated)
	assert.Equal(t, []string{"stuck"}, report.Failed)

	require.Len(t, recorder.events, 2)
	byWorker := map[string]*interfaces.ReconcileEvent{}
	for _, e := range recorder.events {
		byWorker[e.WorkerID] = e
	}

	swept := byWorker["orphan"]
	require.NotNil(t, swept)
	assert.Equal(t, "sweep", swept.Action)
	assert.Equal(t, "cam-7", swept.Stream)
	assert.Equal(t, now, swept.Timestamp)
	assert.NotEmpty(t, swept.EventID)
	assert.Empty(t, swept.Error)

	failed := byWorker["stuck"]
	require.NotNil(t, failed)
	assert.Equal(t, "fail", failed.Action)
	assert.Equal(t, "cam-8", failed.Stream)
	assert.Contains(t, failed.Error, "AccessDenied")
	assert.Equal(t, "TERMINATION_FAILED", failed.ErrorKind)
}

func TestSweep_NothingRecordedForOwnedTasks(t *testing.T) {
	now := time.Now()
	store := memory.NewAssignmentStore()
	store.Put("cam-1", "owned")
	supervisor := newFakeSupervisor("task")
	supervisor.addLive(&interfaces.WorkerTask{ID: "owned", StreamID: "cam-1", State: constants.TaskStateRunning, StartedAt: now.Add(-time.Hour)})

	recorder := &captureRecorder{}
	_, err := NewSweeper(store, supervisor, time.Minute, testOptions(), recorder).Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recorder.events)
}
