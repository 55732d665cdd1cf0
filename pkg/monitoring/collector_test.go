package monitoring

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camwatch/pkg/constants"
	"camwatch/pkg/reconciler"
	"camwatch/pkg/store/memory"
)

func sampleReport() *reconciler.Report {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &reconciler.Report{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcomes: []reconciler.StreamOutcome{
			{Stream: "cam-1", Action: constants.ActionStart},
			{Stream: "cam-2", Action: constants.ActionStop},
			{Stream: "cam-3", Action: constants.ActionSkip},
			{Stream: "cam-4", Action: constants.ActionStart},
		},
	}
}

func TestObserveReport(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveReport(sampleReport())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.actions.WithLabelValues("start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("skip")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.actions.WithLabelValues("fail")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestObserveAbortedReport(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveReport(&reconciler.Report{Error: "registry unavailable"})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors))
}

func TestObserveSweep(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveSweep(&reconciler.SweepReport{Terminated: []string{"a", "b"}, Failed: []string{"c"}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweeps))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.swept.WithLabelValues("terminated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.swept.WithLabelValues("failed")))
}

func TestHandlerRefreshesAssignedGauge(t *testing.T) {
	store := memory.NewAssignmentStore()
	store.Put("cam-1", "task-1")
	store.Put("cam-2", "task-2")
	store.Put("cam-3", constants.NoWorker)

	c := NewCollector(store)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "camwatch_assigned_streams 2"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.assigned))
}

func TestRefreshAssignedWithoutStore(t *testing.T) {
	c := NewCollector(nil)
	c.RefreshAssigned(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(c.assigned))
}
