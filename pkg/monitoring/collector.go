package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/reconciler"
)

const namespace = "camwatch"

// scrapeTimeout bounds the assignment listing done on each scrape
const scrapeTimeout = 5 * time.Second

// Collector exports reconcile cycles as Prometheus metrics
type Collector struct {
	registry *prometheus.Registry
	store    interfaces.AssignmentStore

	cycles   prometheus.Counter
	errors   prometheus.Counter
	actions  *prometheus.CounterVec
	duration prometheus.Histogram
	assigned prometheus.Gauge
	sweeps   prometheus.Counter
	swept    *prometheus.CounterVec
}

var _ reconciler.ReportObserver = (*Collector)(nil)

// NewCollector creates and registers the metrics. store may be nil, in which
// case camwatch_assigned_streams is never refreshed.
func NewCollector(store interfaces.AssignmentStore) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		store:    store,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycles_total",
			Help:      "Total number of reconcile cycles completed.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_cycle_errors_total",
			Help:      "Cycles aborted because the stream registry was unavailable.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Per-stream outcomes by action.",
		}, []string{"action"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall time of a reconcile cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		assigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assigned_streams",
			Help:      "Streams currently assigned to a worker.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Total number of orphan sweeps completed.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_tasks_total",
			Help:      "Orphan tasks handled by the sweeper by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.cycles,
		c.errors,
		c.actions,
		c.duration,
		c.assigned,
		c.sweeps,
		c.swept,
		prometheus.NewGoCollector(),
	)

	// pre-create the label values so every series exists from the first scrape
	for _, a := range []constants.Action{
		constants.ActionStart, constants.ActionStop, constants.ActionNone,
		constants.ActionSkip, constants.ActionFail, constants.ActionConflict,
	} {
		c.actions.WithLabelValues(a.String())
	}
	return c
}

// ObserveReport implements reconciler.ReportObserver
func (c *Collector) ObserveReport(report *reconciler.Report) {
	if report == nil {
		return
	}
	if report.Error != "" {
		c.errors.Inc()
		return
	}

	c.cycles.Inc()
	c.duration.Observe(report.Duration().Seconds())
	for _, o := range report.Outcomes {
		c.actions.WithLabelValues(o.Action.String()).Inc()
	}
}

// ObserveSweep implements reconciler.ReportObserver
func (c *Collector) ObserveSweep(report *reconciler.SweepReport) {
	if report == nil {
		return
	}
	c.sweeps.Inc()
	c.swept.WithLabelValues("terminated").Add(float64(len(report.Terminated)))
	c.swept.WithLabelValues("failed").Add(float64(len(report.Failed)))
}

// RefreshAssigned recounts streams with a live assignment
func (c *Collector) RefreshAssigned(ctx context.Context) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	list, err := c.store.List(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "failed to list assignments for metrics: %v", err)
		return
	}
	n := 0
	for _, a := range list {
		if a.HasWorker() {
			n++
		}
	}
	c.assigned.Set(float64(n))
}

// Registry the underlying registry (tests and custom exporters)
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics, refreshing the assignment gauge before each scrape
func (c *Collector) Handler() http.Handler {
	inner := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.RefreshAssigned(r.Context())
		inner.ServeHTTP(w, r)
	})
}
