package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/status"
)

// Reconciler maps every active stream to at most one worker task
type Reconciler struct {
	registry   interfaces.StreamRegistry
	metrics    interfaces.MetricSource
	store      interfaces.AssignmentStore
	supervisor interfaces.TaskSupervisor
	recorders  []interfaces.EventRecorder
	opts       Options
}

// New creates a reconciler from explicitly constructed collaborators
func New(
	registry interfaces.StreamRegistry,
	metrics interfaces.MetricSource,
	store interfaces.AssignmentStore,
	supervisor interfaces.TaskSupervisor,
	opts Options,
	recorders ...interfaces.EventRecorder,
) *Reconciler {
	return &Reconciler{
		registry:   registry,
		metrics:    metrics,
		store:      store,
		supervisor: supervisor,
		recorders:  recorders,
		opts:       opts.withDefaults(),
	}
}

// Reconcile runs one full cycle. Only an unavailable stream registry is fatal;
// every per-stream failure is recorded in the report.
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	cycleID := uuid.NewString()
	ctx = logger.WithTrace(ctx, cycleID[:8])

	report := &Report{CycleID: cycleID, StartedAt: r.opts.Now()}

	var streams []*interfaces.Stream
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		streams, err = r.registry.ListStreams(ctx)
		return err
	})
	if err != nil {
		report.FinishedAt = r.opts.Now()
		if !errors.Is(err, interfaces.ErrRegistryUnavailable) {
			err = fmt.Errorf("%w: %v", interfaces.ErrRegistryUnavailable, err)
		}
		report.Error = err.Error()
		logger.ErrorCtx(ctx, "reconcile cycle aborted: %v", err)
		return report, err
	}

	names := uniqueNames(streams)
	report.Streams = len(names)
	window := r.opts.Window(report.StartedAt)

	logger.DebugCtx(ctx, "reconciling %d streams, window %s - %s",
		len(names), window.Start.Format("15:04:05"), window.End.Format("15:04:05"))

	outcomes := make([]StreamOutcome, len(names))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = r.reconcileStream(ctx, name, window)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		report.add(o)
	}
	report.FinishedAt = r.opts.Now()

	logger.InfoCtx(ctx, "reconcile cycle done: streams=%d, started=%d, stopped=%d, skipped=%d, failed=%d, conflicts=%d, unchanged=%d",
		report.Streams, report.Started, report.Stopped, report.Skipped, report.Failed, report.Conflicts, report.Unchanged)
	return report, nil
}

func (r *Reconciler) reconcileStream(ctx context.Context, stream string, window interfaces.TimeWindow) StreamOutcome {
	out := StreamOutcome{Stream: stream}

	if err := ctx.Err(); err != nil {
		return r.fail(ctx, out, "cycle cancelled", err)
	}

	var sample *interfaces.MetricSample
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		sample, err = r.metrics.Sample(ctx, stream, window)
		return err
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrMetricUnavailable) {
			logger.WarnCtx(ctx, "skip stream %s: %v", stream, err)
			return r.skip(ctx, out, "metrics unavailable", err)
		}
		return r.fail(ctx, out, "metric fetch failed", err)
	}

	out.Producer = sample.Producer
	out.Consumer = sample.Consumer
	if !sample.Complete() {
		logger.InfoCtx(ctx, "skip stream %s: producer=%s, consumer=%s", stream, sample.Producer, sample.Consumer)
		return r.skip(ctx, out, "incomplete metrics", nil)
	}

	var current *interfaces.Assignment
	err = r.call(ctx, func(ctx context.Context) error {
		var err error
		current, err = r.store.Get(ctx, stream)
		return err
	})
	if err != nil {
		return r.fail(ctx, out, "assignment read failed", err)
	}
	out.PrevID = current.WorkerID

	switch decide(current, sample) {
	case decisionStart:
		return r.start(ctx, out, current)
	case decisionStop:
		return r.stop(ctx, out, current)
	default:
		out.Action = constants.ActionNone
		out.WorkerID = current.WorkerID
		logger.DebugCtx(ctx, "stream %s unchanged: worker=%s, producer=%s, consumer=%s",
			stream, current.WorkerID, sample.Producer, sample.Consumer)
		return out
	}
}

// start launches a task and records it. A lost CAS stops the fresh task again.
func (r *Reconciler) start(ctx context.Context, out StreamOutcome, current *interfaces.Assignment) StreamOutcome {
	stream := out.Stream

	var task *interfaces.WorkerTask
	err := r.callOnce(ctx, func(ctx context.Context) error {
		var err error
		task, err = r.supervisor.Start(ctx, stream)
		return err
	})
	if err != nil {
		return r.fail(ctx, out, "start failed", err)
	}
	out.WorkerID = task.ID
	logger.InfoCtx(ctx, "started worker %s for stream %s (producer=%s)", task.ID, stream, out.Producer)

	err = r.call(ctx, func(ctx context.Context) error {
		_, err := r.store.CompareAndSet(ctx, stream, current.Version, task.ID)
		return err
	})
	if err == nil {
		out.Action = constants.ActionStart
		r.record(ctx, out)
		return out
	}

	// The write may have landed before a timeout; trust the store over the error.
	after, readErr := r.reread(ctx, stream)
	if readErr == nil && after.WorkerID == task.ID {
		out.Action = constants.ActionStart
		r.record(ctx, out)
		return out
	}
	if readErr != nil {
		logger.ErrorCtx(ctx, "worker %s for stream %s not recorded and store unreadable, left for sweeper: %v", task.ID, stream, readErr)
		return r.fail(ctx, out, "assignment write failed", err)
	}

	logger.WarnCtx(ctx, "stream %s now assigned to %s, stopping duplicate worker %s", stream, after.WorkerID, task.ID)
	if stopErr := r.call(ctx, func(ctx context.Context) error {
		return r.supervisor.Stop(ctx, task.ID)
	}); stopErr != nil {
		logger.ErrorCtx(ctx, "failed to stop duplicate worker %s: %v", task.ID, stopErr)
	}

	if errors.Is(err, interfaces.ErrStoreConflict) {
		return r.conflict(ctx, out, after.WorkerID, err)
	}
	return r.fail(ctx, out, "assignment write failed", err)
}

// stop terminates the assigned task and clears the assignment.
// A failed stop leaves the assignment untouched for the next cycle.
func (r *Reconciler) stop(ctx context.Context, out StreamOutcome, current *interfaces.Assignment) StreamOutcome {
	stream := out.Stream
	worker := current.WorkerID

	err := r.call(ctx, func(ctx context.Context) error {
		return r.supervisor.Stop(ctx, worker)
	})
	if err != nil {
		out.WorkerID = worker
		return r.fail(ctx, out, "stop failed", err)
	}
	logger.InfoCtx(ctx, "stopped worker %s of idle stream %s (consumer=%s)", worker, stream, out.Consumer)

	out.WorkerID = constants.NoWorker
	err = r.call(ctx, func(ctx context.Context) error {
		_, err := r.store.CompareAndSet(ctx, stream, current.Version, constants.NoWorker)
		return err
	})
	if err == nil {
		out.Action = constants.ActionStop
		r.record(ctx, out)
		return out
	}

	after, readErr := r.reread(ctx, stream)
	if readErr == nil && !after.HasWorker() {
		out.Action = constants.ActionStop
		r.record(ctx, out)
		return out
	}
	if readErr == nil && errors.Is(err, interfaces.ErrStoreConflict) {
		return r.conflict(ctx, out, after.WorkerID, err)
	}
	return r.fail(ctx, out, "assignment clear failed", err)
}

// reread fetches the assignment after a CAS whose result is in doubt
func (r *Reconciler) reread(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	var after *interfaces.Assignment
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		after, err = r.store.Get(ctx, stream)
		return err
	})
	return after, err
}

func (r *Reconciler) skip(ctx context.Context, out StreamOutcome, reason string, err error) StreamOutcome {
	out.Action = constants.ActionSkip
	out.Reason = reason
	out.Err = err
	r.record(ctx, out)
	return out
}

func (r *Reconciler) fail(ctx context.Context, out StreamOutcome, reason string, err error) StreamOutcome {
	out.Action = constants.ActionFail
	out.Reason = reason
	out.Err = err
	logger.ErrorCtx(ctx, "stream %s: %s: %v", out.Stream, reason, err)
	r.record(ctx, out)
	return out
}

func (r *Reconciler) conflict(ctx context.Context, out StreamOutcome, winner string, err error) StreamOutcome {
	out.Action = constants.ActionConflict
	out.Reason = fmt.Sprintf("concurrent writer recorded %s", winner)
	out.Err = err
	logger.WarnCtx(ctx, "stream %s: %s", out.Stream, out.Reason)
	r.record(ctx, out)
	return out
}

func (r *Reconciler) record(ctx context.Context, out StreamOutcome) {
	if len(r.recorders) == 0 {
		return
	}
	event := newEvent(out)
	event.Timestamp = r.opts.Now()
	recordEvent(ctx, r.recorders, r.opts.CallTimeout, event)
}

// recordEvent hands event to every recorder, each bounded by timeout.
// Recorder failures never change the outcome.
func recordEvent(ctx context.Context, recorders []interfaces.EventRecorder, timeout time.Duration, event *interfaces.ReconcileEvent) {
	for _, rec := range recorders {
		recCtx, cancel := context.WithTimeout(ctx, timeout)
		err := rec.Record(recCtx, event)
		cancel()
		if err != nil {
			logger.WarnCtx(ctx, "failed to record %s event for stream %s: %v", event.Action, event.Stream, err)
		}
	}
}

func newEvent(out StreamOutcome) *interfaces.ReconcileEvent {
	event := &interfaces.ReconcileEvent{
		EventID:      uuid.NewString(),
		Stream:       out.Stream,
		Action:       out.Action.String(),
		WorkerID:     out.WorkerID,
		PrevWorkerID: out.PrevID,
		Producer:     out.Producer.String(),
		Consumer:     out.Consumer.String(),
		Reason:       out.Reason,
	}
	if out.Err != nil {
		event.Error = out.Err.Error()
		event.ErrorKind = string(status.Classify(out.Err))
	}
	return event
}

// uniqueNames collapses duplicate registry entries, keeping first-seen order
func uniqueNames(streams []*interfaces.Stream) []string {
	seen := make(map[string]struct{}, len(streams))
	names := make([]string, 0, len(streams))
	for _, s := range streams {
		if s == nil || s.Name == "" {
			continue
		}
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}
		names = append(names, s.Name)
	}
	return names
}
