package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/status"
)

// DefaultGracePeriod tasks younger than this are never swept, so a task whose
// start is still being recorded survives.
const DefaultGracePeriod = 5 * time.Minute

// Sweeper terminates live tasks that no assignment references. Such tasks are
// left behind when a start succeeds but the assignment write never lands.
type Sweeper struct {
	store       interfaces.AssignmentStore
	supervisor  interfaces.TaskSupervisor
	gracePeriod time.Duration
	recorders   []interfaces.EventRecorder
	opts        Options
}

// NewSweeper creates an orphan sweeper. Every terminated orphan and every
// failed stop is handed to the recorders.
func NewSweeper(
	store interfaces.AssignmentStore,
	supervisor interfaces.TaskSupervisor,
	gracePeriod time.Duration,
	opts Options,
	recorders ...interfaces.EventRecorder,
) *Sweeper {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Sweeper{
		store:       store,
		supervisor:  supervisor,
		gracePeriod: gracePeriod,
		recorders:   recorders,
		opts:        opts.withDefaults(),
	}
}

// Sweep runs one pass. Listing failures abort the pass; individual stop
// failures are reported and retried on the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	now := s.opts.Now()
	report := &SweepReport{StartedAt: now}

	var tasks []*interfaces.WorkerTask
	err := callWithRetry(ctx, s.opts.CallTimeout, s.opts.MaxRetries, s.opts.RetryBackoff, func(ctx context.Context) error {
		var err error
		tasks, err = s.supervisor.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	// read assignments after tasks so a task recorded in between is seen as owned
	var assignments []*interfaces.Assignment
	err = callWithRetry(ctx, s.opts.CallTimeout, s.opts.MaxRetries, s.opts.RetryBackoff, func(ctx context.Context) error {
		var err error
		assignments, err = s.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	owned := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if a.HasWorker() {
			owned[a.WorkerID] = struct{}{}
		}
	}

	for _, task := range tasks {
		if task == nil || !task.State.Live() {
			continue
		}
		report.Tasks++

		if _, ok := owned[task.ID]; ok {
			report.Owned++
			continue
		}
		if task.StartedAt.IsZero() || now.Sub(task.StartedAt) < s.gracePeriod {
			report.Young++
			continue
		}

		logger.WarnCtx(ctx, "stopping orphaned worker %s (stream %s, started %s)",
			task.ID, task.StreamID, task.StartedAt.Format(time.RFC3339))
		err := callWithRetry(ctx, s.opts.CallTimeout, s.opts.MaxRetries, s.opts.RetryBackoff, func(ctx context.Context) error {
			return s.supervisor.Stop(ctx, task.ID)
		})
		if err != nil {
			logger.ErrorCtx(ctx, "failed to stop orphaned worker %s: %v", task.ID, err)
			report.Failed = append(report.Failed, task.ID)
			s.record(ctx, task, constants.ActionFail, "orphan stop failed", err)
			continue
		}
		report.Terminated = append(report.Terminated, task.ID)
		s.record(ctx, task, constants.ActionSweep, "orphaned worker stopped", nil)
	}

	report.FinishedAt = s.opts.Now()
	logger.InfoCtx(ctx, "orphan sweep done: tasks=%d, owned=%d, young=%d, terminated=%d, failed=%d",
		report.Tasks, report.Owned, report.Young, len(report.Terminated), len(report.Failed))
	return report, nil
}

func (s *Sweeper) record(ctx context.Context, task *interfaces.WorkerTask, action constants.Action, reason string, err error) {
	if len(s.recorders) == 0 {
		return
	}
	event := &interfaces.ReconcileEvent{
		EventID:   uuid.NewString(),
		Stream:    task.StreamID,
		Action:    action.String(),
		WorkerID:  task.ID,
		Reason:    reason,
		Timestamp: s.opts.Now(),
	}
	if err != nil {
		event.Error = err.Error()
		event.ErrorKind = string(status.Classify(err))
	}
	recordEvent(ctx, s.recorders, s.opts.CallTimeout, event)
}
