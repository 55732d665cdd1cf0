package reconciler

import (
	"time"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
)

// Options reconciler tuning
type Options struct {
	Concurrency  int                                       // streams reconciled in parallel (default 1)
	CallTimeout  time.Duration                             // per external call (default 5s)
	MaxRetries   int                                       // transient-error retries per call (default 2)
	RetryBackoff time.Duration                             // first retry delay, doubled each step (default 200ms)
	Window       func(now time.Time) interfaces.TimeWindow // metric window for a cycle starting at now
	Now          func() time.Time
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 5 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 200 * time.Millisecond
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Window == nil {
		out.Window = func(now time.Time) interfaces.TimeWindow {
			return interfaces.TimeWindow{Start: now.Add(-3 * time.Minute), End: now.Add(-time.Minute)}
		}
	}
	return out
}

// StreamOutcome what happened to one stream during a cycle
type StreamOutcome struct {
	Stream   string               `json:"stream"`
	Action   constants.Action     `json:"action"`
	WorkerID string               `json:"workerId,omitempty"`
	PrevID   string               `json:"prevWorkerId,omitempty"`
	Producer interfaces.ByteCount `json:"producer"`
	Consumer interfaces.ByteCount `json:"consumer"`
	Reason   string               `json:"reason,omitempty"`
	Err      error                `json:"-"`
	Error    string               `json:"error,omitempty"`
}

// Report result of one reconciliation cycle
type Report struct {
	CycleID    string          `json:"cycleId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Streams    int             `json:"streams"`
	Started    int             `json:"started"`
	Stopped    int             `json:"stopped"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Conflicts  int             `json:"conflicts"`
	Unchanged  int             `json:"unchanged"`
	Outcomes   []StreamOutcome `json:"outcomes"`
	Error      string          `json:"error,omitempty"` // set when the cycle aborted
}

func (r *Report) add(o StreamOutcome) {
	if o.Err != nil {
		o.Error = o.Err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)
	switch o.Action {
	case constants.ActionStart:
		r.Started++
	case constants.ActionStop:
		r.Stopped++
	case constants.ActionSkip:
		r.Skipped++
	case constants.ActionFail:
		r.Failed++
	case constants.ActionConflict:
		r.Conflicts++
	default:
		r.Unchanged++
	}
}

// Duration cycle wall time
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SweepReport result of one orphan sweep
type SweepReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Tasks      int       `json:"tasks"`
	Owned      int       `json:"owned"`
	Young      int       `json:"young"`
	Terminated []string  `json:"terminated"`
	Failed     []string  `json:"failed"`
}

// Status reconciler status (for monitoring and display)
type Status struct {
	Enabled     bool         `json:"enabled"`
	LastRunTime time.Time    `json:"lastRunTime"`
	LastReport  *Report      `json:"lastReport,omitempty"`
	LastSweep   *SweepReport `json:"lastSweep,omitempty"`
}

// ReportObserver receives every finished cycle (metrics exporters)
type ReportObserver interface {
	ObserveReport(report *Report)
	ObserveSweep(report *SweepReport)
}
