package streammetrics

import (
	"time"

	"camwatch/pkg/interfaces"
)

const (
	DefaultWindowLength = 2 * time.Minute
	DefaultLag          = time.Minute
)

// DefaultWindow two minutes ending one minute before now, to tolerate ingestion lag
func DefaultWindow(now time.Time) interfaces.TimeWindow {
	return NewWindowFunc(DefaultWindowLength, DefaultLag)(now)
}

// NewWindowFunc returns a trailing window of the given length ending lag before now.
// Window bounds are truncated to whole seconds.
func NewWindowFunc(length, lag time.Duration) func(now time.Time) interfaces.TimeWindow {
	if length <= 0 {
		length = DefaultWindowLength
	}
	if lag < 0 {
		lag = 0
	}
	return func(now time.Time) interfaces.TimeWindow {
		end := now.Add(-lag).Truncate(time.Second)
		return interfaces.TimeWindow{Start: end.Add(-length), End: end}
	}
}
