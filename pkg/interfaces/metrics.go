package interfaces

import (
	"context"
	"fmt"
	"time"
)

// ByteCount a byte counter that distinguishes "no data point" from a real zero
type ByteCount struct {
	Value float64 `json:"value"`
	Known bool    `json:"known"`
}

// Bytes returns a known byte count
func Bytes(v float64) ByteCount {
	return ByteCount{Value: v, Known: true}
}

// UnknownBytes is the value reported when the window holds no data point
var UnknownBytes = ByteCount{}

// Positive reports whether the count is known and greater than zero
func (b ByteCount) Positive() bool {
	return b.Known && b.Value > 0
}

func (b ByteCount) String() string {
	if !b.Known {
		return "unknown"
	}
	return fmt.Sprintf("%.0f", b.Value)
}

// TimeWindow trailing query window
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MetricSample producer/consumer byte counts of one stream over one window.
// Recomputed every cycle, never persisted.
type MetricSample struct {
	Stream   string     `json:"stream"`
	Producer ByteCount  `json:"producer"`
	Consumer ByteCount  `json:"consumer"`
	Window   TimeWindow `json:"window"`
}

// Complete reports whether both counters carry data
func (s *MetricSample) Complete() bool {
	return s != nil && s.Producer.Known && s.Consumer.Known
}

// MetricSource reads ingress/egress byte counts for a stream
type MetricSource interface {
	// Sample returns the counters for stream over window.
	// Backend failures are returned wrapped in ErrMetricUnavailable.
	Sample(ctx context.Context, stream string, window TimeWindow) (*MetricSample, error)
}
