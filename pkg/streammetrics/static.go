package streammetrics

import (
	"context"
	"sync"

	"camwatch/pkg/config"
	"camwatch/pkg/interfaces"
)

// StaticSource serves fixed counters, for local runs without CloudWatch.
// Streams missing from the table are unknown.
type StaticSource struct {
	mu      sync.RWMutex
	samples map[string]config.StaticSample
}

// NewStaticSource creates a static source from config
func NewStaticSource(samples map[string]config.StaticSample) *StaticSource {
	cp := make(map[string]config.StaticSample, len(samples))
	for k, v := range samples {
		cp[k] = v
	}
	return &StaticSource{samples: cp}
}

// Set replaces the counters of a stream; nil means unknown
func (s *StaticSource) Set(stream string, producer, consumer *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[stream] = config.StaticSample{Producer: producer, Consumer: consumer}
}

// Sample returns the configured counters
func (s *StaticSource) Sample(ctx context.Context, stream string, window interfaces.TimeWindow) (*interfaces.MetricSample, error) {
	s.mu.RLock()
	cfg := s.samples[stream]
	s.mu.RUnlock()

	return &interfaces.MetricSample{
		Stream:   stream,
		Producer: toByteCount(cfg.Producer),
		Consumer: toByteCount(cfg.Consumer),
		Window:   window,
	}, nil
}

func toByteCount(v *float64) interfaces.ByteCount {
	if v == nil {
		return interfaces.UnknownBytes
	}
	return interfaces.Bytes(*v)
}
