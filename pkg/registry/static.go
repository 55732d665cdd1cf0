package registry

import (
	"context"

	"camwatch/pkg/interfaces"
)

// StaticRegistry a fixed stream list from config
type StaticRegistry struct {
	names []string
}

// NewStaticRegistry creates a static registry
func NewStaticRegistry(names []string) *StaticRegistry {
	return &StaticRegistry{names: append([]string(nil), names...)}
}

// ListStreams returns the configured streams
func (r *StaticRegistry) ListStreams(ctx context.Context) ([]*interfaces.Stream, error) {
	out := make([]*interfaces.Stream, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, &interfaces.Stream{Name: n})
	}
	return out, nil
}
