package interfaces

import (
	"context"
	"time"
)

// Stream a camera's live video ingest channel
type Stream struct {
	Name      string    `json:"name"`
	ARN       string    `json:"arn,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// StreamRegistry enumerates the currently known streams
type StreamRegistry interface {
	ListStreams(ctx context.Context) ([]*Stream, error)
}
