package interfaces

import (
	"context"
	"time"

	"camwatch/pkg/constants"
)

// Assignment durable record of which worker (if any) serves a stream
type Assignment struct {
	StreamID  string    `json:"streamId"`
	WorkerID  string    `json:"workerId"`
	Version   int64     `json:"version"` // Optimistic concurrency token, 0 means no record
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Unassigned returns the assignment of a stream with no record
func Unassigned(stream string) *Assignment {
	return &Assignment{StreamID: stream, WorkerID: constants.NoWorker}
}

// HasWorker reports whether a task currently serves the stream
func (a *Assignment) HasWorker() bool {
	return a != nil && IsWorker(a.WorkerID)
}

// IsWorker reports whether id names a task rather than the sentinel
func IsWorker(id string) bool {
	return id != "" && id != constants.NoWorker
}

// AssignmentStore the single source of truth for "is this stream currently served"
type AssignmentStore interface {
	// Get reads the current assignment; an absent key yields NoWorker with Version 0
	Get(ctx context.Context, stream string) (*Assignment, error)

	// CompareAndSet writes workerID only if the stored version still equals
	// expectedVersion (0 = record must not exist). Returns ErrStoreConflict otherwise.
	CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*Assignment, error)

	// List returns every assignment record
	List(ctx context.Context) ([]*Assignment, error)
}
