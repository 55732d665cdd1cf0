package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"camwatch/pkg/interfaces"
)

// AssignmentStore in-process assignment store for local runs and tests
type AssignmentStore struct {
	mu      sync.Mutex
	records map[string]interfaces.Assignment
	now     func() time.Time
}

// NewAssignmentStore creates an empty store
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{
		records: make(map[string]interfaces.Assignment),
		now:     time.Now,
	}
}

// Get returns the stored assignment or NoWorker with version 0
func (s *AssignmentStore) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[stream]
	if !ok {
		return interfaces.Unassigned(stream), nil
	}
	return &rec, nil
}

// CompareAndSet writes workerID if the stored version equals expectedVersion
func (s *AssignmentStore) CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*interfaces.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if rec, ok := s.records[stream]; ok {
		current = rec.Version
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: stream %s at version %d, expected %d",
			interfaces.ErrStoreConflict, stream, current, expectedVersion)
	}

	rec := interfaces.Assignment{
		StreamID:  stream,
		WorkerID:  workerID,
		Version:   current + 1,
		UpdatedAt: s.now(),
	}
	s.records[stream] = rec
	return &rec, nil
}

// List returns every record ordered by stream id
func (s *AssignmentStore) List(ctx context.Context) ([]*interfaces.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*interfaces.Assignment, 0, len(s.records))
	for _, rec := range s.records {
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// Put seeds a record unconditionally, bumping its version. Test fixtures only.
func (s *AssignmentStore) Put(stream, workerID string) *interfaces.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := interfaces.Assignment{
		StreamID:  stream,
		WorkerID:  workerID,
		Version:   s.records[stream].Version + 1,
		UpdatedAt: s.now(),
	}
	s.records[stream] = rec
	return &rec
}
