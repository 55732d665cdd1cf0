package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"camwatch/pkg/interfaces"
)

// record KV value; the version is the entry revision, not stored in the value
type record struct {
	StreamID  string    `json:"streamId"`
	WorkerID  string    `json:"workerId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssignmentKV assignment store on a JetStream KV bucket. Revisions act as the
// CAS token: Create for a new key, Update against the last seen revision.
type AssignmentKV struct {
	kv jetstream.KeyValue
}

// NewAssignmentKV creates a KV-backed assignment store
func NewAssignmentKV(kv jetstream.KeyValue) *AssignmentKV {
	return &AssignmentKV{kv: kv}
}

// Get reads the latest entry of a stream
func (s *AssignmentKV) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	entry, err := s.kv.Get(ctx, stream)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return interfaces.Unassigned(stream), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", stream, err)
	}
	return decodeEntry(entry)
}

// CompareAndSet writes the entry if the key is still at expectedVersion
func (s *AssignmentKV) CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*interfaces.Assignment, error) {
	now := time.Now().UTC()
	data, err := json.Marshal(record{StreamID: stream, WorkerID: workerID, UpdatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment: %w", err)
	}

	var revision uint64
	if expectedVersion == 0 {
		revision, err = s.kv.Create(ctx, stream, data)
	} else {
		revision, err = s.kv.Update(ctx, stream, data, uint64(expectedVersion))
	}
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("%w: stream %s changed since revision %d", interfaces.ErrStoreConflict, stream, expectedVersion)
		}
		return nil, fmt.Errorf("failed to set assignment %s: %w", stream, err)
	}

	return &interfaces.Assignment{StreamID: stream, WorkerID: workerID, Version: int64(revision), UpdatedAt: now}, nil
}

// List reads every key in the bucket
func (s *AssignmentKV) List(ctx context.Context) ([]*interfaces.Assignment, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignment keys: %w", err)
	}
	defer lister.Stop()

	var out []*interfaces.Assignment
	for key := range lister.Keys() {
		a, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func decodeEntry(entry jetstream.KeyValueEntry) (*interfaces.Assignment, error) {
	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode assignment %s: %w", entry.Key(), err)
	}
	if rec.StreamID == "" {
		rec.StreamID = entry.Key()
	}
	return &interfaces.Assignment{
		StreamID:  rec.StreamID,
		WorkerID:  rec.WorkerID,
		Version:   int64(entry.Revision()),
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
