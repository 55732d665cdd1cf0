package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"camwatch/pkg/interfaces"
)

// AssignmentRepository stream assignments with optimistic locking on the version column
type AssignmentRepository struct {
	ds *Datastore
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(ds *Datastore) *AssignmentRepository {
	return &AssignmentRepository{ds: ds}
}

// Get reads the assignment of a stream; a missing row is NoWorker
func (r *AssignmentRepository) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	var row StreamAssignment
	err := r.ds.DB(ctx).Where("stream_id = ?", stream).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return interfaces.Unassigned(stream), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", stream, err)
	}
	return toAssignment(&row), nil
}

// CompareAndSet inserts the first record (expectedVersion 0) or updates the row
// only while its version still equals expectedVersion
func (r *AssignmentRepository) CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*interfaces.Assignment, error) {
	now := time.Now().UTC()

	if expectedVersion == 0 {
		row := &StreamAssignment{
			StreamID:  stream,
			WorkerID:  workerID,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := r.ds.DB(ctx).Create(row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: stream %s already recorded", interfaces.ErrStoreConflict, stream)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create assignment %s: %w", stream, err)
		}
		return toAssignment(row), nil
	}

	result := casUpdate(r.ds.DB(ctx), stream, expectedVersion, workerID, now)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update assignment %s: %w", stream, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: stream %s changed since version %d", interfaces.ErrStoreConflict, stream, expectedVersion)
	}

	return &interfaces.Assignment{
		StreamID:  stream,
		WorkerID:  workerID,
		Version:   expectedVersion + 1,
		UpdatedAt: now,
	}, nil
}

func casUpdate(db *gorm.DB, stream string, expectedVersion int64, workerID string, now time.Time) *gorm.DB {
	return db.Model(&StreamAssignment{}).
		Where("stream_id = ? AND version = ?", stream, expectedVersion).
		Updates(map[string]interface{}{
			"worker_id":  workerID,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
}

// List returns every recorded assignment
func (r *AssignmentRepository) List(ctx context.Context) ([]*interfaces.Assignment, error) {
	var rows []*StreamAssignment
	if err := r.ds.DB(ctx).Order("stream_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	out := make([]*interfaces.Assignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAssignment(row))
	}
	return out, nil
}

func toAssignment(row *StreamAssignment) *interfaces.Assignment {
	return &interfaces.Assignment{
		StreamID:  row.StreamID,
		WorkerID:  row.WorkerID,
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}
}
