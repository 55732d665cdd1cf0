package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"camwatch/pkg/interfaces"
)

// ReconcileEventRepository handles reconcile event persistence in MySQL
type ReconcileEventRepository struct {
	ds *Datastore
}

// NewReconcileEventRepository creates a new reconcile event repository
func NewReconcileEventRepository(ds *Datastore) *ReconcileEventRepository {
	return &ReconcileEventRepository{ds: ds}
}

// Record stores one reconcile event (implements interfaces.EventRecorder)
func (r *ReconcileEventRepository) Record(ctx context.Context, event *interfaces.ReconcileEvent) error {
	if err := r.ds.DB(ctx).Create(fromEvent(event)).Error; err != nil {
		return fmt.Errorf("failed to record reconcile event: %w", err)
	}
	return nil
}

// ListByStream retrieves the newest events, optionally for one stream
func (r *ReconcileEventRepository) ListByStream(ctx context.Context, stream string, limit int) ([]*interfaces.ReconcileEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.ds.DB(ctx).Model(&ReconcileEvent{}).Order("timestamp DESC").Limit(limit)
	if stream != "" {
		query = query.Where("stream = ?", stream)
	}

	var rows []*ReconcileEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list reconcile events: %w", err)
	}

	events := make([]*interfaces.ReconcileEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, toEvent(row))
	}
	return events, nil
}

// DeleteOldEvents deletes events older than the specified time
func (r *ReconcileEventRepository) DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("timestamp < ?", olderThan).Delete(&ReconcileEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func fromEvent(e *interfaces.ReconcileEvent) *ReconcileEvent {
	row := &ReconcileEvent{
		EventID:      e.EventID,
		Stream:       e.Stream,
		Timestamp:    e.Timestamp,
		Action:       e.Action,
		WorkerID:     e.WorkerID,
		PrevWorkerID: e.PrevWorkerID,
		Producer:     e.Producer,
		Consumer:     e.Consumer,
		Reason:       e.Reason,
		Error:        e.Error,
		ErrorKind:    e.ErrorKind,
	}
	if row.EventID == "" {
		row.EventID = uuid.NewString()
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now()
	}
	return row
}

func toEvent(row *ReconcileEvent) *interfaces.ReconcileEvent {
	return &interfaces.ReconcileEvent{
		EventID:      row.EventID,
		Stream:       row.Stream,
		Action:       row.Action,
		WorkerID:     row.WorkerID,
		PrevWorkerID: row.PrevWorkerID,
		Producer:     row.Producer,
		Consumer:     row.Consumer,
		Reason:       row.Reason,
		Error:        row.Error,
		ErrorKind:    row.ErrorKind,
		Timestamp:    row.Timestamp,
	}
}
