package mysql

import (
	"context"

	"camwatch/pkg/config"
)

// Repository groups the MySQL repositories over one connection pool
type Repository struct {
	ds *Datastore

	Assignment     *AssignmentRepository
	ReconcileEvent *ReconcileEventRepository
}

// NewRepository connects and builds every repository
func NewRepository(cfg config.MySQLConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}
	return newRepository(ds), nil
}

func newRepository(ds *Datastore) *Repository {
	return &Repository{
		ds:             ds,
		Assignment:     NewAssignmentRepository(ds),
		ReconcileEvent: NewReconcileEventRepository(ds),
	}
}

// Migrate creates or updates stream_assignments and reconcile_events
func (r *Repository) Migrate(ctx context.Context) error {
	return r.ds.DB(ctx).AutoMigrate(allModels...)
}

// Ping checks the connection (readiness probe)
func (r *Repository) Ping(ctx context.Context) error {
	return r.ds.Ping(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
