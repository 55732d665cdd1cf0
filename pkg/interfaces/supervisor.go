package interfaces

import (
	"context"
	"time"

	"camwatch/pkg/constants"
)

// WorkerTask an ephemeral compute unit bound by convention to one stream
type WorkerTask struct {
	ID        string              `json:"id"`
	StreamID  string              `json:"streamId"`
	State     constants.TaskState `json:"state"`
	StartedAt time.Time           `json:"startedAt,omitempty"`
}

// TaskSupervisor starts and stops worker tasks on a compute platform
type TaskSupervisor interface {
	// Start launches exactly one task for stream. It returns once the task is
	// Provisioning or later and never retries on its own; rejections wrap ErrLaunchFailed.
	Start(ctx context.Context, stream string) (*WorkerTask, error)

	// Stop requests termination; an unacknowledged request wraps ErrTerminationFailed.
	// Stopping a task that no longer exists succeeds.
	Stop(ctx context.Context, workerID string) error

	// List returns the live tasks this controller created
	List(ctx context.Context) ([]*WorkerTask, error)
}
