package constants

// Worker task state constants
type TaskState string

const (
	TaskStateProvisioning TaskState = "PROVISIONING" // Accepted by the platform, capacity being allocated
	TaskStatePending      TaskState = "PENDING"      // Scheduled, container not yet running
	TaskStateRunning      TaskState = "RUNNING"      // Consuming the stream
	TaskStateStopping     TaskState = "STOPPING"     // Termination requested
	TaskStateStopped      TaskState = "STOPPED"      // Gone
	TaskStateUnknown      TaskState = "UNKNOWN"
)

func (s TaskState) String() string {
	return string(s)
}

// Live reports whether the platform has accepted the task and not yet stopped it.
func (s TaskState) Live() bool {
	switch s {
	case TaskStateProvisioning, TaskStatePending, TaskStateRunning:
		return true
	default:
		return false
	}
}

// NoWorker is the sentinel stored for a stream that no task serves.
const NoWorker = "NoWorker"

// Tagging used to bind a task to its stream by convention
const (
	StartedBy     = "camwatch"
	TagStream     = "camwatch/stream"
	EnvStreamName = "STREAM_NAME"
)
