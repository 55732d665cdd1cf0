package interfaces

import "errors"

// Error taxonomy shared by all collaborators. Backends wrap these with
// fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	// ErrMetricUnavailable the metric backend failed for this query; retryable, never a zero
	ErrMetricUnavailable = errors.New("metric unavailable")

	// ErrLaunchFailed the platform rejected a task launch
	ErrLaunchFailed = errors.New("launch failed")

	// ErrTerminationFailed the platform did not acknowledge a stop request
	ErrTerminationFailed = errors.New("termination failed")

	// ErrStoreConflict a conditional write lost against a concurrent writer
	ErrStoreConflict = errors.New("assignment store conflict")

	// ErrRegistryUnavailable the stream registry could not be listed
	ErrRegistryUnavailable = errors.New("stream registry unavailable")
)
