package constants

// K8s label and annotation keys
const (
	LabelManagedBy   = "app.kubernetes.io/managed-by" // Manager identifier
	LabelComponent   = "app.kubernetes.io/component"  // Component type
	LabelStream      = "camwatch.io/stream"           // Sanitized stream id
	AnnotationStream = "camwatch.io/stream-name"      // Raw stream id

	ManagedByCamwatch = "camwatch"
	ComponentWorker   = "frame-parser"
)

// Pod phase constants (from K8s)
const (
	PodPhaseRunning   = "Running"
	PodPhasePending   = "Pending"
	PodPhaseSucceeded = "Succeeded"
	PodPhaseFailed    = "Failed"
	PodPhaseUnknown   = "Unknown"
)
