// Package status turns backend error text into operator-facing messages and
// strips account and cluster identifiers before events leave the process.
package status

import (
	"errors"
	"regexp"
	"strings"

	"camwatch/pkg/interfaces"
)

// FailureKind which collaborator failed
type FailureKind string

const (
	FailureLaunch      FailureKind = "LAUNCH_FAILED"
	FailureTermination FailureKind = "TERMINATION_FAILED"
	FailureConflict    FailureKind = "STORE_CONFLICT"
	FailureMetrics     FailureKind = "METRIC_UNAVAILABLE"
	FailureRegistry    FailureKind = "REGISTRY_UNAVAILABLE"
	FailureUnknown     FailureKind = "UNKNOWN"
)

// Classify maps an error onto a FailureKind using the collaborator sentinels
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, interfaces.ErrLaunchFailed):
		return FailureLaunch
	case errors.Is(err, interfaces.ErrTerminationFailed):
		return FailureTermination
	case errors.Is(err, interfaces.ErrStoreConflict):
		return FailureConflict
	case errors.Is(err, interfaces.ErrMetricUnavailable):
		return FailureMetrics
	case errors.Is(err, interfaces.ErrRegistryUnavailable):
		return FailureRegistry
	default:
		return FailureUnknown
	}
}

// SanitizedError an operator-facing message with a suggestion
type SanitizedError struct {
	UserMessage string `json:"userMessage"`
	Suggestion  string `json:"suggestion"`
	ErrorCode   string `json:"errorCode"`
}

// reasonMapping matches a substring of the backend error text
type reasonMapping struct {
	Reason    string
	Sanitized SanitizedError
}

// launchErrorMappings ECS RunTask failure reasons and pod create rejections,
// matched in order
var launchErrorMappings = []reasonMapping{
	{"RESOURCE:MEMORY", SanitizedError{
		UserMessage: "Cluster has no memory for another worker",
		Suggestion:  "Add capacity or lower the task memory reservation",
		ErrorCode:   "LAUNCH_NO_MEMORY",
	}},
	{"RESOURCE:CPU", SanitizedError{
		UserMessage: "Cluster has no CPU for another worker",
		Suggestion:  "Add capacity or lower the task CPU reservation",
		ErrorCode:   "LAUNCH_NO_CPU",
	}},
	{"RESOURCE:ENI", SanitizedError{
		UserMessage: "No network interfaces left in the worker subnets",
		Suggestion:  "Use larger subnets or add subnets to the supervisor config",
		ErrorCode:   "LAUNCH_NO_ENI",
	}},
	{"exceeded quota", SanitizedError{
		UserMessage: "Namespace resource quota exceeded",
		Suggestion:  "Raise the quota or stop idle workers",
		ErrorCode:   "LAUNCH_QUOTA",
	}},
	{"ThrottlingException", SanitizedError{
		UserMessage: "Platform API throttled the launch",
		Suggestion:  "The next cycle retries; lower reconciler concurrency if this persists",
		ErrorCode:   "LAUNCH_THROTTLED",
	}},
	{"AccessDenied", SanitizedError{
		UserMessage: "Controller is not allowed to launch workers",
		Suggestion:  "Check the controller's IAM or RBAC permissions",
		ErrorCode:   "LAUNCH_DENIED",
	}},
	{"forbidden", SanitizedError{
		UserMessage: "Controller is not allowed to launch workers",
		Suggestion:  "Check the controller's IAM or RBAC permissions",
		ErrorCode:   "LAUNCH_DENIED",
	}},
	{defaultReason, SanitizedError{
		UserMessage: "Worker launch was rejected",
		Suggestion:  "Check the supervisor configuration and platform events",
		ErrorCode:   "LAUNCH_FAILED",
	}},
}

// terminationErrorMappings StopTask and pod delete rejections, matched in order
var terminationErrorMappings = []reasonMapping{
	{"AccessDenied", SanitizedError{
		UserMessage: "Controller is not allowed to stop workers",
		Suggestion:  "Check the controller's IAM or RBAC permissions",
		ErrorCode:   "STOP_DENIED",
	}},
	{"forbidden", SanitizedError{
		UserMessage: "Controller is not allowed to stop workers",
		Suggestion:  "Check the controller's IAM or RBAC permissions",
		ErrorCode:   "STOP_DENIED",
	}},
	{defaultReason, SanitizedError{
		UserMessage: "Worker termination was not acknowledged",
		Suggestion:  "The assignment is kept; the next cycle retries the stop",
		ErrorCode:   "STOP_FAILED",
	}},
}

var genericMappings = map[FailureKind]SanitizedError{
	FailureConflict: {
		UserMessage: "Another controller replica updated the stream first",
		Suggestion:  "No action needed unless this repeats every cycle",
		ErrorCode:   "STORE_CONFLICT",
	},
	FailureMetrics: {
		UserMessage: "Stream metrics were unavailable",
		Suggestion:  "The stream is skipped until metrics return",
		ErrorCode:   "METRICS_UNAVAILABLE",
	},
	FailureRegistry: {
		UserMessage: "Stream registry could not be listed",
		Suggestion:  "Check connectivity and permissions for the stream registry",
		ErrorCode:   "REGISTRY_UNAVAILABLE",
	},
	FailureUnknown: {
		UserMessage: "Unexpected error",
		Suggestion:  "Check the controller logs",
		ErrorCode:   "UNKNOWN_ERROR",
	},
}

// defaultReason matches anything; keep it last
const defaultReason = "default"

// sensitivePattern one redaction rule
type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer maps errors to operator messages and redacts identifiers
type Sanitizer struct {
	mappings          map[FailureKind][]reasonMapping
	sensitivePatterns []*sensitivePattern
}

// NewSanitizer creates a Sanitizer with the default mappings and patterns
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		mappings: map[FailureKind][]reasonMapping{
			FailureLaunch:      launchErrorMappings,
			FailureTermination: terminationErrorMappings,
		},
		sensitivePatterns: buildDefaultSensitivePatterns(),
	}
}

// buildDefaultSensitivePatterns order matters: URLs before IPs, ARNs before bare account ids
func buildDefaultSensitivePatterns() []*sensitivePattern {
	return []*sensitivePattern{
		// credentials in URLs
		{regexp.MustCompile(`https?://[^:/\s]+:[^@\s]+@[a-zA-Z0-9][-a-zA-Z0-9_.]*`), "[url-with-credentials]"},
		// Kubernetes API server URLs
		{regexp.MustCompile(`https?://[a-zA-Z0-9][-a-zA-Z0-9_.]*:\d+/api[/a-zA-Z0-9]*`), "[api-server]"},
		// bearer tokens
		{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [redacted]"},
		// AWS access key ids
		{regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`), "[aws-access-key]"},
		// ARNs carry the account id
		{regexp.MustCompile(`\barn:aws[a-z-]*:[a-z0-9-]+:[a-z0-9-]*:\d{12}:[^\s"',]+`), "[arn]"},
		// ECR registries
		{regexp.MustCompile(`\b\d{12}\.dkr\.ecr\.[a-z0-9-]+\.amazonaws\.com\b`), "[ecr-registry]"},
		// bare AWS account ids
		{regexp.MustCompile(`\b\d{12}\b`), "[account-id]"},
		// private IPv4 ranges
		{regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},
		{regexp.MustCompile(`\b172\.(?:1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},
		{regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`), "[internal-ip]"},
		// EC2-style node names
		{regexp.MustCompile(`\bip-\d{1,3}-\d{1,3}-\d{1,3}-\d{1,3}(?:\.[a-z0-9.-]+)?\b`), "[node]"},
		// secret references
		{regexp.MustCompile(`\bsecrets?/[a-zA-Z0-9][-a-zA-Z0-9_.]*\b`), "secret/[redacted]"},
	}
}

// Sanitize maps err to an operator message; reason-specific mappings are
// matched case-insensitively against the error text.
func (s *Sanitizer) Sanitize(err error) *SanitizedError {
	if err == nil {
		return nil
	}
	return s.Describe(Classify(err), err.Error())
}

// Describe maps an already classified error text, as carried on a
// ReconcileEvent, to an operator message
func (s *Sanitizer) Describe(kind FailureKind, text string) *SanitizedError {
	if kind == "" {
		kind = FailureUnknown
	}
	mappings, ok := s.mappings[kind]
	if !ok {
		generic, known := genericMappings[kind]
		if !known {
			generic = genericMappings[FailureUnknown]
		}
		return &generic
	}

	text = strings.ToLower(text)
	for _, m := range mappings {
		if m.Reason == defaultReason || strings.Contains(text, strings.ToLower(m.Reason)) {
			sanitized := m.Sanitized
			return &sanitized
		}
	}
	generic := genericMappings[FailureUnknown]
	return &generic
}

// AddReasonMapping adds a mapping ahead of the built-in ones for kind
func (s *Sanitizer) AddReasonMapping(kind FailureKind, reason string, sanitized SanitizedError) {
	s.mappings[kind] = append([]reasonMapping{{Reason: reason, Sanitized: sanitized}}, s.mappings[kind]...)
}

// SanitizeSensitiveInfo redacts identifiers from message
func (s *Sanitizer) SanitizeSensitiveInfo(message string) string {
	if message == "" {
		return message
	}
	for _, sp := range s.sensitivePatterns {
		message = sp.pattern.ReplaceAllString(message, sp.replacement)
	}
	return message
}

// AddSensitivePattern adds a custom redaction rule
func (s *Sanitizer) AddSensitivePattern(pattern *regexp.Regexp, replacement string) {
	s.sensitivePatterns = append(s.sensitivePatterns, &sensitivePattern{pattern: pattern, replacement: replacement})
}

// SanitizeEvent returns a copy of event safe to send outside the process
func (s *Sanitizer) SanitizeEvent(event *interfaces.ReconcileEvent) *interfaces.ReconcileEvent {
	if event == nil {
		return nil
	}
	out := *event
	out.Reason = s.SanitizeSensitiveInfo(event.Reason)
	out.Error = s.SanitizeSensitiveInfo(event.Error)
	return &out
}
