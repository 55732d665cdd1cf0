package interfaces

import (
	"context"
	"time"
)

// ReconcileEvent one action (or refusal to act) taken on a stream
type ReconcileEvent struct {
	EventID      string    `json:"eventId"`
	Stream       string    `json:"stream"`
	Action       string    `json:"action"`
	WorkerID     string    `json:"workerId,omitempty"`
	PrevWorkerID string    `json:"prevWorkerId,omitempty"`
	Producer     string    `json:"producer,omitempty"`
	Consumer     string    `json:"consumer,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventRecorder receives reconcile events (audit history, live feeds, alerts)
type EventRecorder interface {
	Record(ctx context.Context, event *ReconcileEvent) error
}
