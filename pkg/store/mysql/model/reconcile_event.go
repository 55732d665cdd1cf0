package model

import "time"

// ReconcileEvent MySQL model for reconcile_events table
type ReconcileEvent struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      string    `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex:idx_event_id_unique" json:"event_id"`
	Stream       string    `gorm:"column:stream;type:varchar(255);not null;index:idx_stream_timestamp,priority:1" json:"stream"`
	Timestamp    time.Time `gorm:"column:timestamp;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_timestamp;index:idx_stream_timestamp,priority:2" json:"timestamp"`
	Action       string    `gorm:"column:action;type:varchar(32);not null;index:idx_action" json:"action"`
	WorkerID     string    `gorm:"column:worker_id;type:varchar(255)" json:"worker_id"`
	PrevWorkerID string    `gorm:"column:prev_worker_id;type:varchar(255)" json:"prev_worker_id"`
	Producer     string    `gorm:"column:producer;type:varchar(32)" json:"producer"`
	Consumer     string    `gorm:"column:consumer;type:varchar(32)" json:"consumer"`
	Reason       string    `gorm:"column:reason;type:text" json:"reason"`
	Error        string    `gorm:"column:error;type:text" json:"error"`
	ErrorKind    string    `gorm:"column:error_kind;type:varchar(32)" json:"error_kind"`
}

// TableName specifies the table name for ReconcileEvent
func (ReconcileEvent) TableName() string {
	return "reconcile_events"
}
