package model

import "time"

// StreamAssignment MySQL model for stream_assignments table
type StreamAssignment struct {
	StreamID  string    `gorm:"column:stream_id;type:varchar(255);primaryKey" json:"stream_id"`
	WorkerID  string    `gorm:"column:worker_id;type:varchar(255);not null;index:idx_worker_id" json:"worker_id"`
	Version   int64     `gorm:"column:version;type:bigint;not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for StreamAssignment
func (StreamAssignment) TableName() string {
	return "stream_assignments"
}
