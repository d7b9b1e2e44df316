// Package models holds the gorm schema for the reliability layer's
// collections: jobs, outbox entries and the orphan-cleanup audit log.
package models

import (
	"time"

	"gorm.io/datatypes"

	"concierge-go/internal/constants"
)

// Job is a long-running unit of work: an order, a dispatch, a booking.
// Once a terminal status is reached no further status-changing write is
// permitted, except the stuck-job releaser moving a non-terminal job into
// timeout_review.
type Job struct {
	ID     string `gorm:"type:varchar(36);primaryKey"`
	Type   string `gorm:"type:varchar(50);not null;index"`
	Status string `gorm:"type:varchar(30);not null;index:idx_jobs_status_updated_at"`

	// UserID identifies the requesting customer; VendorPhone the fulfilling
	// vendor on the messaging channel.
	UserID      string `gorm:"type:varchar(36);index"`
	VendorPhone string `gorm:"type:varchar(20)"`

	Payload datatypes.JSON `gorm:"type:json"`

	// Set by the stuck-job releaser only.
	PreviousStatus string     `gorm:"type:varchar(30)"`
	TimeoutReason  string     `gorm:"type:text"`
	TimedOutAt     *time.Time `gorm:"type:datetime(6)"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);index:idx_jobs_status_updated_at"`
}

// TableName specifies the table name for the Job model.
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job's status accepts no further writes.
func (j *Job) IsTerminal() bool {
	return constants.TerminalJobStatuses[j.Status]
}

// OutboxEntry is a durable record of one unit of external work tied to a
// job, written in the same transaction as the job state change.
type OutboxEntry struct {
	ID       string `gorm:"type:varchar(36);primaryKey"`
	JobID    string `gorm:"type:varchar(36);not null;index"`
	TraceID  string `gorm:"type:varchar(64)"`
	WorkType string `gorm:"type:varchar(50);not null"`
	Status   string `gorm:"type:varchar(20);default:'pending';not null;index:idx_outbox_status_created_at"`

	Payload datatypes.JSON `gorm:"type:json;not null"`

	Attempts      int    `gorm:"default:0"`
	MaxAttempts   int    `gorm:"default:5"`
	LastAttemptID string `gorm:"type:varchar(36)"`
	LastError     string `gorm:"type:text"`

	// Evidence holds the external call's result once completed; results
	// larger than the inline limit are archived and referenced by object key.
	Evidence          datatypes.JSON `gorm:"type:json"`
	EvidenceObjectKey string         `gorm:"type:varchar(255)"`

	CreatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_outbox_status_created_at,sort:asc"`
	UpdatedAt   time.Time  `gorm:"type:datetime(6)"`
	ProcessedAt *time.Time `gorm:"type:datetime(6)"`
}

// TableName specifies the table name for the OutboxEntry model.
func (OutboxEntry) TableName() string {
	return "outbox_entries"
}

// IsTerminal reports whether the entry can no longer be claimed.
func (e *OutboxEntry) IsTerminal() bool {
	return e.Status == constants.OutboxStatusCompleted || e.Status == constants.OutboxStatusFailed
}

// JobEvent is a child record of a job: one row per status transition or
// notable decision, kept for provenance.
type JobEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	JobID      string    `gorm:"type:varchar(36);not null;index"`
	TraceID    string    `gorm:"type:varchar(64)"`
	EventType  string    `gorm:"type:varchar(50);not null"`
	FromStatus string    `gorm:"type:varchar(30)"`
	ToStatus   string    `gorm:"type:varchar(30)"`
	Detail     string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

// TableName specifies the table name for the JobEvent model.
func (JobEvent) TableName() string {
	return "job_events"
}

// OrphanCleanupLog is the audit trail for orphaned-child deletions.
type OrphanCleanupLog struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	TraceID          string    `gorm:"type:varchar(64);index"`
	ParentCollection string    `gorm:"type:varchar(100);not null"`
	ChildCollection  string    `gorm:"type:varchar(100);not null"`
	ParentID         string    `gorm:"type:varchar(36);not null"`
	DeletedCount     int64     `gorm:"not null"`
	DryRun           bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

// TableName specifies the table name for the OrphanCleanupLog model.
func (OrphanCleanupLog) TableName() string {
	return "orphan_cleanup_log"
}
