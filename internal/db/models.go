package db

import (
	"time"

	"resync/internal/rsync"
)

// ScheduledJob represents a cron job for recurring transfers
type ScheduledJob struct {
	ID             int64
	Name           string
	Source         string
	Dest           string
	Options        rsync.Options // stored as JSON
	CronExpression string
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
}

// SyncRunStatus represents the status of a sync run
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusCancelled SyncRunStatus = "cancelled"
)

// SyncRun represents a single execution of a transfer, archived for history
type SyncRun struct {
	ID               int64
	Handle           string
	Source           string
	Dest             string
	ScheduledJobID   *int64
	Status           SyncRunStatus
	StartedAt        time.Time
	CompletedAt      *time.Time
	TotalFiles       uint64
	FilesTransferred uint64
	BytesTransferred uint64
	ErrorMessage     *string
}
