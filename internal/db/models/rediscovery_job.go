package models

import "time"

// Rediscovery job status values.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// RediscoveryJob is one durable unit of rediscovery work. Succeeded jobs
// are removed by housekeeping; jobs that exhaust their attempts stay in
// the table with status "failed" for operator inspection.
type RediscoveryJob struct {
	ID                string `gorm:"primaryKey"` // UUID
	UserID            string
	Provider          string
	ProviderAccountID string
	Reason            string // "nightly", "manual", caller-supplied
	Status            string `gorm:"default:pending;index"`
	Attempts          int
	MaxAttempts       int
	NextRunAt         time.Time `gorm:"index"` // due time; lease deadline while running
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
