package domain

import (
	"fmt"
	"time"
)

// MaxRetryAttempts caps send re-attempts per post.
const MaxRetryAttempts = 3

// RetryStatus represents the processing state of a scheduled retry.
type RetryStatus string

const (
	RetryPending    RetryStatus = "PENDING"
	RetryProcessing RetryStatus = "PROCESSING"
	RetrySuccess    RetryStatus = "SUCCESS"
	RetryFailed     RetryStatus = "FAILED"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryPending, RetryProcessing, RetrySuccess, RetryFailed:
		return true
	}
	return false
}

// PostRetry records a scheduled re-attempt for a post.
type PostRetry struct {
	ID            string      `gorm:"type:uuid;primaryKey"`
	PostID        string      `gorm:"type:uuid;not null"`
	AttemptNumber int         `gorm:"not null"`
	Status        RetryStatus `gorm:"type:varchar(20);not null"`
	ScheduledFor  time.Time   `gorm:"type:timestamptz;not null"`
	LastError     *string     `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *PostRetry) Validate() error {
	if r.PostID == "" {
		return fmt.Errorf("%w: post id is required", ErrValidation)
	}
	if r.AttemptNumber < 1 || r.AttemptNumber > MaxRetryAttempts {
		return fmt.Errorf("%w: attempt number %d outside 1-%d", ErrValidation, r.AttemptNumber, MaxRetryAttempts)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid retry status %q", ErrValidation, r.Status)
	}
	return nil
}
