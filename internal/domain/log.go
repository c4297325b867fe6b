package domain

import "time"

// LogKind classifies audit trail entries.
type LogKind string

const (
	LogCreated LogKind = "CREATED"
	LogSent    LogKind = "SENT"
	LogFailed  LogKind = "FAILED"
)

func (k LogKind) String() string { return string(k) }

// PostLog is an append-only audit record for a post. Entries are never
// mutated or deleted.
type PostLog struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	PostID    string         `gorm:"type:uuid;not null"`
	Kind      LogKind        `gorm:"type:varchar(10);not null"`
	Message   string         `gorm:"type:text;not null"`
	Metadata  map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
}
