package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a post.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusPosting   Status = "POSTING"
	StatusPosted    Status = "POSTED"
	StatusFailed    Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusPosting, StatusPosted, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Kind represents the content format of a post.
type Kind string

const (
	KindSingle   Kind = "SINGLE"
	KindCarousel Kind = "CAROUSEL"
	KindStory    Kind = "STORY"
	KindReel     Kind = "REEL"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindSingle, KindCarousel, KindStory, KindReel:
		return true
	}
	return false
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid post kind %q", ErrValidation, s)
	}
	return k, nil
}

// PublishMode selects between direct publishing and reminder notifications.
type PublishMode string

const (
	PublishModeDirect   PublishMode = "DIRECT"
	PublishModeReminder PublishMode = "REMINDER"
)

func (m PublishMode) String() string { return string(m) }

func (m PublishMode) IsValid() bool {
	switch m {
	case PublishModeDirect, PublishModeReminder:
		return true
	}
	return false
}

// ScheduleKind distinguishes how a post becomes due.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "IMMEDIATE"
	ScheduleAtTime    ScheduleKind = "SCHEDULED"
	ScheduleRecurring ScheduleKind = "RECURRING"
)

func (k ScheduleKind) String() string { return string(k) }

func (k ScheduleKind) IsValid() bool {
	switch k {
	case ScheduleImmediate, ScheduleAtTime, ScheduleRecurring:
		return true
	}
	return false
}

// BackendKind identifies which publishing backend handles a post.
type BackendKind string

const (
	BackendAPI     BackendKind = "API"
	BackendWebhook BackendKind = "WEBHOOK"
)

func (b BackendKind) String() string { return string(b) }

func (b BackendKind) IsValid() bool {
	switch b {
	case BackendAPI, BackendWebhook:
		return true
	}
	return false
}

func ParseBackendKindFromString(s string) (BackendKind, error) {
	b := BackendKind(strings.ToUpper(strings.TrimSpace(s)))
	if !b.IsValid() {
		return "", fmt.Errorf("%w: invalid backend %q", ErrValidation, s)
	}
	return b, nil
}

// VerificationStatus tracks the out-of-band story confirmation loop.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationFailed   VerificationStatus = "FAILED"
)

func (v VerificationStatus) String() string { return string(v) }

// Media count bounds per post kind.
const (
	MaxCarouselItems = 10
	MinCarouselItems = 2
)

// MediaItem is one entry in a post's ordered media list.
type MediaItem struct {
	URL        string  `json:"url"`
	AltText    *string `json:"altText,omitempty"`
	Normalized bool    `json:"normalized,omitempty"`
}

// Post is the core domain entity representing a unit of content to publish.
type Post struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ProjectID string `gorm:"type:uuid;not null"`
	UserID    string `gorm:"type:uuid;not null"`

	Kind         Kind        `gorm:"type:varchar(10);not null"`
	Caption      string      `gorm:"type:text;not null"`
	FirstComment *string     `gorm:"type:text"`
	PublishMode  PublishMode `gorm:"type:varchar(10);not null"`
	Media        []MediaItem `gorm:"type:jsonb;serializer:json;not null"`

	ScheduleKind ScheduleKind    `gorm:"type:varchar(10);not null"`
	ScheduledAt  *time.Time      `gorm:"type:timestamptz"`
	Recurrence   *RecurrenceRule `gorm:"type:jsonb;serializer:json"`
	ParentID     *string         `gorm:"type:uuid"`

	Status              Status     `gorm:"type:varchar(20);not null"`
	ProcessingStartedAt *time.Time `gorm:"type:timestamptz"`
	ErrorMessage        *string    `gorm:"type:text"`

	Backend        BackendKind `gorm:"type:varchar(10);not null"`
	WebhookURL     *string     `gorm:"type:text"`
	BackendPostID  *string     `gorm:"type:varchar(255)"`
	RemoteStatus   *string     `gorm:"type:varchar(50)"`
	LastSyncAt     *time.Time  `gorm:"type:timestamptz"`
	PublishedAt    *time.Time  `gorm:"type:timestamptz"`
	PublishedURL   *string     `gorm:"type:text"`
	PlatformPostID *string     `gorm:"type:varchar(255)"`

	VerificationTag      *string            `gorm:"type:varchar(32)"`
	VerificationStatus   VerificationStatus `gorm:"type:varchar(10)"`
	VerificationAttempts int                `gorm:"not null;default:0"`
	NextVerifyAt         *time.Time         `gorm:"type:timestamptz"`
	LastVerifyAt         *time.Time         `gorm:"type:timestamptz"`

	RehostedPaths []string `gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Post) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: invalid post kind %q", ErrValidation, p.Kind)
	}
	if !p.PublishMode.IsValid() {
		return fmt.Errorf("%w: invalid publish mode %q", ErrValidation, p.PublishMode)
	}
	if !p.ScheduleKind.IsValid() {
		return fmt.Errorf("%w: invalid schedule kind %q", ErrValidation, p.ScheduleKind)
	}
	if !p.Backend.IsValid() {
		return fmt.Errorf("%w: invalid backend %q", ErrValidation, p.Backend)
	}

	mediaCount := len(p.Media)
	switch p.Kind {
	case KindCarousel:
		if mediaCount < MinCarouselItems || mediaCount > MaxCarouselItems {
			return fmt.Errorf("%w: carousel requires %d-%d media items (got %d)",
				ErrValidation, MinCarouselItems, MaxCarouselItems, mediaCount)
		}
	default:
		if mediaCount != 1 {
			return fmt.Errorf("%w: %s requires exactly 1 media item (got %d)",
				ErrValidation, strings.ToLower(p.Kind.String()), mediaCount)
		}
	}
	for i, item := range p.Media {
		if strings.TrimSpace(item.URL) == "" {
			return fmt.Errorf("%w: media item %d has an empty url", ErrValidation, i)
		}
	}

	switch p.ScheduleKind {
	case ScheduleAtTime, ScheduleRecurring:
		if p.ScheduledAt == nil {
			return fmt.Errorf("%w: scheduled time is required for %s posts", ErrValidation, p.ScheduleKind)
		}
	}
	if p.ScheduleKind == ScheduleRecurring && p.Recurrence == nil && p.ParentID == nil {
		return fmt.Errorf("%w: recurrence rule is required for recurring posts", ErrValidation)
	}

	return nil
}

// Dispatchable reports whether a send attempt may still occur. A post that
// already holds a backend post id must never be sent again.
func (p *Post) Dispatchable() bool {
	if p.BackendPostID != nil && *p.BackendPostID != "" {
		return false
	}
	return p.Status == StatusScheduled || p.Status == StatusFailed
}

func (p *Post) IsStory() bool { return p.Kind == KindStory }
