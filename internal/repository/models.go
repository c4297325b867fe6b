package repository

import (
	"time"

	"github.com/postlane/publish-engine/internal/domain"
)

// PostModel is the persistence model for the posts table.
type PostModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ProjectID string `gorm:"type:uuid;not null"`
	UserID    string `gorm:"type:uuid;not null"`

	Kind         domain.Kind        `gorm:"type:varchar(10);not null"`
	Caption      string             `gorm:"type:text;not null"`
	FirstComment *string            `gorm:"type:text"`
	PublishMode  domain.PublishMode `gorm:"type:varchar(10);not null"`
	Media        []domain.MediaItem `gorm:"type:jsonb;serializer:json;not null"`

	ScheduleKind domain.ScheduleKind    `gorm:"type:varchar(10);not null"`
	ScheduledAt  *time.Time             `gorm:"type:timestamptz"`
	Recurrence   *domain.RecurrenceRule `gorm:"type:jsonb;serializer:json"`
	ParentID     *string                `gorm:"type:uuid"`

	Status              domain.Status `gorm:"type:varchar(20);not null"`
	ProcessingStartedAt *time.Time    `gorm:"type:timestamptz"`
	ErrorMessage        *string       `gorm:"type:text"`

	Backend        domain.BackendKind `gorm:"type:varchar(10);not null"`
	WebhookURL     *string            `gorm:"type:text"`
	BackendPostID  *string            `gorm:"type:varchar(255)"`
	RemoteStatus   *string            `gorm:"type:varchar(50)"`
	LastSyncAt     *time.Time         `gorm:"type:timestamptz"`
	PublishedAt    *time.Time         `gorm:"type:timestamptz"`
	PublishedURL   *string            `gorm:"type:text"`
	PlatformPostID *string            `gorm:"type:varchar(255)"`

	VerificationTag      *string                   `gorm:"type:varchar(32)"`
	VerificationStatus   domain.VerificationStatus `gorm:"type:varchar(10)"`
	VerificationAttempts int                       `gorm:"not null;default:0"`
	NextVerifyAt         *time.Time                `gorm:"type:timestamptz"`
	LastVerifyAt         *time.Time                `gorm:"type:timestamptz"`

	RehostedPaths []string `gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PostModel) TableName() string {
	return "posts"
}

// PostRetryModel is the persistence model for post_retries.
type PostRetryModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	PostID        string             `gorm:"type:uuid;not null"`
	AttemptNumber int                `gorm:"not null"`
	Status        domain.RetryStatus `gorm:"type:varchar(20);not null"`
	ScheduledFor  time.Time          `gorm:"type:timestamptz;not null"`
	LastError     *string            `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PostRetryModel) TableName() string {
	return "post_retries"
}

// PostLogModel is the persistence model for post_logs.
type PostLogModel struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	PostID    string         `gorm:"type:uuid;not null"`
	Kind      domain.LogKind `gorm:"type:varchar(10);not null"`
	Message   string         `gorm:"type:text;not null"`
	Metadata  map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
}

func (PostLogModel) TableName() string {
	return "post_logs"
}

func postModelFromDomain(p *domain.Post) *PostModel {
	if p == nil {
		return nil
	}

	return &PostModel{
		ID:                   p.ID,
		ProjectID:            p.ProjectID,
		UserID:               p.UserID,
		Kind:                 p.Kind,
		Caption:              p.Caption,
		FirstComment:         p.FirstComment,
		PublishMode:          p.PublishMode,
		Media:                p.Media,
		ScheduleKind:         p.ScheduleKind,
		ScheduledAt:          p.ScheduledAt,
		Recurrence:           p.Recurrence,
		ParentID:             p.ParentID,
		Status:               p.Status,
		ProcessingStartedAt:  p.ProcessingStartedAt,
		ErrorMessage:         p.ErrorMessage,
		Backend:              p.Backend,
		WebhookURL:           p.WebhookURL,
		BackendPostID:        p.BackendPostID,
		RemoteStatus:         p.RemoteStatus,
		LastSyncAt:           p.LastSyncAt,
		PublishedAt:          p.PublishedAt,
		PublishedURL:         p.PublishedURL,
		PlatformPostID:       p.PlatformPostID,
		VerificationTag:      p.VerificationTag,
		VerificationStatus:   p.VerificationStatus,
		VerificationAttempts: p.VerificationAttempts,
		NextVerifyAt:         p.NextVerifyAt,
		LastVerifyAt:         p.LastVerifyAt,
		RehostedPaths:        p.RehostedPaths,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
}

func postModelToDomain(m *PostModel) *domain.Post {
	if m == nil {
		return nil
	}

	return &domain.Post{
		ID:                   m.ID,
		ProjectID:            m.ProjectID,
		UserID:               m.UserID,
		Kind:                 m.Kind,
		Caption:              m.Caption,
		FirstComment:         m.FirstComment,
		PublishMode:          m.PublishMode,
		Media:                m.Media,
		ScheduleKind:         m.ScheduleKind,
		ScheduledAt:          m.ScheduledAt,
		Recurrence:           m.Recurrence,
		ParentID:             m.ParentID,
		Status:               m.Status,
		ProcessingStartedAt:  m.ProcessingStartedAt,
		ErrorMessage:         m.ErrorMessage,
		Backend:              m.Backend,
		WebhookURL:           m.WebhookURL,
		BackendPostID:        m.BackendPostID,
		RemoteStatus:         m.RemoteStatus,
		LastSyncAt:           m.LastSyncAt,
		PublishedAt:          m.PublishedAt,
		PublishedURL:         m.PublishedURL,
		PlatformPostID:       m.PlatformPostID,
		VerificationTag:      m.VerificationTag,
		VerificationStatus:   m.VerificationStatus,
		VerificationAttempts: m.VerificationAttempts,
		NextVerifyAt:         m.NextVerifyAt,
		LastVerifyAt:         m.LastVerifyAt,
		RehostedPaths:        m.RehostedPaths,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func retryModelFromDomain(r *domain.PostRetry) *PostRetryModel {
	if r == nil {
		return nil
	}

	return &PostRetryModel{
		ID:            r.ID,
		PostID:        r.PostID,
		AttemptNumber: r.AttemptNumber,
		Status:        r.Status,
		ScheduledFor:  r.ScheduledFor,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func retryModelToDomain(m *PostRetryModel) *domain.PostRetry {
	if m == nil {
		return nil
	}

	return &domain.PostRetry{
		ID:            m.ID,
		PostID:        m.PostID,
		AttemptNumber: m.AttemptNumber,
		Status:        m.Status,
		ScheduledFor:  m.ScheduledFor,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func logModelFromDomain(l *domain.PostLog) *PostLogModel {
	if l == nil {
		return nil
	}

	return &PostLogModel{
		ID:        l.ID,
		PostID:    l.PostID,
		Kind:      l.Kind,
		Message:   l.Message,
		Metadata:  l.Metadata,
		CreatedAt: l.CreatedAt,
	}
}

func logModelToDomain(m *PostLogModel) *domain.PostLog {
	if m == nil {
		return nil
	}

	return &domain.PostLog{
		ID:        m.ID,
		PostID:    m.PostID,
		Kind:      m.Kind,
		Message:   m.Message,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}
