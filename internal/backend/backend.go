package backend

import (
	"context"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
)

// Remote statuses reported by the publishing backends.
const (
	RemoteScheduled  = "scheduled"
	RemotePublishing = "publishing"
	RemotePublished  = "published"
	RemoteFailed     = "failed"
	RemotePartial    = "partial"
	RemotePending    = "pending"
)

// Backend is the outbound post publishing port.
type Backend interface {
	Kind() domain.BackendKind
	Send(ctx context.Context, post domain.Post) (*SendResult, error)
}

// SendResult stores the normalized outcome of a backend send.
//
// BackendPostID is empty for accept-only backends that confirm publication
// asynchronously; such results carry RemoteStatus RemotePending.
type SendResult struct {
	BackendPostID  string
	RemoteStatus   string
	Permalink      string
	PlatformPostID string
	PublishedAt    *time.Time
	RawResponse    string
}

// Published reports whether the backend confirmed publication synchronously.
func (r *SendResult) Published() bool {
	return r != nil && r.RemoteStatus == RemotePublished
}

// RemotePost is the authoritative remote state of a previously sent post.
type RemotePost struct {
	ID             string
	Status         string
	Permalink      string
	PlatformPostID string
	PublishedAt    *time.Time
	ErrorMessage   string
}

// StatusSource exposes the backend-of-record lookup used by reconciliation.
type StatusSource interface {
	GetPost(ctx context.Context, backendPostID string) (*RemotePost, error)
}
