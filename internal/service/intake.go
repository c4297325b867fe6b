package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/postlane/publish-engine/internal/domain"
	"github.com/postlane/publish-engine/internal/repository"
	"github.com/postlane/publish-engine/internal/tag"
	"go.uber.org/zap"
)

// MediaNormalizer prepares a post's media before persistence.
type MediaNormalizer interface {
	Normalize(ctx context.Context, post *domain.Post) error
}

// Intake validates, normalizes, and persists new posts, expanding recurring
// rules into a series of child posts.
type Intake struct {
	posts      repository.PostRepository
	logs       repository.LogRepository
	normalizer MediaNormalizer
	logger     *zap.Logger
	now        func() time.Time
}

func NewIntake(posts repository.PostRepository, logs repository.LogRepository, normalizer MediaNormalizer, logger *zap.Logger) (*Intake, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("log repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{
		posts:      posts,
		logs:       logs,
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// CreatePost persists a new post in SCHEDULED state. Recurring posts become a
// parent row plus one child row per expanded occurrence; each child carries
// its own verification tag.
func (i *Intake) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	if post == nil {
		return nil, fmt.Errorf("%w: post is required", domain.ErrValidation)
	}

	now := i.now()

	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.ScheduleKind == domain.ScheduleImmediate {
		post.ScheduledAt = &now
	}
	post.Status = domain.StatusScheduled

	if err := post.Validate(); err != nil {
		return nil, err
	}

	if post.ScheduleKind == domain.ScheduleAtTime && post.ScheduledAt.Before(now) {
		return nil, fmt.Errorf("%w: scheduled time %s is in the past",
			domain.ErrValidation, post.ScheduledAt.Format(time.RFC3339))
	}

	if i.normalizer != nil {
		if err := i.normalizer.Normalize(ctx, post); err != nil {
			return nil, fmt.Errorf("media normalization failed: %w", err)
		}
	}

	if err := i.applyVerification(post); err != nil {
		return nil, err
	}

	if post.ScheduleKind == domain.ScheduleRecurring {
		return i.createSeries(ctx, post, now)
	}

	if err := i.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	i.appendCreatedLog(ctx, post)
	return post, nil
}

func (i *Intake) createSeries(ctx context.Context, parent *domain.Post, now time.Time) (*domain.Post, error) {
	occurrences, err := parent.Recurrence.Expand(*parent.ScheduledAt, now)
	if err != nil {
		return nil, err
	}
	if len(occurrences) == 0 {
		return nil, fmt.Errorf("%w: recurrence rule yields no occurrences", domain.ErrValidation)
	}

	// The parent row anchors the series at the first occurrence; the
	// remaining occurrences become child posts referencing it.
	parent.ScheduledAt = &occurrences[0]
	if err := i.posts.Create(ctx, parent); err != nil {
		return nil, fmt.Errorf("failed to create series parent: %w", err)
	}
	i.appendCreatedLog(ctx, parent)

	children := make([]*domain.Post, 0, len(occurrences)-1)
	for _, when := range occurrences[1:] {
		child := *parent
		child.ID = uuid.NewString()
		child.ParentID = &parent.ID
		child.Recurrence = nil
		scheduledAt := when
		child.ScheduledAt = &scheduledAt
		child.CreatedAt = time.Time{}
		child.UpdatedAt = time.Time{}

		if err := i.applyVerification(&child); err != nil {
			return nil, err
		}
		children = append(children, &child)
	}

	if len(children) > 0 {
		if err := i.posts.CreateSeries(ctx, children); err != nil {
			return nil, fmt.Errorf("failed to create series occurrences: %w", err)
		}
		for _, child := range children {
			i.appendCreatedLog(ctx, child)
		}
	}

	return parent, nil
}

// applyVerification assigns the deterministic confirmation tag for stories.
// Non-story posts carry no tag.
func (i *Intake) applyVerification(post *domain.Post) error {
	if !post.IsStory() {
		return nil
	}
	generated, err := tag.Generate(post.ID)
	if err != nil {
		return err
	}
	post.VerificationTag = &generated
	post.VerificationStatus = domain.VerificationPending
	return nil
}

func (i *Intake) appendCreatedLog(ctx context.Context, post *domain.Post) {
	entry := &domain.PostLog{
		ID:      uuid.NewString(),
		PostID:  post.ID,
		Kind:    domain.LogCreated,
		Message: "post created",
		Metadata: map[string]any{
			"kind":         post.Kind.String(),
			"scheduleKind": post.ScheduleKind.String(),
			"backend":      post.Backend.String(),
		},
	}
	if err := i.logs.Create(ctx, entry); err != nil {
		i.logger.Error("failed to append created log", zap.String("postId", post.ID), zap.Error(err))
	}
}
