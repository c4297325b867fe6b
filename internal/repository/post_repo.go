package repository

import (
	"context"
	"errors"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostedUpdate carries the fields persisted when a post reaches POSTED.
type PostedUpdate struct {
	BackendPostID  *string
	RemoteStatus   *string
	PublishedAt    *time.Time
	PublishedURL   *string
	PlatformPostID *string
	LastSyncAt     *time.Time
	// VerificationVerified marks a story's verification satisfied through the
	// synchronous-publish fallback path.
	VerificationVerified bool
}

type PostRepository interface {
	Create(ctx context.Context, p *domain.Post) error
	CreateSeries(ctx context.Context, posts []*domain.Post) error
	GetByID(ctx context.Context, id string) (*domain.Post, error)
	GetDue(ctx context.Context, from, to time.Time) ([]domain.Post, error)
	GetOverdue(ctx context.Context, from, to time.Time, limit int) ([]domain.Post, error)
	ClaimForPosting(ctx context.Context, id string, now time.Time) (*domain.Post, error)
	MarkPosted(ctx context.Context, id string, update PostedUpdate) error
	MarkFailed(ctx context.Context, id string, message string) error
	RecordAccepted(ctx context.Context, id string, backendPostID *string, remoteStatus string) error
	GetStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Post, error)
	FailStuck(ctx context.Context, id string, cutoff time.Time, message string) (bool, error)
	GetForReconciliation(ctx context.Context, syncedBefore time.Time, limit int) ([]domain.Post, error)
	RecordSync(ctx context.Context, id string, remoteStatus string, syncedAt time.Time) error
}

type GormPostRepo struct {
	db *gorm.DB
}

var _ PostRepository = (*GormPostRepo)(nil)

func NewGormPostRepo(db *gorm.DB) *GormPostRepo {
	return &GormPostRepo{db: db}
}

func (r *GormPostRepo) Create(ctx context.Context, p *domain.Post) error {
	model := postModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if p != nil {
		*p = *postModelToDomain(model)
	}
	return nil
}

func (r *GormPostRepo) CreateSeries(ctx context.Context, posts []*domain.Post) error {
	models := make([]PostModel, 0, len(posts))
	modelIndexes := make([]int, 0, len(posts))
	for i, p := range posts {
		model := postModelFromDomain(p)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(posts) && posts[idx] != nil {
			*posts[idx] = *postModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormPostRepo) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	var model PostModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return postModelToDomain(&model), nil
}

func (r *GormPostRepo) GetDue(ctx context.Context, from, to time.Time) ([]domain.Post, error) {
	var models []PostModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at >= ? AND scheduled_at <= ?", domain.StatusScheduled, from, to).
		Order("scheduled_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return postModelsToDomain(models), nil
}

func (r *GormPostRepo) GetOverdue(ctx context.Context, from, to time.Time, limit int) ([]domain.Post, error) {
	var models []PostModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at >= ? AND scheduled_at < ?", domain.StatusScheduled, from, to).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return postModelsToDomain(models), nil
}

// ClaimForPosting atomically transitions a dispatchable post to POSTING.
// The row lock plus re-read is the sole duplicate-suppression mechanism:
// concurrent claimers of the same post observe either the POSTING status or
// the backend post id and receive nil. Callers treat a nil post as a skip.
func (r *GormPostRepo) ClaimForPosting(ctx context.Context, id string, now time.Time) (*domain.Post, error) {
	var claimed *domain.Post

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PostModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		post := postModelToDomain(&model)
		if !post.Dispatchable() {
			return nil
		}

		updates := map[string]any{
			"status":                domain.StatusPosting,
			"processing_started_at": now,
		}
		if err := tx.Model(&PostModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		post.Status = domain.StatusPosting
		post.ProcessingStartedAt = &now
		claimed = post
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormPostRepo) MarkPosted(ctx context.Context, id string, update PostedUpdate) error {
	updates := map[string]any{
		"status":        domain.StatusPosted,
		"error_message": nil,
	}
	if update.BackendPostID != nil {
		updates["backend_post_id"] = *update.BackendPostID
	}
	if update.RemoteStatus != nil {
		updates["remote_status"] = *update.RemoteStatus
	}
	if update.PublishedAt != nil {
		updates["published_at"] = *update.PublishedAt
	}
	if update.PublishedURL != nil {
		updates["published_url"] = *update.PublishedURL
	}
	if update.PlatformPostID != nil {
		updates["platform_post_id"] = *update.PlatformPostID
	}
	if update.LastSyncAt != nil {
		updates["last_sync_at"] = *update.LastSyncAt
	}
	if update.VerificationVerified {
		updates["verification_status"] = domain.VerificationVerified
	}

	result := r.db.WithContext(ctx).
		Model(&PostModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPostRepo) MarkFailed(ctx context.Context, id string, message string) error {
	result := r.db.WithContext(ctx).
		Model(&PostModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordAccepted stores the accepted-pending remote status for a post whose
// backend confirms asynchronously. The post stays in POSTING until the
// confirmation channel, the reconciler, or the stuck sweep resolves it.
func (r *GormPostRepo) RecordAccepted(ctx context.Context, id string, backendPostID *string, remoteStatus string) error {
	updates := map[string]any{"remote_status": remoteStatus}
	if backendPostID != nil {
		updates["backend_post_id"] = *backendPostID
	}
	result := r.db.WithContext(ctx).
		Model(&PostModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPostRepo) GetStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Post, error) {
	var models []PostModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND processing_started_at IS NOT NULL AND processing_started_at < ?", domain.StatusPosting, cutoff).
		Order("processing_started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return postModelsToDomain(models), nil
}

// FailStuck force-fails a post stuck in POSTING. The conditional predicate
// makes overlapping sweeps transition each post exactly once: only the
// invocation whose UPDATE matched the row reports true.
func (r *GormPostRepo) FailStuck(ctx context.Context, id string, cutoff time.Time, message string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PostModel{}).
		Where("id = ? AND status = ? AND processing_started_at < ?", id, domain.StatusPosting, cutoff).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormPostRepo) GetForReconciliation(ctx context.Context, syncedBefore time.Time, limit int) ([]domain.Post, error) {
	var models []PostModel
	err := r.db.WithContext(ctx).
		Where("backend_post_id IS NOT NULL AND status IN ?", []domain.Status{domain.StatusScheduled, domain.StatusPosting}).
		Where("last_sync_at IS NULL OR last_sync_at < ?", syncedBefore).
		Order("last_sync_at ASC NULLS FIRST").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return postModelsToDomain(models), nil
}

func (r *GormPostRepo) RecordSync(ctx context.Context, id string, remoteStatus string, syncedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PostModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"remote_status": remoteStatus,
			"last_sync_at":  syncedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func postModelsToDomain(models []PostModel) []domain.Post {
	posts := make([]domain.Post, 0, len(models))
	for i := range models {
		posts = append(posts, *postModelToDomain(&models[i]))
	}
	return posts
}
