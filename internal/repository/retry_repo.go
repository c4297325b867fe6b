package repository

import (
	"context"
	"time"

	"github.com/postlane/publish-engine/internal/domain"
	"gorm.io/gorm"
)

type RetryRepository interface {
	Create(ctx context.Context, retry *domain.PostRetry) error
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.PostRetry, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkOutcome(ctx context.Context, id string, status domain.RetryStatus, lastError *string) error
	CountByPostID(ctx context.Context, postID string) (int64, error)
}

type GormRetryRepo struct {
	db *gorm.DB
}

var _ RetryRepository = (*GormRetryRepo)(nil)

func NewGormRetryRepo(db *gorm.DB) *GormRetryRepo {
	return &GormRetryRepo{db: db}
}

func (r *GormRetryRepo) Create(ctx context.Context, retry *domain.PostRetry) error {
	model := retryModelFromDomain(retry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if retry != nil {
		*retry = *retryModelToDomain(model)
	}
	return nil
}

func (r *GormRetryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.PostRetry, error) {
	var models []PostRetryModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.RetryPending, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	retries := make([]domain.PostRetry, 0, len(models))
	for i := range models {
		retries = append(retries, *retryModelToDomain(&models[i]))
	}
	return retries, nil
}

// MarkProcessing claims a pending retry. Overlapping runner invocations race
// on the conditional update; only the winner reports true.
func (r *GormRetryRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PostRetryModel{}).
		Where("id = ? AND status = ?", id, domain.RetryPending).
		Update("status", domain.RetryProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRetryRepo) MarkOutcome(ctx context.Context, id string, status domain.RetryStatus, lastError *string) error {
	updates := map[string]any{"status": status}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	result := r.db.WithContext(ctx).
		Model(&PostRetryModel{}).
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

func (r *GormRetryRepo) CountByPostID(ctx context.Context, postID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PostRetryModel{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
