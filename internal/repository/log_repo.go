package repository

import (
	"context"

	"github.com/postlane/publish-engine/internal/domain"
	"gorm.io/gorm"
)

type LogRepository interface {
	Create(ctx context.Context, entry *domain.PostLog) error
	ListByPostID(ctx context.Context, postID string) ([]domain.PostLog, error)
}

type GormLogRepo struct {
	db *gorm.DB
}

var _ LogRepository = (*GormLogRepo)(nil)

func NewGormLogRepo(db *gorm.DB) *GormLogRepo {
	return &GormLogRepo{db: db}
}

func (r *GormLogRepo) Create(ctx context.Context, entry *domain.PostLog) error {
	model := logModelFromDomain(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if entry != nil {
		*entry = *logModelToDomain(model)
	}
	return nil
}

func (r *GormLogRepo) ListByPostID(ctx context.Context, postID string) ([]domain.PostLog, error) {
	var models []PostLogModel
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.PostLog, 0, len(models))
	for i := range models {
		entries = append(entries, *logModelToDomain(&models[i]))
	}
	return entries, nil
}
