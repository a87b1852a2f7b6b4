package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"club_chat/internal/domain"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

type gormUserRepository struct {
	db  *gorm.DB
	log logger.Logger
}

func NewGormUserRepository(db *gorm.DB, log logger.Logger) UserRepository {
	return &gormUserRepository{db: db, log: log}
}

func (r *gormUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &domain.User{ID: row.ID, Username: row.Username, IsActive: row.IsActive}, nil
}

func (r *gormUserRepository) FilterExisting(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var existing []int64
	err := r.db.WithContext(ctx).Model(&userRow{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Order("id").
		Pluck("id", &existing).Error
	if err != nil {
		r.log.Error("Failed to filter users", "error", err)
		return nil, err
	}
	return existing, nil
}
