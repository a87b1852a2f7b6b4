package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"club_chat/internal/domain"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

// UserRepository читает таблицу пользователей основного бэкенда, только на чтение
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	FilterExisting(ctx context.Context, ids []int64) ([]int64, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx,
		`SELECT id, username, is_active FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Username, &user.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		r.log.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return user, nil
}

// FilterExisting возвращает те id из списка, для которых есть активный пользователь
func (r *userRepository) FilterExisting(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id FROM users WHERE id = ANY($1) AND is_active ORDER BY id`, ids,
	)
	if err != nil {
		r.log.Error("Failed to filter users", "error", err)
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
