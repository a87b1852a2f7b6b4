package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"club_chat/pkg/logger"
)

type Repositories struct {
	User      UserRepository
	Chat      ChatRepository
	RateLimit RateLimitRepository
}

// NewRepositories собирает репозитории поверх PostgreSQL.
// redis может быть nil: тогда лимиты отправки не применяются.
func NewRepositories(db *pgxpool.Pool, redis *redis.Client, redisPrefix string, log logger.Logger) *Repositories {
	repos := &Repositories{
		User: NewUserRepository(db, log),
		Chat: NewChatRepository(db, log),
	}
	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, redisPrefix, log)
	}
	return repos
}

// NewGormRepositories собирает репозитории поверх gorm (SQLite для разработки и тестов)
func NewGormRepositories(db *gorm.DB, redis *redis.Client, redisPrefix string, log logger.Logger) *Repositories {
	repos := &Repositories{
		User: NewGormUserRepository(db, log),
		Chat: NewGormChatRepository(db, log),
	}
	if redis != nil {
		repos.RateLimit = NewRateLimitRepository(redis, redisPrefix, log)
	}
	return repos
}
