package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"club_chat/pkg/logger"
)

// RateLimitRepository - счетчики фиксированного окна в Redis
type RateLimitRepository interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	redis  *redis.Client
	prefix string
	log    logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, prefix string, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, prefix: prefix + "ratelimit:", log: log}
}

func (r *rateLimitRepository) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Get(ctx, r.prefix+key).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		r.log.Error("Failed to check rate limit", "error", err)
		return false, err
	}

	return count < limit, nil
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.redis.Incr(ctx, r.prefix+key).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return 0, err
	}

	// Окно отсчитывается от первого попадания
	if count == 1 {
		if err := r.redis.Expire(ctx, r.prefix+key, window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit window", "error", err)
		}
	}

	return count, nil
}

// Allow учитывает попытку и сообщает, укладывается ли она в лимит
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.Increment(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}
