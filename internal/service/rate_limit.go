package service

import (
	"context"
	"fmt"
	"time"

	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error)
	Increment(ctx context.Context, key string, windowSeconds int) (int64, error)
	AllowSend(ctx context.Context, userID int64) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	sendLimit     int
	sendWindow    time.Duration
	log           logger.Logger
}

// NewRateLimitService возвращает nil, если репозиторий не настроен (нет Redis)
func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, sendLimit int, sendWindow time.Duration, log logger.Logger) RateLimitService {
	if rateLimitRepo == nil {
		return nil
	}
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		sendLimit:     sendLimit,
		sendWindow:    sendWindow,
		log:           log,
	}
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error) {
	return s.rateLimitRepo.CheckLimit(ctx, key, limit, time.Duration(windowSeconds)*time.Second)
}

func (s *rateLimitService) Increment(ctx context.Context, key string, windowSeconds int) (int64, error) {
	return s.rateLimitRepo.Increment(ctx, key, time.Duration(windowSeconds)*time.Second)
}

// AllowSend - лимит сообщений пользователя за окно; 0 отключает проверку
func (s *rateLimitService) AllowSend(ctx context.Context, userID int64) (bool, error) {
	if s.sendLimit <= 0 {
		return true, nil
	}
	return s.rateLimitRepo.Allow(ctx, fmt.Sprintf("send:%d", userID), s.sendLimit, s.sendWindow)
}
