package service

import (
	"context"

	"club_chat/internal/domain"
	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

type UserService interface {
	GetMe(ctx context.Context, userID int64) (*domain.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewUserService(userRepo repository.UserRepository, log logger.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		log:      log,
	}
}

func (s *userService) GetMe(ctx context.Context, userID int64) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}
