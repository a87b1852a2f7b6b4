package service

import (
	"club_chat/internal/config"
	"club_chat/internal/repository"
	"club_chat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	User      UserService
	Chat      ChatService
	RateLimit RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	services := &Services{
		Auth: NewAuthService(repos.User, cfg.JWT, log),
		User: NewUserService(repos.User, log),
		Chat: NewChatService(repos.Chat, repos.User, log),
		RateLimit: NewRateLimitService(
			repos.RateLimit, cfg.WebSocket.SendRateLimit, cfg.WebSocket.SendRateWindow, log,
		),
	}

	if services.RateLimit == nil {
		log.Warn("Redis is not configured, send rate limit disabled")
	}

	return services
}
