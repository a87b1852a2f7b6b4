package handler

import (
	"club_chat/internal/config"
	"club_chat/internal/gateway"
	"club_chat/internal/service"
	"club_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	User      *UserHandler
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, gw *gateway.Gateway, checks map[string]Check, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(checks),
		User:      NewUserHandler(services.User, log),
		Chat:      NewChatHandler(services.Chat, log),
		WebSocket: NewWebSocketHandler(gw, cfg.WebSocket.AllowedOrigins, log),
	}
}
