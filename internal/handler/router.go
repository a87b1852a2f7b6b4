package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"club_chat/internal/config"
	"club_chat/internal/middleware"
	"club_chat/pkg/logger"
)

func NewRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)
	router.GET("/ready", handlers.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth(), rateLimitMiddleware.Limit())
	{
		v1.GET("/users/me", handlers.User.GetMe)

		chats := v1.Group("/chats")
		{
			chats.GET("", handlers.Chat.List)
			chats.POST("/direct", handlers.Chat.GetOrCreateDirect)
			chats.POST("/groups", handlers.Chat.CreateGroup)
			chats.POST("/:id/participants", handlers.Chat.AddParticipant)
			chats.DELETE("/:id/participants/:userId", handlers.Chat.RemoveParticipant)
			chats.POST("/:id/leave", handlers.Chat.Leave)
			chats.GET("/:id/messages", handlers.Chat.GetMessages)
		}
	}

	// WebSocket: аутентификация внутри сессии, отказ сообщается кодом закрытия
	ws := router.Group("/ws")
	{
		ws.GET("/global/", handlers.WebSocket.HandleGlobal)
		ws.GET("/chat/:id/", handlers.WebSocket.HandleChat)
		ws.GET("/notifications/", handlers.WebSocket.HandleNotifications)
	}

	return router
}
