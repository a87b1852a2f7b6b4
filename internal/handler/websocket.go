package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"club_chat/internal/gateway"
	"club_chat/pkg/logger"
)

// newUpgrader проверяет Origin по списку; пустой список разрешает все источники.
// Запросы без Origin (не браузер) пропускаются.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}

	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

type WebSocketHandler struct {
	gateway  *gateway.Gateway
	upgrader *websocket.Upgrader
	log      logger.Logger
}

func NewWebSocketHandler(gw *gateway.Gateway, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:  gw,
		upgrader: newUpgrader(allowedOrigins),
		log:      log,
	}
}

// HandleGlobal - единая сессия: все комнаты пользователя плюс персональные уведомления
func (h *WebSocketHandler) HandleGlobal(c *gin.Context) {
	h.gateway.Serve(c.Writer, c.Request, h.upgrader, gateway.Endpoint{Mode: gateway.ModeGlobal})
}

// HandleChat - устаревшая сессия одной комнаты
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}

	h.gateway.Serve(c.Writer, c.Request, h.upgrader, gateway.Endpoint{Mode: gateway.ModeRoom, RoomID: roomID})
}

// HandleNotifications - только счетчики непрочитанных
func (h *WebSocketHandler) HandleNotifications(c *gin.Context) {
	h.gateway.Serve(c.Writer, c.Request, h.upgrader, gateway.Endpoint{Mode: gateway.ModeNotifications})
}
