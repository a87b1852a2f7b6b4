package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"club_chat/internal/service"
	apperrors "club_chat/pkg/errors"
	"club_chat/pkg/logger"
)

const ContextUserID = "user_id"

type AuthMiddleware struct {
	authService service.AuthService
	log         logger.Logger
}

func NewAuthMiddleware(authService service.AuthService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		log:         log,
	}
}

// RequireAuth использует тот же резолвер, что и WebSocket-рукопожатие
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.authService.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			status := apperrors.HTTPStatusFromError(err)
			// Пользователь из токена не найден: для REST это тоже 401
			if errors.Is(err, apperrors.ErrUserNotFound) {
				status = http.StatusUnauthorized
			}
			if status == http.StatusInternalServerError {
				m.log.Error("Failed to authenticate request", "error", err)
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}

// UserID возвращает id пользователя, установленный RequireAuth
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserID)
}
