package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"club_chat/internal/metrics"
	"club_chat/internal/service"
	"club_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	limit            int
	windowSeconds    int
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, limit, windowSeconds int, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		limit:            limit,
		windowSeconds:    windowSeconds,
		log:              log,
	}
}

// Limit ограничивает REST-запросы по IP. Без Redis пропускает все запросы.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimitService == nil || m.limit <= 0 {
			c.Next()
			return
		}

		key := "http:" + c.ClientIP()
		allowed, err := m.rateLimitService.CheckLimit(c.Request.Context(), key, m.limit, m.windowSeconds)
		if err != nil {
			// Redis недоступен: не блокируем API
			m.log.Warn("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimitHits.WithLabelValues("http").Inc()
			c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		count, err := m.rateLimitService.Increment(c.Request.Context(), key, m.windowSeconds)
		if err != nil {
			m.log.Warn("Rate limit increment failed", "error", err)
		}

		remaining := m.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
