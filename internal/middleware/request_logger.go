package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"club_chat/internal/metrics"
	"club_chat/pkg/logger"
)

// RequestLogger пишет одну структурированную строку на запрос и обновляет HTTP-метрики
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())

		// Токен в query не пишем в лог
		log.Info("HTTP request",
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", statusCode,
			"latency", latency,
		)
	}
}
