package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hmsportal/hms/internal/api/handlers"
	"github.com/hmsportal/hms/internal/services"
	"github.com/hmsportal/hms/pkg/metrics"
)

type LoggingMiddleware struct {
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewLoggingMiddleware(logger *zap.Logger, metrics *metrics.MetricsCollector) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger,
		metrics: metrics,
	}
}

// LogRequest writes one access-log line per request and records the HTTP
// metrics under the matched route template.
func (lm *LoggingMiddleware) LogRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		lm.metrics.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)

		if c.Request.URL.Path == "/health" || strings.HasPrefix(c.Request.URL.Path, "/metrics") {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		}
		if v, ok := c.Get(handlers.AuthKey); ok {
			if auth, ok := v.(services.AuthContext); ok {
				fields = append(fields,
					zap.String("user_id", auth.UserID),
					zap.String("tenant_id", auth.TenantID))
			}
		}
		lm.logger.Info("HTTP Request", fields...)
	}
}
