package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Dhoini/subscription-service/pkg/logger"
)

const (
	// RequestIDHeader заголовок с id запроса; входящее значение сохраняется
	RequestIDHeader = "X-Request-ID"
	// ContextRequestIDKey ключ id запроса в gin.Context
	ContextRequestIDKey = "requestID"
)

// RequestLogger - Gin middleware для логирования запросов.
// Проставляет X-Request-ID, если клиент его не передал.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		path := c.Request.URL.Path
		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}

		c.Next()

		statusCode := c.Writer.Status()
		kv := []interface{}{
			"request_id", requestID,
			"status_code", statusCode,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			kv = append(kv, "errors", errs)
		}

		switch {
		case statusCode >= 500:
			log.Errorw("Request handled", kv...)
		case statusCode >= 400:
			log.Warnw("Request handled", kv...)
		default:
			log.Infow("Request handled", kv...)
		}
	}
}
