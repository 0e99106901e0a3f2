// Package middleware contains the gin middleware for the calcstore API.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
)

// RequestLogging logs one structured line per request after it completes.
func RequestLogging(logger logging.Logger) gin.HandlerFunc {
	logger = logger.Named("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(start)),
			logging.String("client_ip", c.ClientIP()),
		}
		if user := c.GetString("user_id"); user != "" {
			fields = append(fields, logging.String("user_id", user))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logging.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		case c.Writer.Status() >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request served", fields...)
		}
	}
}

// Recovery converts panics into 500 responses with a structured log line
// instead of gin's default plain-text dump.
func Recovery(logger logging.Logger) gin.HandlerFunc {
	logger = logger.Named("http")

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked",
					logging.String("path", c.Request.URL.Path),
					logging.Any("panic", r))
				c.AbortWithStatusJSON(500, gin.H{"error": gin.H{
					"code":    "COMMON_001",
					"message": "internal error",
				}})
			}
		}()
		c.Next()
	}
}
