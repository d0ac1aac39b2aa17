package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/logger"
)

// AccessLog logs one line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		startTime := time.Now()
		c.Next()

		log.Info(path,
			zap.String(logger.FieldRequestID, RequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("query", query),
			zap.Int(logger.FieldStatus, c.Writer.Status()),
			zap.Duration("time-cost", time.Since(startTime)),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}
