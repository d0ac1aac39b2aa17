package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/logger"
)

// Recovery turns a panic into a logged, generic 500 in the bridge's error
// shape. Panic details never reach the caller.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("recovered from panic",
					zap.String(logger.FieldRequestID, RequestID(c)),
					zap.String("router", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("panic", fmt.Sprintf("%v", err)),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
