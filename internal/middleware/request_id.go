// Package middleware holds the gin middlewares of the bridge.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the request id in both directions.
	HeaderRequestID = "X-Request-ID"

	requestIDKey = "requestId"
)

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one, and echoes
// it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestID returns the id assigned by RequestIDMiddleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
