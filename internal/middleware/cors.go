package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS lets pages from allowedOrigins call the API. The form itself is
// served from the bridge's own origin and needs no entry. Requests from any
// other origin are refused unless they are plain reads.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !OriginAllowed(c.Request, allowedOrigins) {
			switch c.Request.Method {
			case http.MethodGet, http.MethodHead:
				c.Next()
			default:
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			}
			return
		}

		c.Header("Vary", "Origin")
		if !sameOrigin(c.Request, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// OriginAllowed reports whether r carries no Origin header, comes from the
// host serving it, or comes from one of allowed.
func OriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || sameOrigin(r, origin) {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(origin, strings.TrimRight(a, "/")) {
			return true
		}
	}
	return false
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}
