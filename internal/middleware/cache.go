package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header of every response.
func CacheControl(directive string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", directive)
		c.Next()
	}
}

// NoStore keeps clients and proxies from storing live classroom data.
func NoStore() gin.HandlerFunc {
	return CacheControl("no-store")
}

// PrivateMaxAge lets the caller's browser reuse a response for maxAgeSeconds.
func PrivateMaxAge(maxAgeSeconds int) gin.HandlerFunc {
	return CacheControl(fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
}
