package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// Browsers cannot set headers on websocket upgrades.
	queryName = "api_key"
)

// APIKeyMiddleware checks the X-API-Key header, falling back to the api_key
// query parameter. An empty apiKey disables authentication.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
				"code":  "FORBIDDEN",
			})
			return
		}

		c.Next()
	}
}
