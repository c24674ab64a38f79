package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthRequired middleware rejects requests without a valid session
func AuthRequired(message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetSession(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": message})
			return
		}

		// User is authenticated, continue
		c.Next()
	}
}
