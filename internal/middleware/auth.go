package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lalith-99/courier/internal/auth"
)

// Context keys for the claims stored in gin.Context. Handlers use the
// getters below.
const (
	ContextKeyUserID  = "user_id"
	ContextKeyRealmID = "realm_id"
	ContextKeyEmail   = "email"
)

// AuthMiddleware rejects requests without a valid "Bearer <jwt>" header
// and stores the token's claims for the handlers behind it.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRealmID, claims.RealmID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Next()
	}
}

// GetUserID returns 0 when the request was not authenticated; no stored
// row has id 0.
func GetUserID(c *gin.Context) int64 {
	return c.GetInt64(ContextKeyUserID)
}

func GetRealmID(c *gin.Context) int64 {
	return c.GetInt64(ContextKeyRealmID)
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}
