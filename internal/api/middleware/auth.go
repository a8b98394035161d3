package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/experience_billing/internal/pkg/response"
)

const (
	UserIDKey    = "userID"
	UserIDHeader = "X-User-ID"
)

// Identity reads the caller's user id from the header set by the upstream gateway.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			response.AuthError(c, "missing "+UserIDHeader)
			c.Abort()
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			response.AuthError(c, "malformed "+UserIDHeader)
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID returns the user id stored by Identity.
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
