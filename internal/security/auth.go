package security

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is the gin context key for the caller-supplied user ID.
const ContextKeyUserID = "userID"

// GetUserID returns the user_id resolved for this request.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// UserIDMiddleware resolves user_id from the query string or the x-user-id
// header and rejects the request with 400 if neither is present.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			userID = c.GetHeader("x-user-id")
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "user_id is required (query string or x-user-id header)"})
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}
