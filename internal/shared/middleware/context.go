package middleware

import "github.com/gin-gonic/gin"

// UserIDKey is the gin context key the authorization middleware uses to
// stash the resolved user ID.
const UserIDKey = "user_id"

// GetUserID returns the authorized user ID from context. The second
// return reports whether the authorization middleware set one.
func GetUserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	userID, ok := value.(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}
