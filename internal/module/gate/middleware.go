package gate

import (
	"github.com/gin-gonic/gin"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/auth"
	apperrors "github.com/notecompanion/server/internal/shared/errors"
	"github.com/notecompanion/server/internal/shared/middleware"
	"github.com/notecompanion/server/internal/shared/response"
)

// decisionKey is the gin context key holding the gate decision.
const decisionKey = "gate_decision"

// Middleware returns a gin middleware that runs the full authorization
// chain for the given resource before the handler executes.
func (g *Gate) Middleware(resource model.Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, _ := auth.BearerToken(c)

		decision, appErr := g.Authorize(c.Request.Context(), credential, resource)
		if appErr != nil {
			response.AppError(c, appErr)
			c.Abort()
			return
		}

		c.Set(middleware.UserIDKey, decision.UserID)
		c.Set(decisionKey, decision)
		c.Next()
	}
}

// IdentifyMiddleware resolves the credential to a user without running
// the subscription and quota checks. Read-only endpoints use it so a
// user whose quota is exhausted can still see their own usage.
func (g *Gate) IdentifyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, _ := auth.BearerToken(c)

		userID, ok := g.authenticate(c.Request.Context(), credential)
		if !ok {
			g.record("auth_failed")
			response.AppError(c, apperrors.AuthFailed(""))
			c.Abort()
			return
		}

		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

// DecisionFrom returns the gate decision stored by Middleware.
func DecisionFrom(c *gin.Context) (*Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return nil, false
	}
	decision, ok := v.(*Decision)
	return decision, ok
}
