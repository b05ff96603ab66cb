package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/migratehub/backend/pkg/auth"
	"github.com/migratehub/backend/pkg/constants"
)

// RequireAuth validates the bearer credential and stores the resulting
// session in the request context. Two credential kinds are accepted:
// user JWTs, and tenant-scoped executor API keys ("mh_..." prefix)
// resolved against the registry. Every flow route sits behind this
// middleware; the session's tenant scope is what the persistence layer
// enforces.
func RequireAuth(executorKeys *auth.APIKeyRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			unauthorized(c, "No authorization token provided")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid authorization header format")
			return
		}

		if strings.HasPrefix(parts[1], "mh_") {
			if executorKeys == nil {
				unauthorized(c, "Executor API keys are not enabled")
				return
			}
			tenantID, subTenantID, ok := executorKeys.Resolve(parts[1])
			if !ok {
				unauthorized(c, "Invalid executor API key")
				return
			}
			c.Set(constants.ContextKeyUser, auth.UserSession{
				ID:          constants.ActorExecutor,
				Name:        "Phase Executor",
				TenantID:    tenantID,
				SubTenantID: subTenantID,
			})
			c.Next()
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Set(constants.ContextKeyUser, claims.User)
		c.Next()
	}
}

// RequireOperator restricts a route to platform operators
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		userInterface, exists := c.Get(constants.ContextKeyUser)
		if !exists {
			unauthorized(c, "User not authenticated")
			return
		}

		user := userInterface.(auth.UserSession)
		if !user.IsOperator {
			c.JSON(http.StatusForbidden, gin.H{
				constants.ResponseError: "Forbidden",
				constants.FieldMessage:  "Only platform operators can access this resource",
				"code":                  "FORBIDDEN",
				"data":                  nil,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		constants.ResponseError: "Unauthorized",
		constants.FieldMessage:  msg,
		"code":                  "UNAUTHORIZED",
		"data":                  nil,
	})
	c.Abort()
}
