package handlers

import (
	"net/http"
	"strings"

	"github.com/SAP-F-2025/exam-service/internal/auth"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"
	userIDKey    = "user_id"
)

// AuthMiddleware verifies the bearer token and stores the caller in the gin context.
func AuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
			})
			return
		}

		claims, err := tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			utils.GetLoggerFromContext(c).Warn("Rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Invalid or expired token",
			})
			return
		}

		principal, err := claims.Principal()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "Invalid or expired token",
			})
			return
		}

		c.Set(principalKey, principal)
		c.Set(userIDKey, principal.UserID)
		c.Next()
	}
}

// RequireRole rejects callers without the role, pointing them back to their dashboard.
func RequireRole(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(principalKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Message: "User not authenticated",
			})
			return
		}
		if value.(models.Principal).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message:  "Forbidden - " + string(role) + " role required",
				Redirect: DashboardPath,
			})
			return
		}
		c.Next()
	}
}
