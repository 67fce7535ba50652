package middleware

import (
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HasPermission reports whether user was granted permission by AuthMiddleware.
func HasPermission(user *AppUser, permission string) bool {
	return user != nil && slices.Contains(user.Permissions, permission)
}

// RequirePermission must run after AuthMiddleware. Requests without a user
// get 401, users lacking permission get 403.
func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			switch {
			case user == nil:
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			case !HasPermission(user, permission):
				logger.Debug("[Auth] Permission denied", "subject", user.Subject, "permission", permission, "path", c.Path())
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}
			return next(c)
		}
	}
}
