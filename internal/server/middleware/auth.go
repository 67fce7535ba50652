package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	PermissionQuery  = "paper.query"
	PermissionStatus = "index.status"
)

var allPermissions = []string{
	PermissionQuery,
	PermissionStatus,
}

var defaultPermissions = []string{
	PermissionQuery,
}

// AuthMiddleware accepts the master API key or a JWT verified against the
// configured JWKS. With neither configured every request passes as an
// anonymous user holding the default permissions.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ac := c.(*AppContext)
		app := ac.App

		if !app.AuthEnabled() {
			ac.User = &AppUser{Role: "anonymous", Permissions: allPermissions}
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		if app.MasterAPIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(app.MasterAPIKey)) == 1 {
			ac.User = &AppUser{
				Subject:     "master",
				Role:        "admin",
				Permissions: allPermissions,
			}
			return next(c)
		}

		if app.Key == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		parsed, err := jwt.Parse(token, app.Key.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		subject, _ := claims.GetSubject()
		if subject == "" {
			if id, ok := claims["id"].(string); ok {
				subject = id
			}
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		switch {
		case role == "admin" && len(permissions) == 0:
			permissions = allPermissions
		case len(permissions) == 0:
			permissions = defaultPermissions
		}

		ac.User = &AppUser{
			Subject:     subject,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}
