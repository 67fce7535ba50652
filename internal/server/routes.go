package server

import (
	"os"

	"github.com/OFFIS-RIT/paperqa/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/paperqa/backend/internal/server/routes"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, staticDir string) {
	e.GET("/health", routes.HealthHandler)
	e.GET("/status", routes.StatusHandler,
		middleware.AuthMiddleware,
		middleware.RequirePermission(middleware.PermissionStatus),
	)

	e.POST("/query", routes.QueryHandler,
		middleware.AuthMiddleware,
		middleware.RequirePermission(middleware.PermissionQuery),
	)

	if staticDir == "" {
		return
	}
	if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
		logger.Warn("Static directory not found, frontend disabled", "dir", staticDir)
		return
	}
	e.Static("/", staticDir)
}
