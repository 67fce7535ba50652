package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/paperqa/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// StatusHandler reports build progress. It answers 503 until the service
// is ready so it can double as a readiness probe.
func StatusHandler(c echo.Context) error {
	service := c.(*middleware.AppContext).App.Service
	status := service.Status()
	if status.Error != "" {
		status.Error = "Index build failed"
	}

	code := http.StatusOK
	if !service.Ready() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func HealthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}
