package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/paperqa/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/rag"

	"github.com/labstack/echo/v4"
)

const (
	msgInvalidParams  = "Invalid request params"
	msgNotInitialized = "Retriever not initialized"
	msgGenerateFailed = "Failed to generate answer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func QueryHandler(c echo.Context) error {
	type queryRequest struct {
		Query string `json:"query" validate:"required"`
	}

	data := new(queryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidParams})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidParams})
	}

	service := c.(*middleware.AppContext).App.Service
	answer, err := service.Ask(c.Request().Context(), data.Query)
	if err != nil {
		return queryError(c, data.Query, err)
	}

	return c.JSON(http.StatusOK, answer)
}

func queryError(c echo.Context, query string, err error) error {
	stage := ""
	var askErr *rag.AskError
	if errors.As(err, &askErr) {
		stage = askErr.Stage
	}

	switch {
	case errors.Is(err, rag.ErrNotReady):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: msgNotInitialized})
	case errors.Is(err, rag.ErrEmptyQuestion):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidParams})
	case errors.Is(err, rag.ErrUpstreamTimeout):
		logger.Error("[Query] Answer generation timed out", "query", query, "stage", stage, "err", err)
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: msgGenerateFailed})
	default:
		logger.Error("[Query] Failed to answer", "query", query, "stage", stage, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: msgGenerateFailed})
	}
}

