package middleware

import (
	"context"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/rag"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// QAService is what the handlers need from rag.Service.
type QAService interface {
	Ask(ctx context.Context, question string) (*common.Answer, error)
	Status() rag.Status
	Ready() bool
}

type App struct {
	Service      QAService
	Key          keyfunc.Keyfunc
	MasterAPIKey string
}

// AuthEnabled reports whether requests must carry credentials.
func (a *App) AuthEnabled() bool {
	return a.MasterAPIKey != "" || a.Key != nil
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
