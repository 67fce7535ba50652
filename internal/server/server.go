package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "github.com/OFFIS-RIT/paperqa/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/rag"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func newRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return ""
	}
	return id
}

// NewEcho returns an echo instance with the middleware stack and routes
// installed.
func NewEcho(app *mid.App, staticDir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: newRequestID}))
	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e, staticDir)
	return e
}

func Init() {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat, embed, err := NewAIClients(cfg)
	if err != nil {
		logger.Fatal("Failed to create AI clients", "err", err)
	}

	cache, err := NewCache(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open document cache", "err", err)
	}

	vs, closeStore, err := NewVectorStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open vector store", "err", err)
	}
	defer closeStore()

	tracker := util.NewProgressTracker()
	fetcher := NewFetcher(cfg, cache, tracker)
	service, err := NewService(cfg, fetcher, chat, embed, vs, tracker)
	if err != nil {
		logger.Fatal("Failed to create service", "err", err)
	}

	app := &mid.App{
		Service:      service,
		MasterAPIKey: cfg.MasterAPIKey,
	}
	if cfg.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.AuthURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = k
	}
	if !cfg.AuthEnabled() {
		logger.Warn("No MASTER_API_KEY or AUTH_URL set, /query is open")
	}

	e := NewEcho(app, cfg.StaticDir)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	go func() {
		start := time.Now()
		if err := service.Build(ctx, cfg.BuildConfig()); err != nil {
			if ctx.Err() != nil || errors.Is(err, rag.ErrStopped) {
				logger.Info("Index build abandoned", "reason", err)
				return
			}
			logger.Fatal("Failed to build index", "err", err, "query", cfg.Query)
		}
		logger.Info("Index ready", "duration", time.Since(start).Round(time.Millisecond))
	}()

	<-ctx.Done()
	service.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}

	m := chat.GetMetrics()
	logger.Info("Model usage", "input_tokens", m.InputTokens, "output_tokens", m.OutputTokens, "duration_ms", m.DurationMs)
}
