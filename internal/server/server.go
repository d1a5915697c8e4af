// Package server exposes the alerting engine and emergency controller over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mr-karan/safetyvision/internal/alerts"
	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/internal/emergency"
	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/internal/sqlite"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// ServerOptions holds the dependencies of the HTTP server.
type ServerOptions struct {
	Config    *config.Config
	Alerts    *alerts.Manager
	Emergency *emergency.Controller
	// SQLite is optional; without it the persisted history routes are not mounted.
	SQLite    *sqlite.DB
	Metrics   *metrics.Recorder
	Hub       *Hub
	Logger    *slog.Logger
	BuildInfo string
	Version   string
}

// Server is the fiber HTTP server.
type Server struct {
	app       *fiber.App
	config    *config.Config
	alerts    *alerts.Manager
	emergency *emergency.Controller
	sqlite    *sqlite.DB
	metrics   *metrics.Recorder
	hub       *Hub
	log       *slog.Logger
	buildInfo string
	version   string
}

// New creates the server and registers every route.
func New(opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(log)
	}

	timeout := cfg.Server.HTTPServerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	app := fiber.New(fiber.Config{
		AppName:               "safetyvision",
		DisableStartupMessage: true,
		ReadTimeout:           timeout,
		WriteTimeout:          timeout,
		ErrorHandler:          errorHandler(log),
	})

	s := &Server{
		app:       app,
		config:    cfg,
		alerts:    opts.Alerts,
		emergency: opts.Emergency,
		sqlite:    opts.SQLite,
		metrics:   opts.Metrics,
		hub:       hub,
		log:       log.With("component", "server"),
		buildInfo: opts.BuildInfo,
		version:   opts.Version,
	}

	app.Use(recover.New())
	app.Use(s.requestLogger)
	s.setupRoutes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the dashboard websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", "address", s.config.Server.Address)
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown stops accepting connections and closes dashboard streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start))
	return err
}

func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("unhandled request error", "path", c.Path(), "error", err)
			return SendErrorWithType(c, code, "internal server error", models.GeneralErrorType)
		}
		errType := models.GeneralErrorType
		switch code {
		case fiber.StatusBadRequest:
			errType = models.ValidationErrorType
		case fiber.StatusNotFound:
			errType = models.NotFoundErrorType
		}
		return SendErrorWithType(c, code, err.Error(), errType)
	}
}

// SendSuccess writes a success envelope.
func SendSuccess(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(models.APIResponse{Status: "success", Data: data})
}

// SendError writes an error envelope with the general error type.
func SendError(c *fiber.Ctx, status int, message string) error {
	return SendErrorWithType(c, status, message, models.GeneralErrorType)
}

// SendErrorWithType writes an error envelope.
func SendErrorWithType(c *fiber.Ctx, status int, message string, errType models.ErrorType) error {
	return c.Status(status).JSON(models.APIResponse{Status: "error", Message: message, ErrorType: errType})
}
