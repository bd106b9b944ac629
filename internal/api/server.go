// Package api exposes discovery and change detection over HTTP for the
// orchestrating caller.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/steveyegge/rdscout/internal/discovery"
	"github.com/steveyegge/rdscout/internal/storage"
	"github.com/steveyegge/rdscout/internal/types"
)

// Discoverer runs full discovery for a scope
type Discoverer interface {
	Discover(ctx context.Context, scope string) (*discovery.Result, error)
}

// ChangeAnalyzer runs change detection for a scope
type ChangeAnalyzer interface {
	Analyze(ctx context.Context, scope string, newDocs []types.Document, existing []types.ExistingProject) (*types.ChangeAnalysisResult, error)
	AnalyzeBatch(ctx context.Context, scope, batchID string, existing []types.ExistingProject) (*types.ChangeAnalysisResult, error)
}

// Pinger is implemented by stores that can report liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface calls into
type Deps struct {
	Discoverer Discoverer
	Changes    ChangeAnalyzer        // optional; nil disables the changes route
	Runs       storage.RunReader     // required
	Projects   storage.ProjectReader // required
	Health     Pinger                // optional
	Logger     *slog.Logger
}

// Config holds HTTP server settings
type Config struct {
	AppName      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AccessLog enables per-request logging middleware
	AccessLog bool
}

// DefaultConfig returns the default server settings
func DefaultConfig() Config {
	return Config{
		AppName:      "rdscout",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		AccessLog:    true,
	}
}

// Server wraps a fiber app wired to the discovery core
type Server struct {
	app    *fiber.App
	deps   Deps
	logger *slog.Logger
}

// NewServer builds the app and registers every route
func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if deps.Runs == nil || deps.Projects == nil {
		return nil, fmt.Errorf("run and project readers are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}

	s := &Server{app: app, deps: deps, logger: logger}
	s.register(app)
	return s, nil
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) register(app *fiber.App) {
	api := app.Group("/api/v1")
	api.Get("/health", s.health)

	scopes := api.Group("/scopes/:scope")
	scopes.Post("/discover", s.discover)
	scopes.Post("/changes", s.analyzeChanges)
	scopes.Get("/runs", s.listRuns)
	scopes.Get("/projects", s.listProjects)

	api.Get("/runs/:id", s.getRun)
}

// errorResponse writes err with the status its kind maps to
func (s *Server) errorResponse(c fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	body := fiber.Map{"error": err.Error()}
	if types.IsRetryable(err) {
		body["retryable"] = true
	}
	return c.Status(status).JSON(body)
}

// statusFor maps core error kinds to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrScopeBusy):
		return fiber.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case types.IsKind(err, types.KindInvalidInput), types.IsKind(err, types.KindInvalidConfig):
		return fiber.StatusBadRequest
	case types.IsKind(err, types.KindUpstream):
		return fiber.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
