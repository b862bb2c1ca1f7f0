// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, Echo instance)
// and wires the auth plugin into the global middleware chain.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/vibetube/vibetube/db"
	"github.com/vibetube/vibetube/internal/apperror"
	"github.com/vibetube/vibetube/internal/config"
	"github.com/vibetube/vibetube/internal/database"
	"github.com/vibetube/vibetube/internal/middleware"
	"github.com/vibetube/vibetube/internal/plugins/auth"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool.
	DB *sql.DB

	// Redis backs the profile cache.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Schema applies the embedded migrations once. Nil when there is no DB.
	Schema *database.SchemaInitializer

	pipeline *auth.Pipeline
	handler  *auth.Handler
}

// New creates the App for cfg, backed by db and rdb, and registers all
// middleware and routes.
func New(cfg *config.Config, sqlDB *sql.DB, rdb *redis.Client) (*App, error) {
	var cache auth.ProfileCache
	if rdb != nil {
		cache = auth.NewProfileCache(rdb, cfg.Redis.ProfileTTL)
	}

	var schema *database.SchemaInitializer
	if sqlDB != nil {
		schema = database.MigrationsInitializer(sqlDB, db.Migrations, "migrations")
	}

	a, err := newApp(cfg, auth.NewUserRepository(sqlDB), cache, schema)
	if err != nil {
		return nil, err
	}
	a.DB = sqlDB
	a.Redis = rdb
	return a, nil
}

// newApp builds the server around an arbitrary user repository and cache so
// tests can run it without MariaDB or Redis.
func newApp(cfg *config.Config, repo auth.UserRepository, cache auth.ProfileCache, schema *database.SchemaInitializer) (*App, error) {
	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	service := auth.NewAuthService(repo, cache, auth.NewPasswordHasher(), codec)
	pipeline := auth.NewPipeline(
		middleware.NewCSRFGuard(auth.CSRFSkipPaths()...),
		auth.NewSessionAuthenticator(codec),
	)

	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Trust X-Forwarded-For only from private ranges so c.RealIP() in the
	// request log is the client, not the reverse proxy.
	middleware.TrustedProxies(e, middleware.DefaultTrustedCIDRs)

	a := &App{
		Config:   cfg,
		Echo:     e,
		Schema:   schema,
		pipeline: pipeline,
		handler:  auth.NewHandler(service),
	}

	a.setupMiddleware()
	e.HTTPErrorHandler = a.errorHandler
	a.RegisterRoutes()

	return a, nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, the auth pipeline last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- method, path, status, latency, user ID.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the web client may be served from another origin.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// Schema -- make sure the users table exists before any handler needs it.
	if a.Schema != nil {
		a.Echo.Use(a.ensureSchema())
	}

	// Auth pipeline -- CSRF secret and validation, then session resolution.
	a.Echo.Use(a.pipeline.Middleware())
}

// ensureSchema retries the one-time schema setup on requests until it has
// succeeded once. The health check is exempt so it can report the outage.
func (a *App) ensureSchema() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == healthPath || a.Schema.Done() {
				return next(c)
			}
			if err := a.Schema.Ensure(c.Request().Context()); err != nil {
				return apperror.NewInternal(err)
			}
			return next(c)
		}
	}
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) and Echo's own HTTP errors to a JSON {"error": message} body.
// Internal errors are logged with their cause; clients see a generic message.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message

		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	case errors.As(err, &echoErr):
		// Router errors (404, 405) and binder errors.
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = middleware.JSONError(c, code, message)
	}
	if err != nil {
		slog.Error("failed to write error response", slog.Any("error", err))
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("server listening", slog.String("addr", addr))
	return a.Echo.Start(addr)
}
