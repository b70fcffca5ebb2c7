// Package main is the entrypoint for the Recipebox API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/cache"
	"github.com/recipebox/recipebox/internal/config"
	"github.com/recipebox/recipebox/internal/handler"
	"github.com/recipebox/recipebox/internal/metrics"
	"github.com/recipebox/recipebox/internal/middleware"
	"github.com/recipebox/recipebox/internal/repository"
	"github.com/recipebox/recipebox/internal/server"
	"github.com/recipebox/recipebox/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", sanitizeError(err))
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.NewWithOptions(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL,
		cache.WithNamespace(cfg.RedisKeyPrefix),
		cache.WithPoolSize(cfg.RedisPoolSize),
	)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewInMemory()
	recipeService := service.NewRecipeService(repo, recorder)

	r := setupRouter(routerDeps{
		handler: handler.New(),
		health:  handler.NewHealthHandler(repo, cacheClient),
		metrics: handler.NewMetricsHandler(recorder),
		recipes: handler.NewRecipeHandler(recipeService, logger),
		apiKeys: handler.NewAPIKeyHandler(repo, cacheClient, keyEnv(cfg), logger),
		keys:    repo,
		cache:   cacheClient,
		cfg:     cfg,
		logger:  logger,
	})

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With(slog.String("service", "recipebox"))
	slog.SetDefault(logger)

	return logger
}

// keyEnv picks the environment marker embedded in issued API keys.
func keyEnv(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return auth.EnvTest
	}
	return auth.EnvLive
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requestCache is the Redis-backed state the protected routes need.
// *cache.Cache satisfies it.
type requestCache interface {
	middleware.AuthCache
	middleware.RateLimiter
}

type routerDeps struct {
	handler *handler.Handler
	health  *handler.HealthHandler
	metrics *handler.MetricsHandler
	recipes *handler.RecipeHandler
	apiKeys *handler.APIKeyHandler
	keys    middleware.KeyStore
	cache   requestCache
	cfg     *config.Config
	logger  *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg := d.cfg
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	r.Use(chimiddleware.StripSlashes)

	// Unauthenticated
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/metrics", d.metrics.Metrics)
	r.Get("/", d.handler.Hello)

	authCfg := middleware.AuthConfig{
		Logger:      d.logger,
		Keys:        d.keys,
		Cache:       d.cache,
		MinDuration: cfg.AuthMinDuration,
	}
	rateLimitCfg := middleware.RateLimitConfig{
		Logger:      d.logger,
		Limiter:     d.cache,
		APIEnabled:  cfg.RateLimitAPIEnabled,
		IPEnabled:   cfg.RateLimitIPEnabled,
		IPPerMinute: cfg.RateLimitIPPerMin,
		IPBurst:     cfg.RateLimitIPBurst,
	}

	// protected wraps a route group in the authentication chain. The IP
	// limiter runs first so key guessing never reaches Argon2.
	protected := func(routes func(r chi.Router)) func(r chi.Router) {
		return func(r chi.Router) {
			r.Use(middleware.RateLimitIP(rateLimitCfg))
			r.Use(middleware.Auth(authCfg))
			r.Use(middleware.RateLimitAPI(rateLimitCfg))
			routes(r)
		}
	}

	recipes := protected(func(r chi.Router) {
		r.With(middleware.RequireRead()).Get("/", d.recipes.List)
		r.With(middleware.RequireWrite()).Post("/", d.recipes.Create)
		r.With(middleware.RequireRead()).Get("/{id}", d.recipes.Get)
		r.With(middleware.RequireWrite()).Put("/{id}", d.recipes.Replace)
		r.With(middleware.RequireWrite()).Patch("/{id}", d.recipes.Patch)
		r.With(middleware.RequireWrite()).Delete("/{id}", d.recipes.Delete)
	})

	apiKeys := protected(func(r chi.Router) {
		r.With(middleware.RequireRead()).Get("/", d.apiKeys.List)
		r.With(middleware.RequireAdmin()).Post("/", d.apiKeys.Create)
		r.With(middleware.RequireAdmin()).Delete("/{id}", d.apiKeys.Revoke)
		r.With(middleware.RequireAdmin()).Post("/{id}/rotate", d.apiKeys.Rotate)
	})

	r.Route("/recipes", recipes)
	r.Route("/api/v1/recipes", recipes)
	r.Route("/api-keys", apiKeys)
	r.Route("/api/v1/api-keys", apiKeys)

	r.NotFound(d.handler.NotFound)
	r.MethodNotAllowed(d.handler.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

// redactURL strips the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

// sanitizeError replaces every secret in err's message with its redacted form.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
