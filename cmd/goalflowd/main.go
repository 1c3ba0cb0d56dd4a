// Package main is the entry point for the goalflow service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexinfer/goalflow/internal/api"
	"github.com/flexinfer/goalflow/internal/auth"
	"github.com/flexinfer/goalflow/internal/catalog"
	"github.com/flexinfer/goalflow/internal/config"
	"github.com/flexinfer/goalflow/internal/engine"
	"github.com/flexinfer/goalflow/internal/planner"
	"github.com/flexinfer/goalflow/internal/runstore"
	"github.com/flexinfer/goalflow/internal/tracing"
	"github.com/flexinfer/goalflow/internal/validator"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting goalflow",
		slog.String("port", cfg.Port),
		slog.String("catalog", cfg.CatalogPath),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx := context.Background()

	// Tracing
	tp, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "goalflow",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tp.Shutdown(ctx)

	// RunStore
	var store runstore.RunStore
	switch cfg.RunStoreType {
	case "redis":
		redisStore, err := runstore.NewRedisStore(&runstore.RedisConfig{
			URL:         cfg.RedisURL,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			TTL:         cfg.RunStoreTTL,
			EventMaxLen: cfg.EventMaxLen,
		})
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
			store = runstore.NewMemoryStore(&runstore.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTLSeconds:  int64(cfg.RunStoreTTL.Seconds()),
			})
		} else {
			store = redisStore
			logger.Info("using Redis runstore", slog.String("url", cfg.RedisURL))
		}
	default:
		store = runstore.NewMemoryStore(&runstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTLSeconds:  int64(cfg.RunStoreTTL.Seconds()),
		})
		logger.Info("using in-memory runstore")
	}
	store = runstore.Instrument(store)
	defer store.Close()

	// Validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Action catalog
	cat, err := catalog.Load(cfg.CatalogPath, func(raw []byte) error {
		return v.ValidateCatalogJSON(raw).Err()
	})
	if err != nil {
		logger.Error("failed to load catalog", "error", err, slog.String("path", cfg.CatalogPath))
		os.Exit(1)
	}
	logger.Info("catalog loaded",
		slog.Int("actions", len(cat.Actions())),
		slog.Int("agents", len(cat.AgentIDs())),
	)

	// Executor registry. Without real executors the service runs in
	// simulation mode; every agent echoes its declared effects.
	registry := engine.Registry{}
	if cfg.Simulate {
		registry = simulatedRegistry(cat, cfg.SimAgentDelay, logger)
		logger.Info("simulated executors registered",
			slog.Int("agents", len(registry)),
			slog.Duration("delay", cfg.SimAgentDelay),
		)
	} else if len(cat.AgentIDs()) > 0 {
		logger.Error("no executors registered; set SIMULATE_EXECUTORS=true or embed goalflow as a library with a real registry")
		os.Exit(1)
	}

	// Engine and run service
	eng, err := engine.New(cat, registry, store, &engine.Config{
		AgentTimeout:      cfg.AgentTimeout,
		MaxPlanIterations: cfg.MaxPlanIterations,
		MaxReplans:        cfg.MaxReplans,
		WatchExpressions:  cfg.WatchExpressions,
	}, engine.Hooks{}, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	svc := engine.NewService(eng, store, logger)

	// Standalone planner for dry-run planning requests
	p := planner.New(cat, &planner.Config{MaxIterations: cfg.MaxPlanIterations}, logger)

	// Optional OIDC auth
	var authmw *auth.Middleware
	if cfg.OIDCEnabled {
		provider, err := auth.NewProvider(ctx, &auth.Config{
			Issuer:   cfg.OIDCIssuer,
			ClientID: cfg.OIDCClientID,
		})
		if err != nil {
			logger.Error("failed to create OIDC provider", "error", err)
			os.Exit(1)
		}
		authmw = auth.NewMiddleware(provider, nil)
		logger.Info("OIDC authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
	}

	// HTTP server
	handlers := api.NewHandlers(store, svc, p, cat, v, cfg, logger)
	server := api.NewServer(handlers, authmw)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
