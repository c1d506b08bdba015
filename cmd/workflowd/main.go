// Package main is the entry point for the workflow engine service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botsmith-ai/workflow-engine/internal/agent"
	"github.com/botsmith-ai/workflow-engine/internal/api"
	"github.com/botsmith-ai/workflow-engine/internal/condition"
	"github.com/botsmith-ai/workflow-engine/internal/config"
	"github.com/botsmith-ai/workflow-engine/internal/engine"
	"github.com/botsmith-ai/workflow-engine/internal/flowstore"
	"github.com/botsmith-ai/workflow-engine/internal/registry"
	"github.com/botsmith-ai/workflow-engine/internal/runstore"
	"github.com/botsmith-ai/workflow-engine/internal/tracing"
	"github.com/botsmith-ai/workflow-engine/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
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

	logger.Info("starting workflow engine",
		slog.String("port", cfg.Port),
		slog.String("store", cfg.StoreType),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize tracing
	tp, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:    "workflow-engine",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize stores based on configuration. Redis failures fall back to
	// memory so the service still comes up.
	var (
		store  runstore.RunStore
		flows  flowstore.Store
		agents registry.Registry
	)
	switch cfg.StoreType {
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
			break
		}
		store = redisStore
		flows = flowstore.NewRedisStore(redisStore.Client(), "wfdefs")
		agents, err = registry.NewRedisRegistry(redisStore.Client(), "wfagents", registry.Builtin())
		if err != nil {
			logger.Error("failed to seed agent registry", "error", err)
			agents = registry.NewMemoryRegistry(registry.Builtin())
		}
		logger.Info("using Redis stores", slog.String("url", cfg.RedisURL))
	}
	if store == nil {
		store = runstore.NewMemoryStore(&runstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTLSeconds:  int64(cfg.RunStoreTTL.Seconds()),
		})
		flows = flowstore.NewMemoryStore()
		agents = registry.NewMemoryRegistry(registry.Builtin())
		logger.Info("using in-memory stores")
	}
	defer store.Close()
	defer flows.Close()
	defer agents.Close()

	// Condition evaluator and workflow validator
	cond := condition.New()
	v, err := validator.New(cond)
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Step executor against the agent service
	invoker := agent.NewHTTPInvoker(&agent.HTTPConfig{
		BaseURL: cfg.AgentServiceURL,
	})
	exec := engine.NewExecutor(invoker, cfg.DefaultStepTimeout)

	// Run coordinator
	coord := engine.New(store, exec, cond, &engine.Config{
		StepBudget:     cfg.StepBudget,
		MaxParallelism: cfg.MaxParallelism,
		Retry: engine.RetryPolicy{
			Base: cfg.RetryBaseBackoff,
			Max:  cfg.RetryMaxBackoff,
		},
	}, logger)

	logger.Info("coordinator initialized",
		slog.Int("step_budget", cfg.StepBudget),
		slog.Int("max_parallelism", cfg.MaxParallelism),
		slog.Duration("step_timeout", cfg.DefaultStepTimeout),
		slog.String("agent_service", cfg.AgentServiceURL),
	)

	// Initialize API handlers
	handlers := api.NewHandlers(store, flows, agents, coord, v, cfg, logger)
	server := api.NewServer(handlers)
	defer server.Close()

	var root http.Handler = server.Router()
	if cfg.TracingEnabled {
		root = tracing.Middleware("workflow-engine")(root)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
