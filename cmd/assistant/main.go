package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/af-corp/facility-assistant/internal/api"
	"github.com/af-corp/facility-assistant/internal/assistant"
	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/policy"
	"github.com/af-corp/facility-assistant/internal/ratelimit"
	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/tools"
	"github.com/af-corp/facility-assistant/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := telemetry.NewLogger(os.Stdout, "info", "json")
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()
	logger = telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	metrics := telemetry.NewMetrics()

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (caching and rate limits disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	source, closeSource, err := buildSource(cfg, rdb, logger)
	if err != nil {
		logger.Error("failed to set up room data source", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	// Optional tool-call policy
	var guard tools.Guard
	if cfg.Policy.Enabled {
		evaluator := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
		if err := evaluator.Load(); err != nil {
			logger.Error("failed to load tool policies", "error", err)
			os.Exit(1)
		}
		loader.OnReload(func() {
			if err := evaluator.Load(); err != nil {
				logger.Error("tool policy reload failed, keeping previous policies", "error", err)
			}
		})
		guard = evaluator
	}

	// Provider routing and orchestrator; both are rebuilt on config reload.
	breaker := cfg.Routing.CircuitBreaker
	health := transport.NewHealthTracker(breaker.FailureThreshold, breaker.RecoveryProbeInterval)

	var current atomic.Pointer[assistant.Orchestrator]
	build := func() error {
		asst := loader.Assistant()
		router, err := transport.BuildFromConfig(asst, loader.Providers(), loader.Config().Routing, health)
		if err != nil {
			return err
		}
		current.Store(assistant.FromConfig(router, asst, guard, metrics))
		return nil
	}
	if err := build(); err != nil {
		logger.Error("failed to build provider routes", "error", err)
		os.Exit(1)
	}
	loader.OnReload(func() {
		if err := build(); err != nil {
			logger.Error("provider reload failed, keeping previous routes", "error", err)
			return
		}
		logger.Info("assistant reloaded")
	})

	budget := ratelimit.NewTokenBudget(rdb)
	handler := api.NewHandler(source, current.Load, budget, loader.Config, metrics)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", healthHandler(health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(
			ratelimit.NewLimiter(rdb),
			budget,
			func() config.RateLimitConfig { return loader.Config().RateLimit },
			metrics,
		))
		handler.Routes(r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("assistant starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("assistant stopped")
}

// buildSource returns the configured dataset source, wrapped in the Redis
// snapshot cache when enabled, and a func releasing its resources.
func buildSource(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (rooms.Source, func(), error) {
	var (
		source  rooms.Source
		cleanup = func() {}
	)

	switch cfg.Dataset.Source {
	case "", "file":
		source = rooms.NewFileSource(cfg.Dataset.Dir)
		logger.Info("serving room data from files", "dir", cfg.Dataset.Dir)
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("parse database config: %w", err)
		}
		if cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (room queries will fail until it is)", "error", err)
		} else {
			logger.Info("database connected")
		}
		source = rooms.NewPostgresSource(pool)
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown dataset source %q", cfg.Dataset.Source)
	}

	if cfg.Dataset.Cache {
		source = rooms.NewCachedSource(source, rdb, cfg.Dataset.CacheTTL)
	}
	return source, cleanup, nil
}

func healthHandler(health *transport.HealthTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "healthy",
			"version":   version,
			"providers": health.States(),
		})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	return "req_" + uuid.NewString()
}
