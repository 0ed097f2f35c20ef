package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelwatch/modelwatch/internal/analyzer"
	"github.com/modelwatch/modelwatch/internal/api"
	"github.com/modelwatch/modelwatch/internal/cache"
	"github.com/modelwatch/modelwatch/internal/database"
	"github.com/modelwatch/modelwatch/internal/ratelimit"
	"github.com/modelwatch/modelwatch/internal/redisstore"
	"github.com/modelwatch/modelwatch/internal/tracker"
	"github.com/modelwatch/modelwatch/pkg/config"
	"github.com/modelwatch/modelwatch/pkg/logging"
	"github.com/modelwatch/modelwatch/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// .env is a development convenience; absence is not an error
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "modelwatch",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	store, err := redisstore.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("Redis connection established",
		"host", cfg.Redis.Host,
		"port", cfg.Redis.Port,
	)

	// The database is optional; without it prediction history lives only
	// in Redis for the retention window.
	var db *database.DB
	var predictionRepo *database.PredictionRepository
	var modelRepo *database.ModelVersionRepository
	if cfg.Database.Enabled {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := db.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Error("Failed to apply database schema", "error", err.Error())
			os.Exit(1)
		}
		cancel()

		predictionRepo = database.NewPredictionRepository(db)
		modelRepo = database.NewModelVersionRepository(db)
		logger.Info("Database connection established", "host", cfg.Database.Host)
	}

	// Explicit construction, no lazy singletons: every component gets its
	// dependencies here and nowhere else.
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, logger, m)
	cacheService := cache.NewService(store, &cfg.Cache, logger, m)
	metricTracker := tracker.NewTracker(store, &cfg.Tracker, logger, m)
	fallback := analyzer.NewFallbackEngine(cfg.Tracker.Thresholds)

	var upstream analyzer.UpstreamClient
	if cfg.Analyzer.IsConfigured() {
		upstream = analyzer.NewGeminiClient(&cfg.Analyzer, logger, m)
		logger.Info("Upstream analyzer configured", "model", cfg.Analyzer.Model)
	} else {
		logger.Warn("Upstream analyzer not configured, every analysis will use the rule-based fallback")
	}

	retrier := analyzer.NewRetrier(analyzer.RetryConfig{
		MaxAttempts:       cfg.Analyzer.MaxAttempts,
		InitialDelay:      cfg.Analyzer.InitialDelay,
		MaxDelay:          cfg.Analyzer.MaxDelay,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}, logger, m)

	orchestrator := analyzer.NewOrchestrator(
		limiter, cacheService, upstream, retrier, fallback,
		cfg.Cache.TTL, logger, m,
	)

	handlers := api.NewHandlers(
		metricTracker, orchestrator, cacheService, limiter, fallback,
		predictionRepo, modelRepo, logger,
	)
	health := api.NewHealthHandler(store, db)
	router := api.NewRouter(cfg, handlers, health, logger, m)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("Server exited")
}
