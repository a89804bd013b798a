package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lagerbot/warehouse-bot/internal/config"
	"github.com/lagerbot/warehouse-bot/internal/dedup"
	"github.com/lagerbot/warehouse-bot/internal/extractor"
	"github.com/lagerbot/warehouse-bot/internal/handlers"
	"github.com/lagerbot/warehouse-bot/internal/inventory"
	"github.com/lagerbot/warehouse-bot/internal/middleware"
	"github.com/lagerbot/warehouse-bot/internal/pipeline"
	"github.com/lagerbot/warehouse-bot/internal/telegram"
	"github.com/lagerbot/warehouse-bot/internal/txlog"
	"github.com/lagerbot/warehouse-bot/pkg/logger"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

func main() {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.LogLevel)
	log.Info("Starting warehouse-bot", "config", cfg.String())

	metricsCollector := metrics.New()
	metricsCollector.Initialize()

	gin.SetMode(gin.ReleaseMode)

	ctx := context.Background()

	// Inventory store
	store, err := inventory.NewPostgresStore(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConnections), log)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Transaction log on its own connection
	logDB, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect transaction log database", "error", err)
		os.Exit(1)
	}
	defer logDB.Close()
	logDB.SetMaxOpenConns(cfg.DatabaseMaxConnections)
	txLog := txlog.NewPostgresLog(logDB)

	// Redis is optional: without it the ledger and snapshot cache live in
	// memory and dedup state does not survive restarts.
	var redisClient *redis.Client
	var ledger dedup.Ledger
	var snapshotCache inventory.SnapshotCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("Failed to parse Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to ping Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		ledger = dedup.NewRedisLedger(redisClient, cfg.DedupTTL)
		snapshotCache = inventory.NewRedisSnapshotCache(redisClient, cfg.SnapshotCacheTTL, log)
		log.Info("Redis connected, ledger and snapshot cache are persistent")
	} else {
		ledger = dedup.NewMemoryLedger(cfg.DedupTTL)
		snapshotCache = inventory.NewMemorySnapshotCache(cfg.SnapshotCacheTTL)
		log.Warn("No REDIS_URL configured, using in-memory ledger and cache")
	}

	// Language-model collaborators
	completer, err := extractor.NewOpenAICompleter(extractor.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.ExtractionTimeout,
	})
	if err != nil {
		log.Error("Failed to initialize extraction collaborator", "error", err)
		os.Exit(1)
	}
	ext := extractor.New(completer, log,
		extractor.WithMaxRetries(cfg.ExtractionMaxRetries),
		extractor.WithMetrics(metricsCollector))

	transcriber, err := telegram.NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranscriptionTimeout)
	if err != nil {
		log.Error("Failed to initialize transcriber", "error", err)
		os.Exit(1)
	}

	// Inventory wiring
	catalog := inventory.NewCatalog(store, snapshotCache, metricsCollector, log)
	matcher := inventory.NewLLMMatcher(completer, log)
	resolver := inventory.NewResolver(cfg.FuzzyMatchThreshold, matcher, log)
	mutator := inventory.NewMutator(store, catalog, cfg.AlertThreshold, log)

	// Telegram transport
	bot, err := telegram.NewBot(cfg.TelegramBotToken, cfg.TelegramWebhookURL, cfg.TelegramSecretToken, log)
	if err != nil {
		log.Error("Failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}

	orchestrator := pipeline.New(pipeline.Config{
		Extractor:      ext,
		Ledger:         ledger,
		Catalog:        catalog,
		Resolver:       resolver,
		Mutator:        mutator,
		Log:            txLog,
		Notifier:       bot,
		Metrics:        metricsCollector,
		Logger:         log,
		AllowedChatIDs: cfg.TelegramAllowedChatIDs,
		AllowedUserIDs: cfg.TelegramAllowedUserIDs,
	})
	if err := bot.SetupWebhook(); err != nil {
		log.Error("Failed to register webhook", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bot.CleanupWebhook(); err != nil {
			log.Warn("Failed to clean up webhook", "error", err)
		}
	}()

	webhookHandler := telegram.NewHandler(bot, transcriber, orchestrator, cfg.TelegramSecretToken, log, metricsCollector)

	// Public router: webhook only
	publicRouter := gin.New()
	publicRouter.Use(gin.Recovery())
	publicRouter.Use(requestLogger(log))
	publicRouter.Use(middleware.MetricsMiddleware(metricsCollector))
	publicRouter.POST("/webhook/telegram", webhookHandler.HandleWebhook)

	// Internal router: health and metrics
	healthDeps := []handlers.Dependency{
		{Name: "postgresql", Ping: store.Ping},
		{Name: "transaction_log", Ping: txLog.Ping},
		{Name: "telegram", Ping: bot.Ping},
	}
	if redisClient != nil {
		healthDeps = append(healthDeps, handlers.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	healthHandler := handlers.NewHealthHandler(log, healthDeps...)

	internalRouter := gin.New()
	internalRouter.Use(gin.Recovery())
	internalRouter.Use(requestLogger(log))
	internalRouter.GET("/health", healthHandler.Health)
	internalRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	publicServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServiceHost, cfg.ServicePort),
		Handler:      publicRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	internalServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServiceHost, cfg.InternalServicePort),
		Handler:      internalRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Dependency health gauge updates
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metricsCollector.UpdateDependencyHealth("postgres", store.Ping(ctx) == nil)
			metricsCollector.UpdateDependencyHealth("telegram", bot.Ping(ctx) == nil)
			if redisClient != nil {
				metricsCollector.UpdateDependencyHealth("redis", redisClient.Ping(ctx).Err() == nil)
			}
			cancel()
		}
	}()

	go func() {
		log.Info("Public server starting", "address", publicServer.Addr)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Public server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		log.Info("Internal server starting", "address", internalServer.Addr)
		if err := internalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Internal server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		if err := publicServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Public server forced to shutdown", "error", err)
		}
	}()
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Internal server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}

// requestLogger is a middleware that logs HTTP requests
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency,
			"ip", c.ClientIP(),
		)
	}
}
