/**
 * @description
 * This is the main entry point for the affiliate-service. It is responsible
 * for initializing all components of the service: configuration, database
 * connection, Redis, the partner API client, the RabbitMQ producer, the sync
 * orchestrator with its cron schedule, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the limiter and run lease.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/partnerclient, pkg/rabbitmq: Partner API client and event producer.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coinatlas/affiliate-service/internal/api"
	"github.com/coinatlas/affiliate-service/internal/app"
	"github.com/coinatlas/affiliate-service/internal/config"
	"github.com/coinatlas/affiliate-service/internal/store"
	"github.com/coinatlas/affiliate-service/pkg/partnerclient"
	"github.com/coinatlas/affiliate-service/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.SyncTriggerSecret) == "" {
		logger.Error("sync trigger secret must be configured", "env", "SYNC_TRIGGER_SECRET")
		os.Exit(1)
	}

	logger.Info("starting affiliate-service", "port", cfg.ServerPort, "program", cfg.AffiliateProgram)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Missing partner credentials are fatal: the signer can never produce a
	// valid request, so the service refuses to boot rather than fail every run.
	partnerClient, err := partnerclient.NewClient(
		cfg.PartnerAPIBaseURL,
		cfg.PartnerAPIKey,
		cfg.PartnerAPISecret,
		cfg.PartnerAPIPassphrase,
	)
	if err != nil {
		logger.Error("partner api client init failed", "error", err)
		os.Exit(1)
	}

	// Redis backs the inbound rate limiter and the sync run lease. Both
	// degrade (fail open, guard disabled) if Redis is unreachable.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; rate limiting and run lease disabled", "env", "REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; rate limiting and run lease disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed; rate limiting and run lease disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
			}
			cancelPing()
		}
	}

	// RabbitMQ producer for sync completion events. The service degrades to
	// log-only if the broker is unreachable at boot.
	var producer *rabbitmq.EventProducer
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("rabbitmq url missing; sync events will not be published", "env", "RABBITMQ_URL")
	} else {
		producer, err = rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; sync events will not be published", "error", err)
			producer = nil
		} else {
			defer producer.Close()
			logger.Info("rabbitmq producer connected")
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Assemble the sync pipeline: fetcher -> reconciler -> orchestrator.
	fetcher := app.NewBatchFetcher(
		partnerClient,
		cfg.SyncChunkSize,
		time.Duration(cfg.SyncChunkDelayMS)*time.Millisecond,
		logger,
	)
	reconciler := app.NewReconciler(repository, logger)

	var lease app.RunLease
	if redisClient != nil {
		lease = app.NewRedisRunLease(redisClient, cfg.RedisPrefix)
	}

	var publisher app.EventPublisher
	if producer != nil {
		publisher = producer
	}

	syncService := app.NewService(
		repository,
		fetcher,
		reconciler,
		lease,
		publisher,
		cfg.SyncChunkSize,
		time.Duration(cfg.SyncMaxRunSeconds)*time.Second,
		logger,
	)

	// Cron-triggered runs; manual runs go through the trigger endpoint.
	scheduler := app.NewScheduler(syncService, cfg.AffiliateProgram, cfg.SyncSchedule, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Inbound tier limiter over Redis; a nil counter means every decision is
	// a degraded allow, which matches the fail-open policy.
	window := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
	tiers := map[string]app.TierLimit{
		"free":  {MaxRequests: cfg.RateLimitFreePerWindow, Window: window},
		"pro":   {MaxRequests: cfg.RateLimitProPerWindow, Window: window},
		"admin": {MaxRequests: cfg.RateLimitAdminPerWindow, Window: window},
	}
	var counter app.WindowCounter = unavailableCounter{}
	if redisClient != nil {
		counter = app.NewRedisWindowCounter(redisClient, cfg.RedisPrefix)
	}
	limiter := app.NewSlidingWindowLimiter(counter, tiers, logger)

	// Initialize the API handlers and routes.
	handlers := api.NewSyncHandlers(syncService, repository, cfg.SyncTriggerSecret, cfg.AffiliateProgram, logger)
	router := chi.NewRouter()
	router.Mount("/affiliate", api.AffiliateRoutes(handlers, limiter, cfg.SupabaseJWTSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}

// unavailableCounter stands in when Redis is not configured; the limiter
// turns its error into a degraded allow.
type unavailableCounter struct{}

func (unavailableCounter) ConsumeWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 0, 0, fmt.Errorf("rate limit backend not configured")
}
