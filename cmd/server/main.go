package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kicker-achievements/internal/config"
	"github.com/kicker-achievements/internal/engine"
	"github.com/kicker-achievements/internal/feed"
	"github.com/kicker-achievements/internal/handler"
	"github.com/kicker-achievements/internal/kafka"
	"github.com/kicker-achievements/internal/memstore"
	"github.com/kicker-achievements/internal/postgres"
	"github.com/kicker-achievements/internal/redis"
	"github.com/kicker-achievements/internal/service"
	"github.com/kicker-achievements/internal/websocket"
	"github.com/kicker-achievements/internal/worker"
)

// store is everything the process needs from the durable store
type store interface {
	engine.Store
	service.AdminStore
	service.PlayerStore
	Ping(ctx context.Context) error
	Close()
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the durable store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Notification fan-out: websocket push, feed cache, unlock topic
	publisher := feed.NewPublisher(&cfg.Feed, logger, wsHub)

	var feedCache feed.Cache
	var redisCache *redis.FeedCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		redisCache, err = redis.NewFeedCache(&cfg.Redis, &cfg.Feed, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		feedCache = redisCache
		logger.Info("connected to Redis")
	}

	// the feed service writes the cache and resyncs kickers it missed
	feedService := feed.NewService(st, feedCache, &cfg.Feed, logger)
	if feedCache != nil {
		publisher.AddSink(feedService)
		publisher.OnDrop(feedService.MarkStale)
		if err := feedService.Rebuild(ctx); err != nil {
			logger.Warn("failed to rebuild feed cache on startup, serving feed from store", "error", err)
		}
	}

	var unlockProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		unlockProducer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, unlocks will not be published", "error", err)
		} else {
			publisher.AddSink(unlockProducer)
		}
	}

	publisherCtx, stopPublisher := context.WithCancel(ctx)
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		publisher.Run(publisherCtx)
	}()

	// Initialize services
	dispatcher := engine.NewDispatcher(st, publisher, &cfg.Engine, logger)
	adminService := service.NewAdminService(st, logger)
	playerService := service.NewPlayerService(st, logger)

	// Start retry worker
	retryWorker := worker.NewRetryWorker(st, dispatcher, &cfg.Retry, logger)
	if cfg.Retry.Enabled {
		if err := retryWorker.Start(ctx); err != nil {
			logger.Error("failed to start retry worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for event ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.EventsTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, dispatcher, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(dispatcher, adminService, playerService, feedService, wsHub, logger)
	httpHandler.AddReadinessCheck("store", st)
	if redisCache != nil {
		httpHandler.AddReadinessCheck("redis", redisCache)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so no new unlocks are produced
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if err := retryWorker.Stop(); err != nil {
		logger.Error("failed to stop retry worker", "error", err)
	}

	// Drain queued notifications, then close their sinks
	stopPublisher()
	<-publisherDone
	wsHub.Stop()
	if unlockProducer != nil {
		if err := unlockProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	logger.Info("server stopped")
}

// openStore connects the configured store driver
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		return memstore.New(), nil

	case config.StoreDriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
