package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/telmind/didgate/internal/classify"
	"github.com/telmind/didgate/internal/config"
	"github.com/telmind/didgate/internal/events"
	"github.com/telmind/didgate/internal/httpserver"
	"github.com/telmind/didgate/internal/logging"
	"github.com/telmind/didgate/internal/pipeline"
	"github.com/telmind/didgate/internal/smpp"
	"github.com/telmind/didgate/internal/store"
	"github.com/telmind/didgate/internal/webhook"
)

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(logging.NewContextHandler(baseHandler))
	slog.SetDefault(logger)
	slog.Info("Logging initialized", "level", logLevel.String())

	// --- Database ---
	slog.Info("Connecting to database...")
	dbpool, err := pgxpool.New(appCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	db := store.NewPostgresStore(dbpool)
	if err := db.Ping(appCtx); err != nil {
		slog.Error("Failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Database connection pool established")

	// --- Redis (real-time event layer) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	var publisher events.Publisher = events.NewRedisPublisher(rdb)
	if err := rdb.Ping(appCtx).Err(); err != nil {
		slog.Warn("Redis unreachable, events disabled", slog.Any("error", err))
		publisher = events.NopPublisher{}
	}

	// --- Core Services ---
	slog.Info("Initializing services...")
	classifier, err := classify.Load(cfg.ClassifierRulesPath)
	if err != nil {
		slog.Error("Failed to load classification rules", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Classification rules loaded", slog.Int("platforms", len(classifier.Codes())))

	// A classifier rule without a matching active platform row means that
	// traffic will classify and then drop; worth flagging at startup.
	active, err := db.FindActivePlatforms(appCtx)
	if err != nil {
		slog.Error("Failed to load active platforms", slog.Any("error", err))
		os.Exit(1)
	}
	activeCodes := make(map[string]bool, len(active))
	for _, p := range active {
		activeCodes[p.Code] = true
	}
	for _, code := range classifier.Codes() {
		if !activeCodes[code] {
			slog.Warn("Classifier rule has no active platform", slog.String("platform", code))
		}
	}
	slog.Info("Active platforms loaded", slog.Int("count", len(active)))

	dispatcher := webhook.NewDispatcher(cfg.Webhook.Secret, webhook.Options{
		Timeout:    cfg.Webhook.Timeout,
		MaxRetries: cfg.Webhook.MaxRetries,
		RetryDelay: cfg.Webhook.RetryDelay,
	})

	client := smpp.NewClient(smpp.Config{
		Host:                cfg.SMPP.Host,
		Port:                cfg.SMPP.Port,
		SystemID:            cfg.SMPP.SystemID,
		Password:            cfg.SMPP.Password,
		SystemType:          cfg.SMPP.SystemType,
		AddrTON:             byte(cfg.SMPP.AddrTON),
		AddrNPI:             byte(cfg.SMPP.AddrNPI),
		AddressRange:        cfg.SMPP.AddressRange,
		BindMode:            cfg.SMPP.BindMode,
		ConnectTimeout:      cfg.SMPP.ConnectTimeout,
		RequestTimeout:      cfg.SMPP.RequestTimeout,
		EnquireLink:         cfg.SMPP.EnquireLink,
		DeliverQueueSize:    cfg.SMPP.DeliverQueueSize,
		DeliverQueueTimeout: cfg.SMPP.DeliverQueueTimeout,
	}, smpp.RateLimitConfig{
		MessagesPerSecond:     cfg.SMPP.MaxMessagesPerSecond,
		MaxConcurrentRequests: cfg.SMPP.MaxConcurrentRequests,
	})

	supervisor := smpp.NewSupervisor(client.Connect, smpp.SupervisorConfig{
		ReconnectInterval: cfg.SMPP.ReconnectInterval,
		MaxAttempts:       cfg.SMPP.MaxReconnectAttempts,
	})

	inboundPipeline := pipeline.New(db, classifier, publisher, dispatcher, pipeline.Config{
		PersistMaxRetries: cfg.Pipeline.PersistMaxRetries,
		PersistRetryDelay: cfg.Pipeline.PersistRetryDelay,
	})

	opsServer := httpserver.NewServer(cfg.HTTP, client, supervisor, inboundPipeline.Counters(), dispatcher)

	// --- Start Components Concurrently ---
	var wg sync.WaitGroup

	slog.Info("Starting application components...")

	// Supervisor owns the carrier connection lifecycle.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervisor.Run(appCtx); err != nil {
			slog.Error("Connection supervisor stopped", slog.Any("error", err))
			rootCancel() // Terminal state, bring the process down
		}
		slog.Info("Connection supervisor stopped.")
	}()

	// Relay supervisor events to the real-time layer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range supervisor.Events() {
			slog.Info("Connection state changed",
				slog.String("event", string(ev.Type)),
				slog.Int("attempts", ev.Attempts),
				slog.Any("error", ev.Err),
			)
			payload := map[string]any{
				"state":    string(ev.Type),
				"status":   client.Status(),
				"attempts": ev.Attempts,
			}
			if err := publisher.Publish(appCtx, events.TopicSessionState, payload); err != nil {
				slog.Warn("Failed to publish session state", slog.Any("error", err))
			}
		}
	}()

	// Inbound pipeline consumes decoded deliveries.
	wg.Add(1)
	go func() {
		defer wg.Done()
		inboundPipeline.Run(appCtx, client.Inbound())
		slog.Info("Inbound pipeline stopped.")
	}()

	// Ops HTTP server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", slog.Any("error", err))
			rootCancel()
		}
	}()

	// --- Wait for Shutdown Signal ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server...")
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during HTTP server shutdown", slog.Any("error", err))
	}

	slog.Info("Waiting for main application goroutines to stop...")
	wg.Wait()

	slog.Info("Closing database pool...")
	dbpool.Close()
	slog.Info("Gateway shutdown complete.")
}
