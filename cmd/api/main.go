// cmd/api/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tides/internal/adapter/storage"
	"tides/internal/config"
	"tides/internal/domain/docstore"
	"tides/internal/logger"
	"tides/internal/server"
	identityService "tides/internal/service/identity"
	messagingService "tides/internal/service/messaging"
	moderationService "tides/internal/service/moderation"
	tideService "tides/internal/service/tide"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("tides", logger.Options{})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New("tides", logger.Options{Level: cfg.Log.Level, Console: cfg.Log.Console})

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// NATS is optional; without it events are dropped and change
	// notifications stay in-process
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = initNATS(cfg.NATS, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Close()
	}

	store, closeStore, err := initStore(ctx, cfg, natsConn, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to initialize store")
	}
	defer closeStore()

	var events tideService.EventPublisher = tideService.NopPublisher{}
	if natsConn != nil {
		events = natsConn
	}

	// Initialize services
	users := identityService.NewService(store, log)
	coordinator := tideService.NewCoordinator(store, events, tideService.CoordinatorConfig{
		EventsTopic:     cfg.Tide.EventsTopic,
		MinParticipants: cfg.Tide.MinParticipants,
		MaxParticipants: cfg.Tide.MaxParticipants,
	}, log)
	messages := messagingService.NewService(store, messagingService.Config{
		MaxTextLength: cfg.Messaging.MaxTextLength,
	}, log)
	reports := moderationService.NewReporter(store, log)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, server.Services{
		Store:       store,
		Users:       users,
		Coordinator: coordinator,
		Messages:    messages,
		Reports:     reports,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received")

		// Create shutdown context with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

// initStore opens the configured document store backend
func initStore(ctx context.Context, cfg config.Config, natsConn *nats.Conn, log zerolog.Logger) (docstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}

		var notifier storage.Notifier = storage.NewLocalNotifier()
		if natsConn != nil {
			notifier = storage.NewNATSNotifier(natsConn, cfg.NATS.ChangesPrefix)
		}

		store := storage.NewPostgresStore(db, notifier, storage.PostgresConfig{
			MaxTxAttempts: cfg.Store.MaxTxAttempts,
		}, log)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create firestore client: %w", err)
		}
		return storage.NewFirestoreStore(client, cfg.Store.MaxTxAttempts), func() { client.Close() }, nil
	}

	log.Warn().Msg("Using in-memory store; data is lost on restart")
	return storage.NewMemoryStore(), func() {}, nil
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, log zerolog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
