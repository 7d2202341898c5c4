package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/peerwave/signalrelay/internal/config"
	"github.com/peerwave/signalrelay/internal/gateway"
	"github.com/peerwave/signalrelay/internal/pubsub"
	"github.com/peerwave/signalrelay/internal/store"
	"github.com/peerwave/signalrelay/internal/store/sqlite"
	transporthttp "github.com/peerwave/signalrelay/internal/transport/http"
	"github.com/peerwave/signalrelay/internal/turn"
)

// App wires together the signaling gateway, broker adapter, and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	adapter         pubsub.Adapter
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	issuer, err := turn.NewIssuer(turn.Config{
		URLs:         cfg.Turn.URLs,
		SharedSecret: cfg.Turn.SharedSecret,
		TTL:          cfg.Turn.TTL,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init turn issuer: %w", err)
	}

	gw := gateway.New(adapter, logger)
	server := transporthttp.NewServer(gw, issuer, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		adapter:         adapter,
		store:           st,
		log:             logger,
	}, nil
}

func newAdapter(cfg *config.Config, logger *zerolog.Logger) (pubsub.Adapter, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		adapter, err := pubsub.NewRedisAdapter(pubsub.RedisOptions{URL: cfg.RedisURL}, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis adapter: %w", err)
		}
		return adapter, nil
	case config.BrokerMemory:
		logger.Warn().Msg("using in-memory broker, signaling will not cross instances")
		return pubsub.NewMemoryAdapter(logger), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// Warm up the broker connection. Failure is not fatal: the adapter
	// reconnects on the next publish or subscribe.
	if err := a.adapter.Connect(ctx); err != nil {
		a.log.Warn().Err(err).Msg("broker unavailable at startup, continuing in degraded mode")
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the broker connection and database.
func (a *App) cleanup() {
	if err := a.adapter.Disconnect(); err != nil {
		a.log.Warn().Err(err).Msg("failed to disconnect broker")
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
