package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/peerwave/signalrelay/internal/app"
	"github.com/peerwave/signalrelay/internal/config"
	"github.com/peerwave/signalrelay/internal/log"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	bootLog := log.New("info")

	cfg, resolvedPath, err := config.Load(bootLog, configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := log.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingSharedSecret) {
			logger.Fatal().Str("config", resolvedPath).
				Msg("turn.shared_secret is not set, export SIGNALRELAY_TURN_SHARED_SECRET or edit the config file")
		}
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	logger.Info().Str("addr", cfg.Addr).Str("broker", cfg.Broker).Msg("starting signaling server")
	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
