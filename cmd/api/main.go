package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/api"
	"github.com/PlainFunction/cardtokenly/internal/app"
	"github.com/PlainFunction/cardtokenly/internal/common/config"
	grpcserver "github.com/PlainFunction/cardtokenly/internal/common/grpc"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "production")
		bootLogger.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Environment)

	// run returns only after its deferred cleanup has finished
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("API service exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("environment", cfg.Environment).Bool("remote_services", cfg.UseRemoteServices).Msg("Starting API service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services := grpcserver.NewServiceRegistry(cfg, logger)
	defer services.Close()

	opts := api.HandlerOptions{Registry: registry, Logger: logger}
	var components *app.Components
	defer func() {
		if components == nil {
			return
		}
		if err := components.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	service, err := services.GetTokenizationService(func() (types.TokenizationServiceInterface, error) {
		var err error
		components, err = app.Build(ctx, cfg, registry, logger)
		if err != nil {
			return nil, err
		}
		opts.Audit = components.Audit
		opts.Health = components.Health
		return components.Service, nil
	})
	if err != nil {
		return fmt.Errorf("get tokenization service: %w", err)
	}

	server := api.NewServer(cfg, api.NewHandler(service, opts), logger)

	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received, draining HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	return server.Start()
}
