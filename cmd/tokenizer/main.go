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
	"google.golang.org/grpc"

	"github.com/PlainFunction/cardtokenly/internal/api"
	"github.com/PlainFunction/cardtokenly/internal/app"
	"github.com/PlainFunction/cardtokenly/internal/common/config"
	grpcserver "github.com/PlainFunction/cardtokenly/internal/common/grpc"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
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
		logger.Error().Err(err).Msg("Tokenizer service exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("environment", cfg.Environment).Str("store_driver", cfg.StoreDriver).Msg("Starting tokenizer service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := app.Build(ctx, cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("build tokenization service: %w", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	server, err := grpcserver.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}
	server.RegisterService(func(s *grpc.Server) {
		grpcserver.RegisterTokenizationServiceServer(s, grpcserver.NewTokenizationServiceServer(components.Service, logger))
	})
	server.SetServing(grpcserver.TokenizationServiceName)

	metrics := api.NewMetricsServer(cfg.MetricsPort, registry, logger)
	go func() {
		if err := metrics.Start(); err != nil {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received, gracefully stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
		server.Stop()
	}()

	return server.Start()
}
