// Package app assembles the tokenization service from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/config"
	"github.com/PlainFunction/cardtokenly/internal/common/db"
	"github.com/PlainFunction/cardtokenly/internal/common/keys"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/sealing"
	"github.com/PlainFunction/cardtokenly/internal/common/signing"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
	"github.com/PlainFunction/cardtokenly/internal/remote"
	"github.com/PlainFunction/cardtokenly/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Components is the assembled in-process service and the resources it owns.
type Components struct {
	Service *services.TokenizationService
	Audit   types.AuditReader
	// Health is nil for the memory driver
	Health Pinger

	closers []func() error
}

// Close releases database, cache and key resources in reverse order of
// acquisition.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Build loads the signing key, wires the remote client and selects the
// credential store named by cfg.StoreDriver. Metrics register on reg.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*Components, error) {
	if err := cfg.Remote.Validate(); err != nil {
		return nil, err
	}

	key, err := keys.LoadPrivateKey(cfg.Remote.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("key_id", cfg.Remote.KeyID).Msg("Signing key loaded")

	client := remote.NewClient(remote.Config{
		BaseURL:        cfg.Remote.BaseURL,
		ResourcePrefix: cfg.Remote.ResourcePrefix,
		APIKey:         cfg.Remote.APIKey,
		KeyID:          cfg.Remote.KeyID,
		Timeout:        cfg.Remote.Timeout,
		Metrics:        remote.NewMetrics(reg),
		Logger:         logger,
	}, signing.NewSigner(key))

	c := &Components{}

	var (
		store types.CredentialStore
		audit interface {
			types.AuditLogger
			types.AuditReader
		}
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn().Msg("Using in-memory credential store, records are lost on restart")
		store = services.NewMemoryCredentialStore()
		audit = services.NewMemoryAuditLog(0)
	case "postgres":
		pgStore, database, err := c.openPostgres(ctx, cfg, logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		store = pgStore
		c.Health = pgStore
		audit = services.NewPostgresAuditLog(database, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	c.Audit = audit
	c.Service = services.NewTokenizationService(client, store, services.Options{
		Audit:   audit,
		Metrics: services.NewMetrics(reg),
		Logger:  logger,
	})
	return c, nil
}

func (c *Components) openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services.PostgresCredentialStore, *sql.DB, error) {
	dbLogger := logging.Component(logger, "database")

	if err := db.EnsureDatabase(ctx, cfg.DatabaseURL, dbLogger); err != nil {
		return nil, nil, err
	}
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	c.closers = append(c.closers, database.Close)

	if cfg.MigrationsEnabled {
		if err := db.NewMigrator(database, db.Migrations(), dbLogger).MigrateUp(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	opts := services.PostgresStoreOptions{Logger: logger}

	if cfg.KEKBase64 != "" {
		kekProvider, err := types.NewStaticKEKProvider(cfg.KEKBase64)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, kekProvider.Close)
		opts.Sealer = sealing.NewSealer(kekProvider)
		logger.Info().Msg("Credential metadata sealing enabled")
	}

	if cfg.CacheEnabled {
		if cache := services.ConnectCache(ctx, cfg.CacheAddress(), logging.Component(logger, "cache")); cache != nil {
			c.closers = append(c.closers, cache.Close)
			opts.Cache = services.NewRecordCache(cache, cfg.CacheTTL)
		}
	}

	return services.NewPostgresCredentialStore(database, opts), database, nil
}
