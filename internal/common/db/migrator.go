package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
)

// Migrator applies numbered .sql files from a filesystem, tracking applied
// versions in schema_migrations. Each file runs in its own transaction.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, fsys fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		fsys:   fsys,
		logger: logging.Component(logger, "migrator"),
	}
}

// InitializeMigrationsTable creates the migrations tracking table if it doesn't exist
func (m *Migrator) InitializeMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedMigrations returns the set of versions already recorded
func (m *Migrator) AppliedMigrations(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// PendingMigrations returns file names not yet applied, in apply order
func (m *Migrator) PendingMigrations(ctx context.Context) ([]string, error) {
	files, err := ListMigrations(m.fsys)
	if err != nil {
		return nil, err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range files {
		if !applied[strings.TrimSuffix(name, ".sql")] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// ApplyMigration applies a single migration file
func (m *Migrator) ApplyMigration(ctx context.Context, filename string) error {
	m.logger.Info().Str("migration", filename).Msg("Applying migration")

	content, err := fs.ReadFile(m.fsys, filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", filename, err)
	}

	version := strings.TrimSuffix(filename, ".sql")
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// MigrateUp runs all pending migrations
func (m *Migrator) MigrateUp(ctx context.Context) error {
	if err := m.InitializeMigrationsTable(ctx); err != nil {
		return err
	}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Info().Msg("No pending migrations, database is up to date")
		return nil
	}

	for _, filename := range pending {
		if err := m.ApplyMigration(ctx, filename); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	m.logger.Info().Int("count", len(pending)).Msg("Applied migrations")
	return nil
}

// ListMigrations returns the .sql file names at the root of fsys, sorted.
func ListMigrations(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
