package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DatabaseInfo represents database connection details
type DatabaseInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ParseDatabaseURL parses a PostgreSQL connection URL into components
func ParseDatabaseURL(raw string) (*DatabaseInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid connection URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("invalid connection URL scheme %q", u.Scheme)
	}

	info := &DatabaseInfo{
		Host:    u.Hostname(),
		Port:    u.Port(),
		DBName:  strings.TrimPrefix(u.Path, "/"),
		SSLMode: u.Query().Get("sslmode"),
	}
	if u.User != nil {
		info.User = u.User.Username()
		info.Password, _ = u.User.Password()
	}
	if info.Port == "" {
		info.Port = "5432"
	}
	if info.SSLMode == "" {
		info.SSLMode = "disable"
	}
	if info.Host == "" || info.DBName == "" {
		return nil, fmt.Errorf("connection URL must name a host and a database")
	}
	return info, nil
}

// BuildConnectionURL builds a connection URL for dbName on the same server
func (info *DatabaseInfo) BuildConnectionURL(dbName string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(info.User, info.Password),
		Host:     info.Host + ":" + info.Port,
		Path:     "/" + dbName,
		RawQuery: "sslmode=" + url.QueryEscape(info.SSLMode),
	}
	return u.String()
}

// Open connects to databaseURL with the pool settings used by every store.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureDatabase creates the database named in databaseURL when it does not
// exist yet, connecting through the server's "postgres" database.
func EnsureDatabase(ctx context.Context, databaseURL string, logger zerolog.Logger) error {
	info, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	admin, err := sql.Open("postgres", info.BuildConnectionURL("postgres"))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres database: %w", err)
	}
	defer admin.Close()

	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)"
	if err := admin.QueryRowContext(ctx, query, info.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if exists {
		logger.Debug().Str("database", info.DBName).Msg("Database already exists")
		return nil
	}

	// CREATE DATABASE does not accept bind parameters
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(info.DBName)); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	logger.Info().Str("database", info.DBName).Msg("Database created")
	return nil
}
