package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// PostgresAuditLog writes tokenization outcomes to tokenization_audit_events.
type PostgresAuditLog struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPostgresAuditLog(db *sql.DB, logger zerolog.Logger) *PostgresAuditLog {
	return &PostgresAuditLog{db: db, logger: logging.Component(logger, "audit")}
}

// LogEvent stores one audit event, filling in the id and timestamp when absent
func (a *PostgresAuditLog) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	prepareAuditEvent(event)

	metadataJSON := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO tokenization_audit_events
			(audit_id, operation, merchant_id, account_suffix, status, step, error_kind, elapsed_ms, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := a.db.ExecContext(ctx, query,
		event.AuditID,
		event.Operation,
		event.MerchantID,
		event.AccountSuffix,
		event.Status,
		event.Step,
		event.ErrorKind,
		event.ElapsedMillis,
		event.Timestamp,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	a.logger.Debug().Str("audit_id", event.AuditID).Str("status", event.Status).Msg("Audit event stored")
	return nil
}

// ListEvents returns the merchant's most recent events, newest first.
func (a *PostgresAuditLog) ListEvents(ctx context.Context, merchantID string, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT audit_id, operation, merchant_id, account_suffix, status, step, error_kind, elapsed_ms, timestamp, metadata
		FROM tokenization_audit_events
		WHERE merchant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := a.db.QueryContext(ctx, query, merchantID, clampAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		var (
			event        models.AuditEvent
			metadataJSON []byte
		)
		err := rows.Scan(
			&event.AuditID, &event.Operation, &event.MerchantID, &event.AccountSuffix,
			&event.Status, &event.Step, &event.ErrorKind, &event.ElapsedMillis,
			&event.Timestamp, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				a.logger.Warn().Err(err).Str("audit_id", event.AuditID).Msg("Failed to unmarshal audit metadata")
			}
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// MemoryAuditLog keeps the most recent events in memory, for the memory
// store driver and tests.
type MemoryAuditLog struct {
	mu       sync.RWMutex
	events   []*models.AuditEvent
	capacity int
}

func NewMemoryAuditLog(capacity int) *MemoryAuditLog {
	if capacity <= 0 {
		capacity = maxAuditLimit
	}
	return &MemoryAuditLog{capacity: capacity}
}

func (a *MemoryAuditLog) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	prepareAuditEvent(event)
	stored := *event

	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, &stored)
	if len(a.events) > a.capacity {
		a.events = a.events[len(a.events)-a.capacity:]
	}
	return nil
}

func (a *MemoryAuditLog) ListEvents(ctx context.Context, merchantID string, limit int) ([]*models.AuditEvent, error) {
	limit = clampAuditLimit(limit)

	a.mu.RLock()
	defer a.mu.RUnlock()

	events := []*models.AuditEvent{}
	for i := len(a.events) - 1; i >= 0 && len(events) < limit; i-- {
		if a.events[i].MerchantID == merchantID {
			event := *a.events[i]
			events = append(events, &event)
		}
	}
	return events, nil
}

func prepareAuditEvent(event *models.AuditEvent) {
	if event.AuditID == "" {
		event.AuditID = "audit_" + uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

func clampAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultAuditLimit
	case limit > maxAuditLimit:
		return maxAuditLimit
	default:
		return limit
	}
}
