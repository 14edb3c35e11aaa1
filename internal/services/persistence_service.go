package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/sealing"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

const uniqueViolation = "23505"

// PostgresStoreOptions configures the optional layers around the table.
type PostgresStoreOptions struct {
	// Cache enables read-through caching of lookups by payment token id
	Cache *RecordCache
	// Sealer encrypts the stored apiResponse metadata when set
	Sealer *sealing.Sealer
	Logger zerolog.Logger
}

// PostgresCredentialStore persists credential records in the
// credential_records table. The unique index on payment_token_id is the only
// duplicate guard.
type PostgresCredentialStore struct {
	db     *sql.DB
	cache  *RecordCache
	sealer *sealing.Sealer
	now    func() time.Time
	logger zerolog.Logger
}

func NewPostgresCredentialStore(db *sql.DB, opts PostgresStoreOptions) *PostgresCredentialStore {
	return &PostgresCredentialStore{
		db:     db,
		cache:  opts.Cache,
		sealer: opts.Sealer,
		now:    time.Now,
		logger: logging.Component(opts.Logger, "credential-store"),
	}
}

func (s *PostgresCredentialStore) Save(ctx context.Context, record *models.CredentialRecord) (*models.CredentialRecord, error) {
	saved := record.Clone()
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	// postgres keeps microseconds
	now := s.now().UTC().Truncate(time.Microsecond)
	saved.CreatedAt = now
	saved.UpdatedAt = now

	stored, err := s.seal(saved)
	if err != nil {
		return nil, &types.PersistenceError{Op: "save", Err: err}
	}

	metadataJSON, err := encodeMetadata(stored.Metadata)
	if err != nil {
		return nil, &types.PersistenceError{Op: "save", Err: err}
	}

	query := `
		INSERT INTO credential_records (id, payment_token_id, cryptogram, merchant_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		stored.ID,
		stored.PaymentTokenID,
		stored.Cryptogram,
		stored.MerchantID,
		metadataJSON,
		stored.CreatedAt,
		stored.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, &types.PersistenceError{Op: "save", Err: types.ErrDuplicatePaymentTokenID}
		}
		return nil, &types.PersistenceError{Op: "save", Err: err}
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, stored); err != nil {
			s.logger.Warn().Err(err).Str("payment_token_id", stored.PaymentTokenID).Msg("Failed to cache record")
		}
	}

	s.logger.Debug().
		Str("payment_token_id", saved.PaymentTokenID).
		Str("merchant_id", saved.MerchantID).
		Msg("Credential record stored")
	return saved, nil
}

func (s *PostgresCredentialStore) FindByPaymentTokenID(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, bool, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, paymentTokenID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("payment_token_id", paymentTokenID).Msg("Cache lookup failed")
		case ok:
			record, err := s.open(cached)
			if err != nil {
				return nil, false, &types.PersistenceError{Op: "find", Err: err}
			}
			return record, true, nil
		}
	}

	query := `
		SELECT id, payment_token_id, cryptogram, merchant_id, metadata, created_at, updated_at
		FROM credential_records
		WHERE payment_token_id = $1
	`
	stored, err := scanRecord(s.db.QueryRowContext(ctx, query, paymentTokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &types.PersistenceError{Op: "find", Err: err}
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, stored); err != nil {
			s.logger.Warn().Err(err).Str("payment_token_id", paymentTokenID).Msg("Failed to cache record")
		}
	}

	record, err := s.open(stored)
	if err != nil {
		return nil, false, &types.PersistenceError{Op: "find", Err: err}
	}
	return record, true, nil
}

// FindByMerchantID returns the merchant's records, oldest first.
func (s *PostgresCredentialStore) FindByMerchantID(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error) {
	query := `
		SELECT id, payment_token_id, cryptogram, merchant_id, metadata, created_at, updated_at
		FROM credential_records
		WHERE merchant_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, merchantID)
	if err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	records := []*models.CredentialRecord{}
	for rows.Next() {
		stored, err := scanRecord(rows)
		if err != nil {
			return nil, &types.PersistenceError{Op: "list", Err: err}
		}
		record, err := s.open(stored)
		if err != nil {
			return nil, &types.PersistenceError{Op: "list", Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

func (s *PostgresCredentialStore) ExistsByPaymentTokenID(ctx context.Context, paymentTokenID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM credential_records WHERE payment_token_id = $1)`
	if err := s.db.QueryRowContext(ctx, query, paymentTokenID).Scan(&exists); err != nil {
		return false, &types.PersistenceError{Op: "exists", Err: err}
	}
	return exists, nil
}

// Ping checks database connectivity for health reporting.
func (s *PostgresCredentialStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// seal returns a copy with the apiResponse metadata encrypted, or the record
// itself when sealing is disabled.
func (s *PostgresCredentialStore) seal(record *models.CredentialRecord) (*models.CredentialRecord, error) {
	if s.sealer == nil {
		return record, nil
	}
	body, ok := record.Metadata[models.MetadataAPIResponse].(string)
	if !ok || sealing.IsSealed(body) {
		return record, nil
	}

	sealed, err := s.sealer.Seal(record.MerchantID, []byte(body))
	if err != nil {
		return nil, fmt.Errorf("failed to seal metadata: %w", err)
	}
	out := record.Clone()
	out.Metadata[models.MetadataAPIResponse] = sealed
	return out, nil
}

func (s *PostgresCredentialStore) open(record *models.CredentialRecord) (*models.CredentialRecord, error) {
	body, ok := record.Metadata[models.MetadataAPIResponse].(string)
	if s.sealer == nil || !ok || !sealing.IsSealed(body) {
		return record, nil
	}

	plain, err := s.sealer.Open(record.MerchantID, body)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	out := record.Clone()
	out.Metadata[models.MetadataAPIResponse] = string(plain)
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.CredentialRecord, error) {
	var (
		record       models.CredentialRecord
		metadataJSON []byte
	)
	err := row.Scan(
		&record.ID,
		&record.PaymentTokenID,
		&record.Cryptogram,
		&record.MerchantID,
		&metadataJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Metadata = map[string]any{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}
