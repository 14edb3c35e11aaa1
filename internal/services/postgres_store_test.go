package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlainFunction/cardtokenly/internal/common/db"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/sealing"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// Integration tests against a real postgres, enabled with TEST_DATABASE_URL.
// TEST_REDIS_ADDR additionally enables the record cache.
func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.NewMigrator(conn, db.Migrations(), zerolog.Nop()).MigrateUp(ctx))
	return conn
}

func newTestSealer(t *testing.T) *sealing.Sealer {
	t.Helper()
	provider, err := types.NewStaticKEKProvider("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	return sealing.NewSealer(provider)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	conn := openTestDatabase(t)
	opts := PostgresStoreOptions{Sealer: newTestSealer(t), Logger: zerolog.Nop()}
	if addr := os.Getenv("TEST_REDIS_ADDR"); addr != "" {
		if client := ConnectCache(context.Background(), addr, zerolog.Nop()); client != nil {
			t.Cleanup(func() { client.Close() })
			opts.Cache = NewRecordCache(client, time.Minute)
		}
	}
	store := NewPostgresCredentialStore(conn, opts)
	ctx := context.Background()

	merchant := "m-" + uuid.NewString()
	tokenID := uuid.NewString()
	record := newRecord(tokenID, merchant)
	record.Metadata[models.MetadataAPIResponse] = networkTokenOK

	saved, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)

	var raw string
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT metadata->>'apiResponse' FROM credential_records WHERE payment_token_id = $1`, tokenID).Scan(&raw))
	assert.True(t, sealing.IsSealed(raw))

	for i := 0; i < 2; i++ {
		found, ok, err := store.FindByPaymentTokenID(ctx, tokenID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, networkTokenOK, found.Metadata[models.MetadataAPIResponse])
		assert.Equal(t, "ii-1", found.Metadata[models.MetadataInstrumentIdentifierID])
		assert.True(t, found.CreatedAt.Equal(saved.CreatedAt))
	}

	exists, err := store.ExistsByPaymentTokenID(ctx, tokenID)
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := store.FindByMerchantID(ctx, merchant)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, ok, err := store.FindByPaymentTokenID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStoreDuplicatePaymentTokenID(t *testing.T) {
	store := NewPostgresCredentialStore(openTestDatabase(t), PostgresStoreOptions{Logger: zerolog.Nop()})
	ctx := context.Background()
	tokenID := uuid.NewString()

	_, err := store.Save(ctx, newRecord(tokenID, "m-1"))
	require.NoError(t, err)

	_, err = store.Save(ctx, newRecord(tokenID, "m-1"))
	assert.Equal(t, types.KindPersistence, types.ErrorKind(err))
	assert.ErrorIs(t, err, types.ErrDuplicatePaymentTokenID)
}

func TestPostgresAuditLog(t *testing.T) {
	audit := NewPostgresAuditLog(openTestDatabase(t), zerolog.Nop())
	ctx := context.Background()
	merchant := "m-" + uuid.NewString()

	for i := 0; i < 3; i++ {
		require.NoError(t, audit.LogEvent(ctx, &models.AuditEvent{
			Operation:     OperationTokenize,
			MerchantID:    merchant,
			AccountSuffix: "1111",
			Status:        statusSuccess,
			Timestamp:     time.Now().UTC().Add(time.Duration(i) * time.Second),
			Metadata:      map[string]string{"n": fmt.Sprint(i)},
		}))
	}

	events, err := audit.ListEvents(ctx, merchant, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Metadata["n"])
	assert.Equal(t, "1111", events[0].AccountSuffix)
}
