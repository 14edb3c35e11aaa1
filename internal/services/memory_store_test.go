package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

func newRecord(paymentTokenID, merchantID string) *models.CredentialRecord {
	return &models.CredentialRecord{
		PaymentTokenID: paymentTokenID,
		Cryptogram:     "abc123",
		MerchantID:     merchantID,
		Metadata: map[string]any{
			models.MetadataInstrumentIdentifierID: "ii-1",
		},
	}
}

func TestMemoryStoreSaveAssignsIDAndTimestamps(t *testing.T) {
	store := NewMemoryCredentialStore()

	saved, err := store.Save(context.Background(), newRecord("pt-1", "m-1"))
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)

	found, ok, err := store.FindByPaymentTokenID(context.Background(), "pt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved, found)

	exists, err := store.ExistsByPaymentTokenID(context.Background(), "pt-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryStoreRejectsDuplicatePaymentTokenID(t *testing.T) {
	store := NewMemoryCredentialStore()
	_, err := store.Save(context.Background(), newRecord("pt-1", "m-1"))
	require.NoError(t, err)

	_, err = store.Save(context.Background(), newRecord("pt-1", "m-2"))

	var persistErr *types.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.ErrorIs(t, err, types.ErrDuplicatePaymentTokenID)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreConcurrentDuplicateSavesAdmitOne(t *testing.T) {
	store := NewMemoryCredentialStore()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Save(context.Background(), newRecord("pt-race", "m-1")); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestMemoryStoreNotFoundIsNotAnError(t *testing.T) {
	store := NewMemoryCredentialStore()

	record, ok, err := store.FindByPaymentTokenID(context.Background(), "absent")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, record)

	exists, err := store.ExistsByPaymentTokenID(context.Background(), "absent")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreFindByMerchantID(t *testing.T) {
	store := NewMemoryCredentialStore()
	for i := 0; i < 3; i++ {
		_, err := store.Save(context.Background(), newRecord(fmt.Sprintf("pt-%d", i), "m-1"))
		require.NoError(t, err)
	}
	_, err := store.Save(context.Background(), newRecord("pt-x", "m-2"))
	require.NoError(t, err)

	records, err := store.FindByMerchantID(context.Background(), "m-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "pt-0", records[0].PaymentTokenID)
	assert.Equal(t, "pt-2", records[2].PaymentTokenID)

	records, err = store.FindByMerchantID(context.Background(), "m-none")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryCredentialStore()
	input := newRecord("pt-1", "m-1")
	saved, err := store.Save(context.Background(), input)
	require.NoError(t, err)

	input.Metadata["mutated"] = true
	saved.Metadata["mutated"] = true

	found, _, err := store.FindByPaymentTokenID(context.Background(), "pt-1")
	require.NoError(t, err)
	assert.NotContains(t, found.Metadata, "mutated")
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryCredentialStore().Save(ctx, newRecord("pt-1", "m-1"))
	assert.Equal(t, types.KindPersistence, types.ErrorKind(err))
}

func TestMemoryAuditLogListsNewestFirst(t *testing.T) {
	audit := NewMemoryAuditLog(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, audit.LogEvent(context.Background(), &models.AuditEvent{
			Operation:  OperationTokenize,
			MerchantID: "m-1",
			Status:     statusSuccess,
			Metadata:   map[string]string{"n": fmt.Sprint(i)},
		}))
	}
	require.NoError(t, audit.LogEvent(context.Background(), &models.AuditEvent{MerchantID: "m-2"}))

	events, err := audit.ListEvents(context.Background(), "m-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "4", events[0].Metadata["n"])
	assert.NotEmpty(t, events[0].AuditID)
	assert.False(t, events[0].Timestamp.IsZero())

	events, err = audit.ListEvents(context.Background(), "m-1", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
