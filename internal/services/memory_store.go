package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// MemoryCredentialStore keeps records in process memory. Uniqueness of the
// payment token id is checked and the record inserted under one lock.
type MemoryCredentialStore struct {
	mu         sync.RWMutex
	byTokenID  map[string]*models.CredentialRecord
	byMerchant map[string][]string
	now        func() time.Time
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byTokenID:  make(map[string]*models.CredentialRecord),
		byMerchant: make(map[string][]string),
		now:        time.Now,
	}
}

func (s *MemoryCredentialStore) Save(ctx context.Context, record *models.CredentialRecord) (*models.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "save", Err: err}
	}

	stored := record.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTokenID[stored.PaymentTokenID]; exists {
		return nil, &types.PersistenceError{Op: "save", Err: types.ErrDuplicatePaymentTokenID}
	}
	s.byTokenID[stored.PaymentTokenID] = stored
	s.byMerchant[stored.MerchantID] = append(s.byMerchant[stored.MerchantID], stored.PaymentTokenID)

	return stored.Clone(), nil
}

func (s *MemoryCredentialStore) FindByPaymentTokenID(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byTokenID[paymentTokenID]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// FindByMerchantID returns the merchant's records in insertion order.
func (s *MemoryCredentialStore) FindByMerchantID(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byMerchant[merchantID]
	records := make([]*models.CredentialRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.byTokenID[id].Clone())
	}
	return records, nil
}

func (s *MemoryCredentialStore) ExistsByPaymentTokenID(ctx context.Context, paymentTokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byTokenID[paymentTokenID]
	return ok, nil
}

// Len reports how many records are stored.
func (s *MemoryCredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTokenID)
}
