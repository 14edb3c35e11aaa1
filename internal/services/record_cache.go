package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/models"
)

const (
	recordCacheKeyPrefix = "credential:record:"
	defaultRecordTTL     = 24 * time.Hour
)

// RecordCache is a read-through cache of credential records keyed by payment
// token id. Records are immutable once saved, so entries are never invalidated,
// only expired.
type RecordCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRecordCache(client redis.Cmdable, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RecordCache{client: client, ttl: ttl}
}

// ConnectCache opens a redis client and pings it. A cache that cannot be
// reached is not fatal: the caller gets nil and runs without caching.
func ConnectCache(ctx context.Context, addr string, logger zerolog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", addr).Msg("Cache connection failed, continuing without cache")
		client.Close()
		return nil
	}
	logger.Info().Str("addr", addr).Msg("Cache connected")
	return client
}

func recordCacheKey(paymentTokenID string) string {
	return recordCacheKeyPrefix + paymentTokenID
}

// Get returns the cached record, or false on a miss.
func (c *RecordCache) Get(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, bool, error) {
	data, err := c.client.Get(ctx, recordCacheKey(paymentTokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis error: %w", err)
	}

	var record models.CredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.client.Del(ctx, recordCacheKey(paymentTokenID))
		return nil, false, fmt.Errorf("corrupted cache entry: %w", err)
	}
	return &record, true, nil
}

func (c *RecordCache) Put(ctx context.Context, record *models.CredentialRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}
	if err := c.client.Set(ctx, recordCacheKey(record.PaymentTokenID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store in redis: %w", err)
	}
	return nil
}
