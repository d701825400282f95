package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// BookCache keeps the most recent order book per market as a JSON document
// under book:<market>:latest.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. A zero ttl keeps entries until
// overwritten.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: c.rdb, ttl: ttl}
}

func bookKey(market string) string { return "book:" + market + ":latest" }

// SetSnapshot replaces the cached book for market.
func (bc *BookCache) SetSnapshot(ctx context.Context, market string, snap domain.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", market, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(market), data, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", market, err)
	}
	return nil
}

// GetSnapshot returns the cached book or domain.ErrNotFound.
func (bc *BookCache) GetSnapshot(ctx context.Context, market string) (domain.OrderBookSnapshot, error) {
	data, err := bc.rdb.Get(ctx, bookKey(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", market, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode book %s: %w", market, err)
	}
	return snap, nil
}

var _ domain.BookCache = (*BookCache)(nil)
