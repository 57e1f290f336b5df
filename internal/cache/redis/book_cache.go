package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// DefaultBookTTL bounds staleness of a cached snapshot when an
// invalidation is missed.
const DefaultBookTTL = 5 * time.Second

// BookCache implements domain.BookCache with plain string keys.
//
// Key schema:
//
//	book:{tokenA}:{tokenB}    - JSON snapshot, open orders
//	history:{tokenA}:{tokenB} - JSON list, filled orders
type BookCache struct {
	c   *Client
	ttl time.Duration
}

func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	if ttl <= 0 {
		ttl = DefaultBookTTL
	}
	return &BookCache{c: c, ttl: ttl}
}

// Get returns domain.ErrNotFound on a miss.
func (bc *BookCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := bc.c.rdb.Get(ctx, bc.c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get book %s: %w", key, err)
	}
	return data, nil
}

func (bc *BookCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := bc.c.rdb.Set(ctx, bc.c.key(key), payload, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", key, err)
	}
	return nil
}

func (bc *BookCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = bc.c.key(k)
	}
	if err := bc.c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate book: %w", err)
	}
	return nil
}

var _ domain.BookCache = (*BookCache)(nil)
