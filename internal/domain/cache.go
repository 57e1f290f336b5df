package domain

import (
	"context"
	"time"
)

// BookCache stores serialized order book snapshots per token pair.
type BookCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
	Invalidate(ctx context.Context, keys ...string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for match and settlement events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels published on the SignalBus.
const (
	ChannelTrades      = "trades"
	ChannelSettlements = "settlements"
	ChannelOrders      = "orders"
)

// StreamMessage is one entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventLog keeps a bounded, replayable history of published events.
type EventLog interface {
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}
