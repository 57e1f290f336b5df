package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

func TestClientConfig_Options(t *testing.T) {
	opts, err := ClientConfig{URL: "rediss://:secret@cache.internal:6380/2", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "localhost:6379", TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.NotNil(t, opts.TLSConfig)

	_, err = ClientConfig{URL: "http://nope"}.options()
	assert.Error(t, err)
}

func TestClient_KeyPrefix(t *testing.T) {
	assert.Equal(t, "lock:x", (&Client{}).key("lock:x"))
	assert.Equal(t, "afrodex:lock:x", (&Client{prefix: "afrodex"}).key("lock:x"))
}

// integrationClient connects to AFRODEX_TEST_REDIS or skips.
func integrationClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("AFRODEX_TEST_REDIS")
	if addr == "" {
		t.Skip("AFRODEX_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "afrodex-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager_Integration(t *testing.T) {
	c := integrationClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "order:1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "order:1", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "order:1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter_Integration(t *testing.T) {
	c := integrationClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "maker", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "maker", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBookCache_Integration(t *testing.T) {
	c := integrationClient(t)
	ctx := context.Background()
	bc := NewBookCache(c, time.Minute)

	_, err := bc.Get(ctx, "book:a:b")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, bc.Set(ctx, "book:a:b", []byte(`{"bids":[]}`)))
	got, err := bc.Get(ctx, "book:a:b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"bids":[]}`, string(got))

	require.NoError(t, bc.Invalidate(ctx, "book:a:b", "book:b:a"))
	_, err = bc.Get(ctx, "book:a:b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalBus_Integration(t *testing.T) {
	c := integrationClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sb := NewSignalBus(c)

	sub, err := sb.Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelTrades, []byte(`{"type":"trade_executed"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"type":"trade_executed"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	recent, err := sb.Recent(ctx, domain.ChannelTrades, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	all, err := sb.StreamRead(ctx, domain.ChannelTrades, "0", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
