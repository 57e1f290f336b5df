package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/store/memory"
)

var (
	tokA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type orderFields struct {
	get, give            common.Address
	amountGet, amountGiv int64
	expires              uint64
}

func build(t *testing.T, nonce uint64, s orderFields) domain.Order {
	t.Helper()
	if s.expires == 0 {
		s.expires = 1000
	}
	o, err := domain.NewOrder(domain.OrderParams{
		Maker:      common.BigToAddress(big.NewInt(int64(nonce))),
		TokenGet:   s.get,
		TokenGive:  s.give,
		AmountGet:  big.NewInt(s.amountGet),
		AmountGive: big.NewInt(s.amountGiv),
		Expires:    s.expires,
		Nonce:      nonce,
	})
	require.NoError(t, err)
	return o
}

func TestTradeAmount(t *testing.T) {
	cases := []struct {
		name                       string
		takerGet, takerGive, maker int64
		want                       int64
	}{
		{"maker limited", 100, 50, 40, 80},
		{"taker limited", 100, 50, 60, 100},
		{"exact", 100, 50, 50, 100},
		{"floors remainder", 10, 3, 1, 3},
		{"multiplies before dividing", 7, 5, 3, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TradeAmount(big.NewInt(tc.takerGet), big.NewInt(tc.takerGive), big.NewInt(tc.maker))
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestTradeAmount_LargeValues(t *testing.T) {
	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	takerGet := new(big.Int).Mul(big.NewInt(1000), e18)
	takerGive := new(big.Int).Mul(big.NewInt(3), e18)
	makerGive := new(big.Int).Mul(big.NewInt(2), e18)

	want := new(big.Int).Mul(makerGive, takerGet)
	want.Quo(want, takerGive)
	assert.Equal(t, want.String(), TradeAmount(takerGet, takerGive, makerGive).String())
}

func TestEligibility(t *testing.T) {
	a := build(t, 1, orderFields{get: tokA, give: tokB, amountGet: 1, amountGiv: 1})
	b := build(t, 2, orderFields{get: tokB, give: tokA, amountGet: 1, amountGiv: 1})
	c := build(t, 3, orderFields{get: tokA, give: tokC, amountGet: 1, amountGiv: 1})
	d := build(t, 4, orderFields{get: tokA, give: tokB, amountGet: 5, amountGiv: 9})

	assert.True(t, domain.Eligible(a, b))
	assert.True(t, domain.Eligible(b, a))
	assert.False(t, domain.Eligible(a, c))
	assert.False(t, domain.Eligible(a, d), "same direction never matches")
}

func TestFindMatch_SelectsBestCandidate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()

	// Makers want tokA and give tokB; the taker gives tokA for tokB.
	worse, err := store.Create(ctx, build(t, 1, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 20}))
	require.NoError(t, err)
	best, err := store.Create(ctx, build(t, 2, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 40}))
	require.NoError(t, err)
	_, err = store.Create(ctx, build(t, 3, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 40, expires: 10}))
	require.NoError(t, err)

	taker := build(t, 9, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})

	m := New(store, FixedClock(10), nil, Config{}, discard())
	p, ok, err := m.FindMatch(ctx, taker)
	require.NoError(t, err)
	require.True(t, ok)
	defer p.Release()

	assert.Equal(t, best.ID, p.Maker.ID)
	assert.NotEqual(t, worse.ID, p.Maker.ID)
	assert.Equal(t, int64(80), p.TradeAmount.Int64())
}

func TestFindMatch_NoCandidates(t *testing.T) {
	store := memory.NewOrderStore()
	taker := build(t, 1, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})

	m := New(store, FixedClock(0), nil, Config{}, discard())
	_, ok, err := m.FindMatch(context.Background(), taker)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindMatch_StoreFailure(t *testing.T) {
	store := memory.NewOrderStore()
	store.FailQueries = func() error { return errors.New("timeout") }
	taker := build(t, 1, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})

	m := New(store, FixedClock(0), nil, Config{}, discard())
	_, ok, err := m.FindMatch(context.Background(), taker)
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrStoreQuery)
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

func TestFindMatch_SkipsLockedCandidate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	first, err := store.Create(ctx, build(t, 1, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 40}))
	require.NoError(t, err)
	second, err := store.Create(ctx, build(t, 2, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 30}))
	require.NoError(t, err)

	locks := &fakeLocks{held: map[string]bool{"order:" + first.ID: true}}
	m := New(store, FixedClock(0), locks, Config{LockCandidates: true}, discard())

	taker := build(t, 9, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})
	p, ok, err := m.FindMatch(ctx, taker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, p.Maker.ID)
	assert.True(t, locks.held["order:"+second.ID])

	p.Release()
	assert.False(t, locks.held["order:"+second.ID])
}

func TestFindMatch_LockBackendDownStillMatches(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOrderStore()
	only, err := store.Create(ctx, build(t, 1, orderFields{get: tokA, give: tokB, amountGet: 100, amountGiv: 40}))
	require.NoError(t, err)

	locks := &fakeLocks{held: map[string]bool{}, err: errors.New("redis down")}
	m := New(store, FixedClock(0), locks, Config{LockCandidates: true}, discard())

	taker := build(t, 9, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})
	p, ok, err := m.FindMatch(ctx, taker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, only.ID, p.Maker.ID)
	p.Release()
}

type blockSource struct {
	n   uint64
	err error
}

func (b blockSource) BlockNumber(context.Context) (uint64, error) { return b.n, b.err }

func TestClockFor(t *testing.T) {
	c, err := ClockFor("block", blockSource{n: 42})
	require.NoError(t, err)
	n, err := c.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	c, err = ClockFor("timestamp", nil)
	require.NoError(t, err)
	n, err = c.Now(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), int64(n), 5)

	_, err = ClockFor("block", nil)
	assert.Error(t, err)
	_, err = ClockFor("lunar", nil)
	assert.Error(t, err)
}

func TestFindMatch_ClockFailure(t *testing.T) {
	store := memory.NewOrderStore()
	m := New(store, BlockClock{chain: blockSource{err: errors.New("rpc down")}}, nil, Config{}, discard())
	taker := build(t, 1, orderFields{get: tokB, give: tokA, amountGet: 100, amountGiv: 50})

	_, _, err := m.FindMatch(context.Background(), taker)
	assert.ErrorIs(t, err, domain.ErrStoreQuery)
}
