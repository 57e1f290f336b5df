package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/matching"
	"github.com/AceBoss1/afrodex-exchange/internal/settlement"
	"github.com/AceBoss1/afrodex-exchange/internal/settlement/chaintest"
	"github.com/AceBoss1/afrodex-exchange/internal/store/memory"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{messages: make(map[string][][]byte)} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) events(t *testing.T, channel string) []domain.TradeEvent {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.TradeEvent, 0, len(b.messages[channel]))
	for _, raw := range b.messages[channel] {
		var ev domain.TradeEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	gets        int
	invalidated []string
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (l fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, l.err
}

type alertRecorder struct {
	mu     sync.Mutex
	events []string
}

func (a *alertRecorder) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *alertRecorder) got() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// countingFinder records whether the matcher was consulted.
type countingFinder struct {
	inner CounterFinder
	calls atomic.Int32
}

func (f *countingFinder) FindMatch(ctx context.Context, taker domain.Order) (matching.Proposal, bool, error) {
	f.calls.Add(1)
	return f.inner.FindMatch(ctx, taker)
}

var nonces atomic.Uint64

// signedParams builds order params signed by a fresh maker key.
func signedParams(t *testing.T, get, give common.Address, amountGet, amountGive int64) domain.OrderParams {
	t.Helper()
	maker, err := crypto.GenerateSigner(1)
	require.NoError(t, err)
	p := domain.OrderParams{
		Maker:      maker.Address(),
		TokenGet:   get,
		TokenGive:  give,
		AmountGet:  big.NewInt(amountGet),
		AmountGive: big.NewInt(amountGive),
		Expires:    1_000,
		Nonce:      nonces.Add(1),
	}
	o, err := domain.NewOrder(p)
	require.NoError(t, err)
	p.Signature, err = maker.SignOrder(crypto.PayloadFromOrder(o))
	require.NoError(t, err)
	return p
}

func storeOrder(t *testing.T, store *memory.OrderStore, p domain.OrderParams) domain.Order {
	t.Helper()
	o, err := domain.NewOrder(p)
	require.NoError(t, err)
	o, err = store.Create(context.Background(), o)
	require.NoError(t, err)
	return o
}

type env struct {
	orders  *memory.OrderStore
	journal *memory.SettlementJournal
	audit   *memory.AuditStore
	chain   *chaintest.Chain
	bus     *fakeBus
	cache   *fakeCache
	alerts  *alertRecorder
	finder  *countingFinder
	svc     *MatchService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		orders:  memory.NewOrderStore(),
		journal: memory.NewSettlementJournal(),
		audit:   memory.NewAuditStore(),
		chain:   chaintest.New(),
		bus:     newFakeBus(),
		cache:   newFakeCache(),
		alerts:  &alertRecorder{},
	}
	relayer, err := crypto.GenerateSigner(1)
	require.NoError(t, err)
	sub, err := settlement.New(settlement.Config{
		RPCURL:          "http://localhost:8545",
		ChainID:         1,
		ExchangeAddress: "0x00000000000000000000000000000000000e8c4a",
		ConfirmTimeout:  60 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}, e.chain, relayer, e.journal, discard())
	require.NoError(t, err)

	e.finder = &countingFinder{inner: matching.New(e.orders, matching.FixedClock(10), nil, matching.Config{}, discard())}
	e.svc = e.withSettler(sub)
	return e
}

func (e *env) withSettler(s Settler) *MatchService {
	return NewMatchService(e.finder, s, e.orders, e.journal, discard()).
		WithEvents(e.bus).
		WithAudit(e.audit).
		WithBookCache(e.cache).
		WithAlerter(e.alerts).
		WithDedup(NewDedup(time.Minute))
}

// pair stores a resting maker (gives 40 A for 100 B) and returns it with a
// stored taker wanting 100 A for 50 B.
func (e *env) pair(t *testing.T) (maker, taker domain.Order) {
	t.Helper()
	maker = storeOrder(t, e.orders, signedParams(t, tokenB, tokenA, 100, 40))
	taker = storeOrder(t, e.orders, signedParams(t, tokenA, tokenB, 100, 50))
	return maker, taker
}

func (e *env) order(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := e.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *env) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := e.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.Event)
	}
	return out
}
