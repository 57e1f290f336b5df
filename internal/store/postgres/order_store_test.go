package postgres

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// newTestClient connects to AFRODEX_TEST_DSN and applies migrations. Tests
// are skipped when the variable is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("AFRODEX_TEST_DSN")
	if dsn == "" {
		t.Skip("AFRODEX_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn, ApplicationName: "afrodex-test"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

// randomAddr keeps test rows from different runs apart.
func randomAddr() common.Address {
	u := uuid.New()
	return common.BytesToAddress(u[:])
}

func mkOrder(t *testing.T, maker, get, give common.Address, amountGet, amountGive int64, nonce uint64) domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.OrderParams{
		Maker: maker, TokenGet: get, TokenGive: give,
		AmountGet: big.NewInt(amountGet), AmountGive: big.NewInt(amountGive),
		Expires: 5_000_000_000, Nonce: nonce,
		Signature: domain.Signature{V: 27, R: [32]byte{1}, S: [32]byte{2}},
	})
	require.NoError(t, err)
	return o
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x "}))
	assert.Equal(t,
		"postgres://u:p@db.example.com:5432/app?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db.example.com", Database: "app"}))
	assert.Equal(t,
		"postgres://u:p@localhost:6543/app?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "localhost", Port: 6543, Database: "app", SSLMode: "disable"}))
}

func TestOrderStore_RoundTripAndCommit(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	store := NewOrderStore(c.Pool())

	maker, taker := randomAddr(), randomAddr()
	tokA, tokB := randomAddr(), randomAddr()

	resting, err := store.Create(ctx, mkOrder(t, maker, tokA, tokB, 100, 40, 1))
	require.NoError(t, err)
	incoming, err := store.Create(ctx, mkOrder(t, taker, tokB, tokA, 100, 50, 1))
	require.NoError(t, err)

	got, err := store.GetByID(ctx, resting.ID)
	require.NoError(t, err)
	assert.Equal(t, maker, got.Maker)
	assert.Equal(t, "100", got.AmountGet.String())
	assert.True(t, got.PriceRatio.Equal(decimal.RequireFromString("0.4")))
	assert.Equal(t, uint8(27), got.Signature.V)

	_, err = store.Create(ctx, mkOrder(t, maker, tokA, tokB, 1, 1, 1))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	cands, err := store.FindCandidates(ctx, domain.CandidateQuery{
		WantToken: tokA, OfferToken: tokB,
		MaxPriceRatio: decimal.RequireFromString("0.5"), Now: 1, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, resting.ID, cands[0].ID)

	m := domain.Match{MakerOrderID: resting.ID, TakerOrderID: incoming.ID, TradeAmount: big.NewInt(80), TxHash: "0x" + uuid.NewString()}
	require.NoError(t, store.CommitMatch(ctx, m))
	assert.ErrorIs(t, store.CommitMatch(ctx, m), domain.ErrAlreadyCommitted)

	for _, id := range []string{resting.ID, incoming.ID} {
		o, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusFilled, o.Status)
		assert.Equal(t, "80", o.FillAmount.String())
	}

	hist, err := store.FindFilledOrdersForPair(ctx, tokA, tokB, 50)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestOrderStore_ExtremePriceRatio(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	store := NewOrderStore(c.Pool())

	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	o, err := domain.NewOrder(domain.OrderParams{
		Maker: randomAddr(), TokenGet: randomAddr(), TokenGive: randomAddr(),
		AmountGet: big.NewInt(1), AmountGive: maxUint256,
		Expires: 5_000_000_000, Nonce: 1,
		Signature: domain.Signature{V: 27, R: [32]byte{1}, S: [32]byte{2}},
	})
	require.NoError(t, err)

	created, err := store.Create(ctx, o)
	require.NoError(t, err)
	got, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, maxUint256.String(), got.PriceRatio.String())
	assert.Equal(t, 0, maxUint256.Cmp(got.AmountGive))
}

func TestOrderStore_CommitMissingOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	store := NewOrderStore(c.Pool())

	o, err := store.Create(ctx, mkOrder(t, randomAddr(), randomAddr(), randomAddr(), 10, 10, 1))
	require.NoError(t, err)

	err = store.CommitMatch(ctx, domain.Match{
		MakerOrderID: o.ID, TakerOrderID: uuid.NewString(), TradeAmount: big.NewInt(1), TxHash: "0x" + uuid.NewString(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	after, err := store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, after.Status)
	assert.Equal(t, "0", after.FillAmount.String())
}

func TestSettlementStore_Upsert(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	j := NewSettlementStore(c.Pool())

	st := domain.Settlement{
		TxHash: "0x" + uuid.NewString(), MakerOrderID: uuid.NewString(), TakerOrderID: uuid.NewString(),
		TradeAmount: big.NewInt(80), RelayerNonce: 9, State: domain.SettlementSigned,
	}
	require.NoError(t, j.Record(ctx, st))
	st.State = domain.SettlementTimedOut
	require.NoError(t, j.Record(ctx, st))

	got, err := j.Get(ctx, st.TxHash)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementTimedOut, got.State)
	assert.Equal(t, uint64(9), got.RelayerNonce)
}
