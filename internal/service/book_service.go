package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// DefaultBookDepth bounds each side of a snapshot and the trade history.
const DefaultBookDepth = 50

// BookLevel is one resting or filled order as shown to clients.
type BookLevel struct {
	ID         string    `json:"id"`
	Maker      string    `json:"maker"`
	TokenGet   string    `json:"tokenGet"`
	TokenGive  string    `json:"tokenGive"`
	AmountGet  string    `json:"amountGet"`
	AmountGive string    `json:"amountGive"`
	PriceRatio string    `json:"priceRatio"`
	FillAmount string    `json:"fillAmount"`
	Expires    uint64    `json:"expires"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Snapshot is the open book for a token pair. Bids pay tokenA for tokenB;
// asks pay tokenB for tokenA.
type Snapshot struct {
	TokenA string      `json:"tokenA"`
	TokenB string      `json:"tokenB"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}

// History is the most recent filled orders for a pair in either direction.
type History struct {
	TokenA string      `json:"tokenA"`
	TokenB string      `json:"tokenB"`
	Trades []BookLevel `json:"trades"`
}

// BookService serves order book reads, cached when a BookCache is set.
type BookService struct {
	orders domain.OrderStore
	cache  domain.BookCache
	depth  int
	logger *slog.Logger
}

// NewBookService creates a BookService. cache may be nil.
func NewBookService(orders domain.OrderStore, cache domain.BookCache, logger *slog.Logger) *BookService {
	return &BookService{
		orders: orders,
		cache:  cache,
		depth:  DefaultBookDepth,
		logger: logger.With(slog.String("component", "book_service")),
	}
}

// Snapshot returns bids (tokenGet=B, tokenGive=A) best price first and
// asks (tokenGet=A, tokenGive=B) cheapest first.
func (s *BookService) Snapshot(ctx context.Context, tokenA, tokenB common.Address) (Snapshot, error) {
	var snap Snapshot
	key := bookKey(tokenA, tokenB)
	if s.cached(ctx, key, &snap) {
		return snap, nil
	}

	bids, err := s.orders.FindOpenOrdersForPair(ctx, domain.PairQuery{
		TokenGet: tokenB, TokenGive: tokenA, Descending: true, Limit: s.depth,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("book_service: bids: %w", err)
	}
	asks, err := s.orders.FindOpenOrdersForPair(ctx, domain.PairQuery{
		TokenGet: tokenA, TokenGive: tokenB, Descending: false, Limit: s.depth,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("book_service: asks: %w", err)
	}

	snap = Snapshot{
		TokenA: tokenA.Hex(),
		TokenB: tokenB.Hex(),
		Bids:   levels(bids),
		Asks:   levels(asks),
	}
	s.store(ctx, key, snap)
	return snap, nil
}

// History returns filled orders for the pair, newest first.
func (s *BookService) History(ctx context.Context, tokenA, tokenB common.Address) (History, error) {
	var h History
	key := historyKey(tokenA, tokenB)
	if s.cached(ctx, key, &h) {
		return h, nil
	}

	filled, err := s.orders.FindFilledOrdersForPair(ctx, tokenA, tokenB, s.depth)
	if err != nil {
		return History{}, fmt.Errorf("book_service: history: %w", err)
	}
	h = History{TokenA: tokenA.Hex(), TokenB: tokenB.Hex(), Trades: levels(filled)}
	s.store(ctx, key, h)
	return h, nil
}

func (s *BookService) cached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "book cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.WarnContext(ctx, "book cache entry unreadable", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *BookService) store(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.logger.WarnContext(ctx, "book cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// OrderView renders a single order for API responses.
func OrderView(o domain.Order) BookLevel {
	l := BookLevel{
		ID:         o.ID,
		Maker:      o.Maker.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		TokenGive:  o.TokenGive.Hex(),
		PriceRatio: o.PriceRatio.String(),
		Expires:    o.Expires,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		FillAmount: "0",
	}
	if o.AmountGet != nil {
		l.AmountGet = o.AmountGet.String()
	}
	if o.AmountGive != nil {
		l.AmountGive = o.AmountGive.String()
	}
	if o.FillAmount != nil {
		l.FillAmount = o.FillAmount.String()
	}
	return l
}

func levels(orders []domain.Order) []BookLevel {
	out := make([]BookLevel, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView(o))
	}
	return out
}

func bookKey(a, b common.Address) string {
	return "book:" + strings.ToLower(a.Hex()) + ":" + strings.ToLower(b.Hex())
}

func historyKey(a, b common.Address) string {
	return "history:" + strings.ToLower(a.Hex()) + ":" + strings.ToLower(b.Hex())
}

// pairKeys lists every cache key that shows orders between a and b.
func pairKeys(a, b common.Address) []string {
	return []string{bookKey(a, b), bookKey(b, a), historyKey(a, b), historyKey(b, a)}
}
