// Package memory implements the domain store interfaces in process memory.
// It backs local runs (store.driver = "memory") and tests.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// OrderStore is a mutex-guarded map of orders.
type OrderStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	matches map[string]domain.Match
	now     func() time.Time

	// FailBetweenUpdates, when set, runs after the maker order has been
	// written and before the taker order is. A non-nil error aborts the
	// commit and rolls the maker write back.
	FailBetweenUpdates func(m domain.Match) error

	// FailQueries makes FindCandidates fail with the returned error.
	FailQueries func() error
}

// NewOrderStore returns an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:  make(map[string]domain.Order),
		matches: make(map[string]domain.Match),
		now:     time.Now,
	}
}

// SetClock overrides the wall clock used for CreatedAt/UpdatedAt.
func (s *OrderStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create stores o as OPEN with a fresh ID unless one is already set.
func (s *OrderStore) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, ok := s.orders[o.ID]; ok {
		return domain.Order{}, fmt.Errorf("memory: create order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	for _, existing := range s.orders {
		if existing.Maker == o.Maker && existing.Nonce == o.Nonce {
			return domain.Order{}, fmt.Errorf("memory: create order: maker %s nonce %d: %w",
				o.Maker.Hex(), o.Nonce, domain.ErrAlreadyExists)
		}
	}
	ts := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = ts
	}
	o.UpdatedAt = o.CreatedAt
	o.Status = domain.OrderStatusOpen
	if o.FillAmount == nil {
		o.FillAmount = new(big.Int)
	}
	s.orders[o.ID] = o.Clone()
	return o.Clone(), nil
}

func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memory: get order %s: %w", id, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *OrderStore) FindCandidates(_ context.Context, q domain.CandidateQuery) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailQueries != nil {
		if err := s.FailQueries(); err != nil {
			return nil, fmt.Errorf("memory: find candidates: %w", err)
		}
	}

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Status != domain.OrderStatusOpen || o.Expired(q.Now) {
			continue
		}
		if o.TokenGet != q.WantToken || o.TokenGive != q.OfferToken {
			continue
		}
		if o.PriceRatio.GreaterThan(q.MaxPriceRatio) {
			continue
		}
		out = append(out, o.Clone())
	}
	sortByPrice(out, true)
	return truncate(out, q.Limit), nil
}

// CommitMatch applies both fills or neither.
func (s *OrderStore) CommitMatch(_ context.Context, m domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.TradeAmount == nil || m.TradeAmount.Sign() <= 0 {
		return fmt.Errorf("memory: commit match: %w: trade amount must be positive", domain.ErrStoreTransaction)
	}
	if m.TxHash != "" {
		if _, ok := s.matches[m.TxHash]; ok {
			return fmt.Errorf("memory: commit match %s: %w", m.TxHash, domain.ErrAlreadyCommitted)
		}
	}
	maker, ok := s.orders[m.MakerOrderID]
	if !ok {
		return fmt.Errorf("memory: commit match: maker %s: %w", m.MakerOrderID, domain.ErrNotFound)
	}
	taker, ok := s.orders[m.TakerOrderID]
	if !ok {
		return fmt.Errorf("memory: commit match: taker %s: %w", m.TakerOrderID, domain.ErrNotFound)
	}

	ts := s.now().UTC()
	makerBefore := maker.Clone()

	s.orders[maker.ID] = fill(maker, m.TradeAmount, ts)
	if s.FailBetweenUpdates != nil {
		if err := s.FailBetweenUpdates(m); err != nil {
			s.orders[maker.ID] = makerBefore
			return fmt.Errorf("memory: commit match: %w: %v", domain.ErrStoreTransaction, err)
		}
	}
	s.orders[taker.ID] = fill(taker, m.TradeAmount, ts)

	if m.TxHash != "" {
		s.matches[m.TxHash] = m
	}
	return nil
}

func (s *OrderStore) FindOpenOrdersForPair(_ context.Context, q domain.PairQuery) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusOpen && o.TokenGet == q.TokenGet && o.TokenGive == q.TokenGive {
			out = append(out, o.Clone())
		}
	}
	sortByPrice(out, q.Descending)
	return truncate(out, q.Limit), nil
}

func (s *OrderStore) FindFilledOrdersForPair(_ context.Context, tokenA, tokenB common.Address, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Status != domain.OrderStatusFilled {
			continue
		}
		if (o.TokenGet == tokenA && o.TokenGive == tokenB) || (o.TokenGet == tokenB && o.TokenGive == tokenA) {
			out = append(out, o.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (s *OrderStore) ListFilledBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusFilled && o.UpdatedAt.Before(before) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Len returns the number of stored orders.
func (s *OrderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func fill(o domain.Order, amount *big.Int, ts time.Time) domain.Order {
	o = o.Clone()
	if o.FillAmount == nil {
		o.FillAmount = new(big.Int)
	}
	o.FillAmount.Add(o.FillAmount, amount)
	o.Status = domain.OrderStatusFilled
	o.UpdatedAt = ts
	return o
}

// sortByPrice orders by price ratio, then oldest first, then lowest ID.
func sortByPrice(orders []domain.Order, descending bool) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if c := a.PriceRatio.Cmp(b.PriceRatio); c != 0 {
			if descending {
				return c > 0
			}
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func truncate(orders []domain.Order, limit int) []domain.Order {
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}
