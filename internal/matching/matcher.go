// Package matching selects the best resting counter-order for an incoming
// taker order and sizes the trade.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// DefaultCandidateLimit bounds how many candidates are fetched per match.
const DefaultCandidateLimit = 10

// Proposal is a trade the matcher suggests. Release frees the candidate
// lock, if one was taken; it is always safe to call.
type Proposal struct {
	Maker       domain.Order
	Taker       domain.Order
	TradeAmount *big.Int

	release func()
}

// Release frees any candidate lock held for this proposal.
func (p Proposal) Release() {
	if p.release != nil {
		p.release()
	}
}

// Config tunes the matcher.
type Config struct {
	CandidateLimit int
	LockCandidates bool
	LockTTL        time.Duration
}

// Matcher finds a counter-order through the store's candidate query.
type Matcher struct {
	store  domain.OrderStore
	clock  ExpiryClock
	locks  domain.LockManager
	cfg    Config
	logger *slog.Logger
}

// New creates a Matcher. locks may be nil; candidate locking is then off.
func New(store domain.OrderStore, clock ExpiryClock, locks domain.LockManager, cfg Config, logger *slog.Logger) *Matcher {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Minute
	}
	if locks == nil {
		cfg.LockCandidates = false
	}
	return &Matcher{
		store:  store,
		clock:  clock,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "matcher")),
	}
}

// FindMatch returns the best candidate for taker. ok is false when nothing
// qualifies. Errors wrap domain.ErrStoreQuery.
func (m *Matcher) FindMatch(ctx context.Context, taker domain.Order) (Proposal, bool, error) {
	if taker.AmountGet == nil || taker.AmountGet.Sign() <= 0 || taker.AmountGive == nil || taker.AmountGive.Sign() <= 0 {
		return Proposal{}, false, fmt.Errorf("matching: %w: taker amounts must be positive", domain.ErrInvalidOrder)
	}

	now, err := m.clock.Now(ctx)
	if err != nil {
		return Proposal{}, false, fmt.Errorf("matching: %w: expiry reference: %v", domain.ErrStoreQuery, err)
	}

	q := domain.CandidateQuery{
		WantToken:     taker.TokenGive,
		OfferToken:    taker.TokenGet,
		MaxPriceRatio: domain.PriceRatio(taker.AmountGive, taker.AmountGet),
		Now:           now,
		Limit:         m.cfg.CandidateLimit,
	}
	candidates, err := m.store.FindCandidates(ctx, q)
	if err != nil {
		return Proposal{}, false, fmt.Errorf("matching: %w: %v", domain.ErrStoreQuery, err)
	}

	for _, c := range candidates {
		if c.ID == taker.ID || !domain.Eligible(c, taker) {
			continue
		}
		release, ok := m.lock(ctx, c.ID)
		if !ok {
			continue
		}
		return Proposal{
			Maker:       c,
			Taker:       taker,
			TradeAmount: TradeAmount(taker.AmountGet, taker.AmountGive, c.AmountGive),
			release:     release,
		}, true, nil
	}

	m.logger.DebugContext(ctx, "no counter-order",
		slog.String("taker", taker.ID),
		slog.Int("candidates", len(candidates)),
	)
	return Proposal{}, false, nil
}

// lock claims the candidate for this attempt. A candidate already claimed
// by a concurrent settlement is skipped; lock backend failures fall back to
// matching without a lock since the contract guards against double fills.
func (m *Matcher) lock(ctx context.Context, orderID string) (func(), bool) {
	if !m.cfg.LockCandidates {
		return nil, true
	}
	unlock, err := m.locks.Acquire(ctx, "order:"+orderID, m.cfg.LockTTL)
	switch {
	case err == nil:
		return unlock, true
	case errors.Is(err, domain.ErrLockHeld):
		m.logger.InfoContext(ctx, "candidate locked by another settlement, skipping",
			slog.String("order_id", orderID))
		return nil, false
	default:
		m.logger.WarnContext(ctx, "candidate lock unavailable, matching without lock",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
		return nil, true
	}
}

// TradeAmount returns min(takerGet, makerGive*takerGet/takerGive), computed
// in integer arithmetic with the multiplication first and the division
// floored.
func TradeAmount(takerGet, takerGive, makerGive *big.Int) *big.Int {
	atTakerRate := new(big.Int).Mul(makerGive, takerGet)
	atTakerRate.Quo(atTakerRate, takerGive)
	if atTakerRate.Cmp(takerGet) < 0 {
		return atTakerRate
	}
	return new(big.Int).Set(takerGet)
}
