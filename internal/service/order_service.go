package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// OrderLimits bounds how fast a single maker may submit orders.
type OrderLimits struct {
	PerMaker int
	Window   time.Duration
}

// FillReader reads the exchange contract's fill counter for a signed order.
type FillReader interface {
	OrderFills(ctx context.Context, user common.Address, orderHash common.Hash) (*big.Int, error)
}

// OrderFills sets the stored fill of an order beside the contract's.
type OrderFills struct {
	OrderID     string `json:"orderId"`
	Hash        string `json:"hash"`
	Status      string `json:"status"`
	StoredFill  string `json:"storedFill"`
	OnChainFill string `json:"onChainFill"`
}

// OrderService admits signed orders into the book and triggers a match
// attempt for each one.
type OrderService struct {
	orders  domain.OrderStore
	matches *MatchService
	limiter domain.RateLimiter
	limits  OrderLimits
	bus     domain.SignalBus
	audit   domain.AuditStore
	book    domain.BookCache
	stats   interface{ ObserveOrder(result string) }
	fills   FillReader
	logger  *slog.Logger
}

// NewOrderService creates an OrderService. limiter, bus, audit and book may
// be nil.
func NewOrderService(
	orders domain.OrderStore,
	matches *MatchService,
	limiter domain.RateLimiter,
	limits OrderLimits,
	bus domain.SignalBus,
	audit domain.AuditStore,
	book domain.BookCache,
	logger *slog.Logger,
) *OrderService {
	if limits.PerMaker <= 0 {
		limits.PerMaker = 10
	}
	if limits.Window <= 0 {
		limits.Window = time.Second
	}
	return &OrderService{
		orders:  orders,
		matches: matches,
		limiter: limiter,
		limits:  limits,
		bus:     bus,
		audit:   audit,
		book:    book,
		logger:  logger.With(slog.String("component", "order_service")),
	}
}

// WithMetrics counts admission results.
func (s *OrderService) WithMetrics(rec interface{ ObserveOrder(result string) }) *OrderService {
	s.stats = rec
	return s
}

// WithFillReader enables on-chain fill lookups.
func (s *OrderService) WithFillReader(r FillReader) *OrderService {
	s.fills = r
	return s
}

// Submit validates and verifies a signed order, stores it OPEN and runs one
// match attempt. An error means the order was not accepted. Once stored, the
// order stays accepted whatever the match outcome.
func (s *OrderService) Submit(ctx context.Context, p domain.OrderParams) (domain.Order, domain.MatchResult, error) {
	order, result, err := s.submit(ctx, p)
	if s.stats != nil {
		switch {
		case err == nil:
			s.stats.ObserveOrder("accepted")
		case errors.Is(err, domain.ErrRateLimited):
			s.stats.ObserveOrder("rate_limited")
		default:
			s.stats.ObserveOrder("rejected")
		}
	}
	return order, result, err
}

func (s *OrderService) submit(ctx context.Context, p domain.OrderParams) (domain.Order, domain.MatchResult, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "orders:"+p.Maker.Hex(), s.limits.PerMaker, s.limits.Window)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return domain.Order{}, domain.MatchResult{}, fmt.Errorf("order_service: maker %s: %w", p.Maker.Hex(), domain.ErrRateLimited)
		}
	}

	order, err := domain.NewOrder(p)
	if err != nil {
		return domain.Order{}, domain.MatchResult{}, fmt.Errorf("order_service: %w", err)
	}
	if err := crypto.VerifyOrderSignature(order); err != nil {
		return domain.Order{}, domain.MatchResult{}, fmt.Errorf("order_service: %w", err)
	}

	order, err = s.orders.Create(ctx, order)
	if err != nil {
		return domain.Order{}, domain.MatchResult{}, fmt.Errorf("order_service: create order: %w", err)
	}

	log := s.logger.With(slog.String("order_id", order.ID), slog.String("maker", order.Maker.Hex()))
	log.InfoContext(ctx, "order accepted",
		slog.String("token_get", order.TokenGet.Hex()),
		slog.String("token_give", order.TokenGive.Hex()),
		slog.String("amount_get", order.AmountGet.String()),
		slog.String("amount_give", order.AmountGive.String()),
	)
	s.afterCreate(ctx, log, order)

	result, err := s.matches.MatchAndSettle(ctx, order)
	if err != nil {
		log.WarnContext(ctx, "match attempt rejected", slog.String("error", err.Error()))
	}
	return order, result, nil
}

// Get returns a stored order.
func (s *OrderService) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order: %w", err)
	}
	return o, nil
}

// Fills reads the contract's fill counter for a stored order, keyed by the
// maker and the order's identity hash.
func (s *OrderService) Fills(ctx context.Context, id string) (OrderFills, error) {
	if s.fills == nil {
		return OrderFills{}, fmt.Errorf("order_service: %w: no chain connection", domain.ErrConfiguration)
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return OrderFills{}, fmt.Errorf("order_service: get order: %w", err)
	}
	hash, err := crypto.OrderHash(o)
	if err != nil {
		return OrderFills{}, fmt.Errorf("order_service: %w", err)
	}
	onChain, err := s.fills.OrderFills(ctx, o.Maker, hash)
	if err != nil {
		return OrderFills{}, fmt.Errorf("order_service: read fills: %w", err)
	}
	stored := "0"
	if o.FillAmount != nil {
		stored = o.FillAmount.String()
	}
	return OrderFills{
		OrderID:     o.ID,
		Hash:        hash.Hex(),
		Status:      string(o.Status),
		StoredFill:  stored,
		OnChainFill: onChain.String(),
	}, nil
}

// Hash returns the identity hash a maker must sign for p.
func (s *OrderService) Hash(p crypto.OrderPayload) (string, error) {
	h, err := crypto.OrderStructHash(p)
	if err != nil {
		return "", fmt.Errorf("order_service: %w", err)
	}
	return h.Hex(), nil
}

func (s *OrderService) afterCreate(ctx context.Context, log *slog.Logger, o domain.Order) {
	if s.book != nil {
		if err := s.book.Invalidate(ctx, pairKeys(o.TokenGet, o.TokenGive)...); err != nil {
			log.WarnContext(ctx, "book cache invalidation failed", slog.String("error", err.Error()))
		}
	}
	publishEvent(ctx, s.bus, log, domain.ChannelOrders, domain.TradeEvent{
		Type:         domain.TradeEventOrderAccepted,
		TakerOrderID: o.ID,
		TokenGet:     o.TokenGet.Hex(),
		TokenGive:    o.TokenGive.Hex(),
		Timestamp:    time.Now().UTC(),
	})
	if s.audit != nil {
		if err := s.audit.Log(ctx, "order_created", map[string]any{
			"order_id":    o.ID,
			"maker":       o.Maker.Hex(),
			"token_get":   o.TokenGet.Hex(),
			"token_give":  o.TokenGive.Hex(),
			"amount_get":  o.AmountGet.String(),
			"amount_give": o.AmountGive.String(),
			"nonce":       o.Nonce,
		}); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
}
