package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/matching"
	"github.com/AceBoss1/afrodex-exchange/internal/settlement"
)

// CounterFinder proposes a resting order to trade against.
type CounterFinder interface {
	FindMatch(ctx context.Context, taker domain.Order) (matching.Proposal, bool, error)
}

// Settler executes a proposed trade on-chain.
type Settler interface {
	Ready() error
	Settle(ctx context.Context, maker domain.Order, takerOrderID string, amount *big.Int) (settlement.Attempt, error)
}

// Recorder receives match and settlement observations.
type Recorder interface {
	ObserveMatch(r domain.MatchResult)
	ObserveSettlement(state domain.SettlementState, took time.Duration)
}

// MatchService runs one match-and-settle attempt per incoming order. The
// store is only written after the settlement confirmed successfully, and
// then exactly once.
type MatchService struct {
	finder  CounterFinder
	settler Settler
	orders  domain.OrderStore
	journal domain.SettlementJournal
	logger  *slog.Logger

	bus    domain.SignalBus
	audit  domain.AuditStore
	book   domain.BookCache
	alerts domain.Alerter
	dedup  *Dedup
	stats  Recorder
	now    func() time.Time
}

// NewMatchService creates a MatchService with its required collaborators.
func NewMatchService(
	finder CounterFinder,
	settler Settler,
	orders domain.OrderStore,
	journal domain.SettlementJournal,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		finder:  finder,
		settler: settler,
		orders:  orders,
		journal: journal,
		logger:  logger.With(slog.String("component", "match_service")),
		alerts:  domain.NopAlerter{},
		now:     time.Now,
	}
}

// WithEvents publishes trade and settlement events on bus.
func (s *MatchService) WithEvents(bus domain.SignalBus) *MatchService {
	s.bus = bus
	return s
}

// WithAudit records outcomes in the audit log.
func (s *MatchService) WithAudit(audit domain.AuditStore) *MatchService {
	s.audit = audit
	return s
}

// WithBookCache invalidates cached book snapshots after a commit.
func (s *MatchService) WithBookCache(book domain.BookCache) *MatchService {
	s.book = book
	return s
}

// WithAlerter sends operator notifications.
func (s *MatchService) WithAlerter(alerts domain.Alerter) *MatchService {
	if alerts != nil {
		s.alerts = alerts
	}
	return s
}

// WithDedup rejects a second concurrent attempt for the same taker order.
func (s *MatchService) WithDedup(d *Dedup) *MatchService {
	s.dedup = d
	return s
}

// WithMetrics reports outcomes and settlement latency to rec.
func (s *MatchService) WithMetrics(rec Recorder) *MatchService {
	s.stats = rec
	return s
}

// MatchAndSettle looks for a counter-order, settles the trade on-chain and
// records the fill. A non-nil error means the attempt was rejected before
// anything was sent (configuration, encoding, duplicate); every other
// outcome is reported through the result kind.
func (s *MatchService) MatchAndSettle(ctx context.Context, taker domain.Order) (domain.MatchResult, error) {
	result, err := s.matchAndSettle(ctx, taker)
	if s.stats != nil {
		s.stats.ObserveMatch(result)
	}
	return result, err
}

func (s *MatchService) matchAndSettle(ctx context.Context, taker domain.Order) (domain.MatchResult, error) {
	result := domain.MatchResult{TakerOrderID: taker.ID}

	if err := s.settler.Ready(); err != nil {
		result.Kind = domain.MatchKindSettlementFailed
		result.Reason = domain.ReasonConfiguration
		result.Message = "settlement is not configured"
		return s.finish(result), err
	}
	if _, err := crypto.OrderHash(taker); err != nil {
		result.Kind = domain.MatchKindNoMatch
		result.Message = "order identity could not be encoded"
		return s.finish(result), fmt.Errorf("match_service: %w", err)
	}
	if taker.Status != "" && taker.Status != domain.OrderStatusOpen {
		result.Kind = domain.MatchKindNoMatch
		result.Message = "order is not open"
		return s.finish(result), fmt.Errorf("match_service: %w: order %s is %s", domain.ErrInvalidOrder, taker.ID, taker.Status)
	}
	if s.dedup != nil && taker.ID != "" {
		if !s.dedup.Claim(taker.ID) {
			result.Kind = domain.MatchKindNoMatch
			result.Message = "a match for this order is already in progress"
			return s.finish(result), fmt.Errorf("match_service: order %s: %w", taker.ID, domain.ErrDuplicate)
		}
		defer s.dedup.Release(taker.ID)
	}

	log := s.logger.With(slog.String("taker_order", taker.ID))

	proposal, ok, err := s.finder.FindMatch(ctx, taker)
	if err != nil {
		// Candidate search failures must not block order admission.
		log.WarnContext(ctx, "candidate search failed, treating as no match", slog.String("error", err.Error()))
		result.Kind = domain.MatchKindNoMatch
		result.Message = "no matching order found"
		return s.finish(result), nil
	}
	if !ok {
		result.Kind = domain.MatchKindNoMatch
		result.Message = "no matching order found"
		return s.finish(result), nil
	}
	defer proposal.Release()

	maker := proposal.Maker
	result.MakerOrderID = maker.ID
	result.TradeAmount = new(big.Int).Set(proposal.TradeAmount)
	log = log.With(slog.String("maker_order", maker.ID), slog.String("trade_amount", proposal.TradeAmount.String()))

	started := s.now()
	attempt, err := s.settler.Settle(ctx, maker, taker.ID, proposal.TradeAmount)
	if s.stats != nil {
		s.stats.ObserveSettlement(attempt.State, s.now().Sub(started))
	}
	if attempt.TxHash != (common.Hash{}) {
		result.TxHash = attempt.TxHash.Hex()
	}
	if err != nil {
		return s.finish(s.settlementFailed(ctx, log, result, err)), nil
	}

	match := domain.Match{
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		TradeAmount:  proposal.TradeAmount,
		TxHash:       result.TxHash,
	}
	entry := domain.Settlement{
		TxHash:       result.TxHash,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		TradeAmount:  proposal.TradeAmount,
		RelayerNonce: attempt.RelayerNonce,
	}

	if err := s.orders.CommitMatch(ctx, match); err != nil && !errors.Is(err, domain.ErrAlreadyCommitted) {
		entry.State = domain.SettlementCommitFailed
		entry.Reason = err.Error()
		s.recordSettlement(ctx, log, entry)

		log.ErrorContext(ctx, "settlement confirmed but commit failed", slog.String("error", err.Error()))
		s.notify(ctx, log, domain.EventCommitFailed, "Commit failed after settlement",
			fmt.Sprintf("tx %s confirmed but orders %s/%s were not updated: %v", result.TxHash, maker.ID, taker.ID, err))
		s.publish(ctx, log, domain.ChannelSettlements, s.event(domain.TradeEventCommitFailed, taker, result))
		s.auditLog(ctx, log, "commit_failed", result)

		result.Kind = domain.MatchKindStoreError
		result.Reason = "commit_failed"
		result.Message = "trade settled on-chain but the order book update failed; pending reconciliation"
		return s.finish(result), nil
	}

	entry.State = domain.SettlementCommitted
	s.recordSettlement(ctx, log, entry)

	result.Kind = domain.MatchKindExecuted
	result.Message = "trade executed"
	log.InfoContext(ctx, "trade executed", slog.String("tx_hash", result.TxHash))

	s.invalidateBook(ctx, log, taker)
	s.publish(ctx, log, domain.ChannelTrades, s.event(domain.TradeEventExecuted, taker, result))
	s.auditLog(ctx, log, "trade_executed", result)
	s.notify(ctx, log, domain.EventTradeExecuted, "Trade executed",
		fmt.Sprintf("maker %s / taker %s, amount %s, tx %s", maker.ID, taker.ID, result.TradeAmount, result.TxHash))
	return s.finish(result), nil
}

// MatchByID loads a stored order and runs MatchAndSettle for it.
func (s *MatchService) MatchByID(ctx context.Context, orderID string) (domain.MatchResult, error) {
	taker, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.MatchResult{Kind: domain.MatchKindNoMatch, TakerOrderID: orderID, Message: "order not found"},
			fmt.Errorf("match_service: load order: %w", err)
	}
	return s.MatchAndSettle(ctx, taker)
}

func (s *MatchService) settlementFailed(ctx context.Context, log *slog.Logger, result domain.MatchResult, err error) domain.MatchResult {
	result.Kind = domain.MatchKindSettlementFailed
	switch {
	case errors.Is(err, domain.ErrChainTimeout):
		result.Reason = domain.ReasonTimeout
		result.Message = fmt.Sprintf("settlement not confirmed in time; transaction %s may still be mined, this is not a confirmed failure", result.TxHash)
		s.notify(ctx, log, domain.EventSettlementTimeout, "Settlement timed out",
			fmt.Sprintf("tx %s (maker %s, taker %s) awaiting reconciliation", result.TxHash, result.MakerOrderID, result.TakerOrderID))
	case errors.Is(err, domain.ErrChainRevert):
		result.Reason = domain.ReasonReverted
		result.Message = "settlement transaction reverted"
	case errors.Is(err, domain.ErrConfiguration):
		result.Reason = domain.ReasonConfiguration
		result.Message = "settlement is not configured"
	default:
		result.Reason = domain.ReasonSubmission
		result.Message = "settlement transaction could not be submitted"
	}
	log.WarnContext(ctx, "settlement failed",
		slog.String("reason", result.Reason),
		slog.String("tx_hash", result.TxHash),
		slog.String("error", err.Error()))

	ev := s.event(domain.TradeEventSettlementFailed, domain.Order{ID: result.TakerOrderID}, result)
	s.publish(ctx, log, domain.ChannelSettlements, ev)
	s.auditLog(ctx, log, "settlement_failed", result)
	return result
}

func (s *MatchService) finish(r domain.MatchResult) domain.MatchResult {
	r.CompletedAt = s.now().UTC()
	return r
}

func (s *MatchService) event(kind string, taker domain.Order, r domain.MatchResult) domain.TradeEvent {
	ev := domain.TradeEvent{
		Type:         kind,
		TxHash:       r.TxHash,
		MakerOrderID: r.MakerOrderID,
		TakerOrderID: r.TakerOrderID,
		Reason:       r.Reason,
		Timestamp:    s.now().UTC(),
	}
	if taker.TokenGet != (common.Address{}) {
		ev.TokenGet = taker.TokenGet.Hex()
		ev.TokenGive = taker.TokenGive.Hex()
	}
	if r.TradeAmount != nil {
		ev.TradeAmount = r.TradeAmount.String()
	}
	return ev
}

func (s *MatchService) recordSettlement(ctx context.Context, log *slog.Logger, entry domain.Settlement) {
	if s.journal == nil || entry.TxHash == "" {
		return
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		log.WarnContext(ctx, "journal update failed",
			slog.String("state", string(entry.State)),
			slog.String("error", err.Error()))
	}
}

func (s *MatchService) publish(ctx context.Context, log *slog.Logger, channel string, ev domain.TradeEvent) {
	publishEvent(ctx, s.bus, log, channel, ev)
}

// publishEvent is best effort: failures are logged, never returned.
func publishEvent(ctx context.Context, bus domain.SignalBus, log *slog.Logger, channel string, ev domain.TradeEvent) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.WarnContext(ctx, "encode event failed", slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		log.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

func (s *MatchService) auditLog(ctx context.Context, log *slog.Logger, event string, r domain.MatchResult) {
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"maker_order": r.MakerOrderID,
		"taker_order": r.TakerOrderID,
		"tx_hash":     r.TxHash,
		"reason":      r.Reason,
	}
	if r.TradeAmount != nil {
		detail["trade_amount"] = r.TradeAmount.String()
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (s *MatchService) invalidateBook(ctx context.Context, log *slog.Logger, taker domain.Order) {
	if s.book == nil {
		return
	}
	if err := s.book.Invalidate(ctx, pairKeys(taker.TokenGet, taker.TokenGive)...); err != nil {
		log.WarnContext(ctx, "book cache invalidation failed", slog.String("error", err.Error()))
	}
}

func (s *MatchService) notify(ctx context.Context, log *slog.Logger, event, title, msg string) {
	if err := s.alerts.Notify(ctx, event, title, msg); err != nil {
		log.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
