package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// ReceiptReader is the chain access the reconciler needs.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// ReconcilerConfig tunes reconciliation passes.
type ReconcilerConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration // skip entries updated more recently than this
	DropAfter   time.Duration // alert on receipts missing this long after signing
	BatchSize   int
	// Relayer is the account that signs settlements. An entry is dropped only
	// once this account's mined nonce has moved past the entry's nonce.
	Relayer common.Address
}

// ReconcileReport counts what a pass did.
type ReconcileReport struct {
	Checked   int
	Committed int
	Reverted  int
	Dropped   int
	Pending   int
	Failed    int
}

// Reconciler resolves journaled settlements against chain state. A mined
// successful transaction is committed to the order store exactly once,
// keyed by its hash.
type Reconciler struct {
	journal domain.SettlementJournal
	orders  domain.OrderStore
	chain   ReceiptReader
	alerts  domain.Alerter
	cfg     ReconcilerConfig
	logger  *slog.Logger
	now     func() time.Time

	onReport func(ReconcileReport)
}

func NewReconciler(journal domain.SettlementJournal, orders domain.OrderStore, chain ReceiptReader, alerts domain.Alerter, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfirmTimeout
	}
	if cfg.DropAfter <= 0 {
		cfg.DropAfter = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if alerts == nil {
		alerts = domain.NopAlerter{}
	}
	return &Reconciler{
		journal: journal,
		orders:  orders,
		chain:   chain,
		alerts:  alerts,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "reconciler")),
		now:     time.Now,
	}
}

// OnReport registers fn to receive the report of every pass.
func (r *Reconciler) OnReport(fn func(ReconcileReport)) {
	r.onReport = fn
}

// Run reconciles every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "reconciliation pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch of unresolved journal entries.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	entries, err := r.journal.ListUnresolved(ctx, r.now().Add(-r.cfg.GracePeriod), r.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("settlement: list unresolved: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		r.reconcile(ctx, entry, &report)
	}

	if r.onReport != nil {
		r.onReport(report)
	}
	if report.Checked > 0 {
		r.logger.InfoContext(ctx, "reconciliation pass complete",
			slog.Int("checked", report.Checked),
			slog.Int("committed", report.Committed),
			slog.Int("reverted", report.Reverted),
			slog.Int("dropped", report.Dropped),
			slog.Int("pending", report.Pending),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, entry domain.Settlement, report *ReconcileReport) {
	log := r.logger.With(slog.String("tx_hash", entry.TxHash), slog.String("state", string(entry.State)))
	hash := common.HexToHash(entry.TxHash)

	receipt, err := r.receipt(ctx, hash)
	if err != nil {
		log.WarnContext(ctx, "receipt lookup failed", slog.String("error", err.Error()))
		report.Failed++
		return
	}
	if receipt == nil {
		consumed, err := r.nonceConsumed(ctx, entry)
		if err != nil {
			log.WarnContext(ctx, "relayer nonce lookup failed", slog.String("error", err.Error()))
			report.Failed++
			return
		}
		if !consumed {
			r.pending(ctx, log, entry, report)
			return
		}
		// The nonce may have been used by this very transaction between the
		// two lookups.
		if receipt, err = r.receipt(ctx, hash); err != nil {
			log.WarnContext(ctx, "receipt lookup failed", slog.String("error", err.Error()))
			report.Failed++
			return
		}
		if receipt == nil {
			r.drop(ctx, log, entry, report)
			return
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		entry.State = domain.SettlementConfirmedReverted
		entry.Reason = fmt.Sprintf("reverted in block %s", receipt.BlockNumber)
		if r.save(ctx, log, entry) {
			report.Reverted++
		} else {
			report.Failed++
		}
		return
	}

	err = r.orders.CommitMatch(ctx, domain.Match{
		MakerOrderID: entry.MakerOrderID,
		TakerOrderID: entry.TakerOrderID,
		TradeAmount:  entry.TradeAmount,
		TxHash:       entry.TxHash,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyCommitted) {
		entry.State = domain.SettlementCommitFailed
		entry.Reason = err.Error()
		r.save(ctx, log, entry)
		report.Failed++
		r.alert(ctx, log, domain.EventCommitFailed, "Settlement commit failed",
			fmt.Sprintf("tx %s confirmed on-chain but bookkeeping failed: %v", entry.TxHash, err))
		return
	}

	entry.State = domain.SettlementCommitted
	entry.Reason = ""
	if r.save(ctx, log, entry) {
		report.Committed++
		log.InfoContext(ctx, "late settlement committed")
	} else {
		report.Failed++
	}
}

// receipt returns nil without error while the transaction is not mined.
func (r *Reconciler) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return receipt, err
}

// nonceConsumed reports whether a block already holds a transaction from
// the relayer at or after the entry's nonce. Without a known relayer an
// entry is never considered replaced.
func (r *Reconciler) nonceConsumed(ctx context.Context, entry domain.Settlement) (bool, error) {
	if r.cfg.Relayer == (common.Address{}) {
		return false, nil
	}
	mined, err := r.chain.NonceAt(ctx, r.cfg.Relayer, nil)
	if err != nil {
		return false, err
	}
	return mined > entry.RelayerNonce, nil
}

// pending leaves an unmined entry for a later pass. Past DropAfter it alerts
// once, marking the entry's reason so later passes stay quiet.
func (r *Reconciler) pending(ctx context.Context, log *slog.Logger, entry domain.Settlement, report *ReconcileReport) {
	report.Pending++
	if r.now().Sub(entry.CreatedAt) < r.cfg.DropAfter {
		return
	}
	stale := fmt.Sprintf("no receipt after %s; relayer nonce %d not yet used", r.cfg.DropAfter, entry.RelayerNonce)
	if entry.Reason == stale {
		return
	}
	entry.Reason = stale
	if r.save(ctx, log, entry) {
		r.alert(ctx, log, domain.EventSettlementTimeout, "Settlement still pending",
			fmt.Sprintf("tx %s (maker %s, taker %s) is not mined after %s; relayer nonce %d is still open",
				entry.TxHash, entry.MakerOrderID, entry.TakerOrderID, r.cfg.DropAfter, entry.RelayerNonce))
	}
}

// drop resolves an entry whose nonce was taken by another transaction.
func (r *Reconciler) drop(ctx context.Context, log *slog.Logger, entry domain.Settlement, report *ReconcileReport) {
	entry.State = domain.SettlementDropped
	entry.Reason = fmt.Sprintf("relayer nonce %d used by another transaction", entry.RelayerNonce)
	if !r.save(ctx, log, entry) {
		report.Failed++
		return
	}
	report.Dropped++
	r.alert(ctx, log, domain.EventSettlementDropped, "Settlement dropped",
		fmt.Sprintf("tx %s (maker %s, taker %s) was replaced at relayer nonce %d; orders remain OPEN",
			entry.TxHash, entry.MakerOrderID, entry.TakerOrderID, entry.RelayerNonce))
}

func (r *Reconciler) save(ctx context.Context, log *slog.Logger, entry domain.Settlement) bool {
	if err := r.journal.Record(ctx, entry); err != nil {
		log.ErrorContext(ctx, "journal update failed",
			slog.String("target_state", string(entry.State)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (r *Reconciler) alert(ctx context.Context, log *slog.Logger, event, title, msg string) {
	if err := r.alerts.Notify(ctx, event, title, msg); err != nil {
		log.WarnContext(ctx, "alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
