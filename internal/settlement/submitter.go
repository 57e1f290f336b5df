// Package settlement builds, signs, broadcasts and confirms the on-chain
// trade call that settles a match, and reconciles settlements whose outcome
// was not known when the submitter gave up waiting.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const (
	DefaultGasLimit       = 500_000
	DefaultConfirmTimeout = 120 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// Config describes the chain and contract the submitter talks to.
type Config struct {
	RPCURL          string
	ChainID         int64
	ExchangeAddress string
	ExchangeABIPath string
	GasLimit        uint64
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// Validate reports every missing or malformed value at once.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.RPCURL) == "" {
		problems = append(problems, "chain.rpc_url is required")
	}
	if c.ChainID <= 0 {
		problems = append(problems, "chain.chain_id must be positive")
	}
	if !common.IsHexAddress(c.ExchangeAddress) || common.HexToAddress(c.ExchangeAddress) == (common.Address{}) {
		problems = append(problems, "chain.exchange_address must be a non-zero hex address")
	}
	if len(problems) > 0 {
		return fmt.Errorf("settlement: %w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Attempt is the observable result of one settlement.
type Attempt struct {
	TxHash       common.Hash
	State        domain.SettlementState
	RelayerNonce uint64
	Receipt      *types.Receipt
}

// Submitter settles matches against the exchange contract. It never retries
// a broadcast.
type Submitter struct {
	cfg      Config
	chain    ChainClient
	signer   *crypto.Signer
	journal  domain.SettlementJournal
	exchange abi.ABI
	contract common.Address
	logger   *slog.Logger

	// sendMu is held from the nonce read until the broadcast returns.
	sendMu sync.Mutex

	unavailable error
}

// New validates the configuration and collaborators. Any gap yields an
// error wrapping domain.ErrConfiguration.
func New(cfg Config, chain ChainClient, signer *crypto.Signer, journal domain.SettlementJournal, logger *slog.Logger) (*Submitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("settlement: %w: chain client is required", domain.ErrConfiguration)
	}
	if signer == nil {
		return nil, fmt.Errorf("settlement: %w: relayer key is required", domain.ErrConfiguration)
	}
	if signer.ChainID().Int64() != cfg.ChainID {
		return nil, fmt.Errorf("settlement: %w: signer chain id %s does not match %d",
			domain.ErrConfiguration, signer.ChainID(), cfg.ChainID)
	}
	exchange, err := LoadExchangeABI(cfg.ExchangeABIPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if journal == nil {
		journal = nopJournal{}
	}

	return &Submitter{
		cfg:      cfg,
		chain:    chain,
		signer:   signer,
		journal:  journal,
		exchange: exchange,
		contract: common.HexToAddress(cfg.ExchangeAddress),
		logger:   logger.With(slog.String("component", "settlement")),
	}, nil
}

// Unavailable returns a submitter that fails every call with cause. cause
// should wrap domain.ErrConfiguration.
func Unavailable(cause error) *Submitter {
	if cause == nil || !errors.Is(cause, domain.ErrConfiguration) {
		cause = fmt.Errorf("settlement: %w: %v", domain.ErrConfiguration, cause)
	}
	return &Submitter{unavailable: cause}
}

// Ready returns the configuration error of an unavailable submitter.
func (s *Submitter) Ready() error {
	return s.unavailable
}

// RelayerAddress returns the account that pays for settlements.
func (s *Submitter) RelayerAddress() common.Address {
	if s.signer == nil {
		return common.Address{}
	}
	return s.signer.Address()
}

// Settle executes trade(maker, amount) on the exchange and waits for the
// receipt. The returned error wraps ErrChainSubmission, ErrChainRevert or
// ErrChainTimeout; only a nil error means CONFIRMED_SUCCESS.
func (s *Submitter) Settle(ctx context.Context, maker domain.Order, takerOrderID string, amount *big.Int) (Attempt, error) {
	if err := s.Ready(); err != nil {
		return Attempt{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return Attempt{}, fmt.Errorf("settlement: %w: trade amount must be positive", domain.ErrChainSubmission)
	}

	attempt := Attempt{State: domain.SettlementBuilt}
	data, err := packTrade(s.exchange, maker, amount)
	if err != nil {
		return attempt, fmt.Errorf("%w: %v", domain.ErrChainSubmission, err)
	}

	entry := domain.Settlement{
		MakerOrderID: maker.ID,
		TakerOrderID: takerOrderID,
		TradeAmount:  amount,
	}
	log, err := s.send(ctx, data, &attempt, &entry)
	if err != nil {
		return attempt, err
	}

	receipt, err := s.waitForReceipt(ctx, attempt.TxHash)
	if err != nil {
		attempt.State = domain.SettlementTimedOut
		entry.State = domain.SettlementTimedOut
		entry.Reason = err.Error()
		s.record(ctx, log, entry)
		log.WarnContext(ctx, "settlement confirmation timed out", slog.Duration("timeout", s.cfg.ConfirmTimeout))
		return attempt, fmt.Errorf("settlement: %w: %s not mined within %s", domain.ErrChainTimeout, entry.TxHash, s.cfg.ConfirmTimeout)
	}
	attempt.Receipt = receipt

	if receipt.Status != types.ReceiptStatusSuccessful {
		attempt.State = domain.SettlementConfirmedReverted
		entry.State = domain.SettlementConfirmedReverted
		entry.Reason = fmt.Sprintf("reverted in block %s", receipt.BlockNumber)
		s.record(ctx, log, entry)
		log.WarnContext(ctx, "settlement reverted", slog.Uint64("gas_used", receipt.GasUsed))
		return attempt, fmt.Errorf("settlement: %w: %s", domain.ErrChainRevert, entry.TxHash)
	}

	attempt.State = domain.SettlementConfirmedSuccess
	entry.State = domain.SettlementConfirmedSuccess
	entry.Reason = ""
	s.record(ctx, log, entry)
	log.InfoContext(ctx, "settlement confirmed", slog.Uint64("gas_used", receipt.GasUsed))
	return attempt, nil
}

// send assigns the relayer nonce, signs, journals and broadcasts the
// transaction. Concurrent settlements pass through it one at a time so each
// gets its own nonce; the receipt wait happens outside.
func (s *Submitter) send(ctx context.Context, data []byte, attempt *Attempt, entry *domain.Settlement) (*slog.Logger, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	signed, nonce, err := s.buildAndSign(ctx, data)
	if err != nil {
		return nil, err
	}
	attempt.TxHash = signed.Hash()
	attempt.RelayerNonce = nonce
	attempt.State = domain.SettlementSigned

	entry.TxHash = attempt.TxHash.Hex()
	entry.RelayerNonce = nonce
	entry.State = domain.SettlementSigned
	// A settlement that cannot be journaled is not broadcast: after a crash
	// there would be no record to reconcile.
	if err := s.journal.Record(ctx, *entry); err != nil {
		return nil, fmt.Errorf("settlement: %w: journal signed tx: %v", domain.ErrChainSubmission, err)
	}

	log := s.logger.With(
		slog.String("tx_hash", entry.TxHash),
		slog.String("maker_order", entry.MakerOrderID),
		slog.String("taker_order", entry.TakerOrderID),
	)

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		entry.Reason = "broadcast: " + err.Error()
		s.record(ctx, log, *entry)
		return nil, fmt.Errorf("settlement: %w: broadcast: %v", domain.ErrChainSubmission, err)
	}
	attempt.State = domain.SettlementSubmitted
	entry.State = domain.SettlementSubmitted
	s.record(ctx, log, *entry)
	log.InfoContext(ctx, "settlement submitted", slog.Uint64("relayer_nonce", nonce))
	return log, nil
}

func (s *Submitter) buildAndSign(ctx context.Context, data []byte) (*types.Transaction, uint64, error) {
	from := s.signer.Address()
	nonce, err := s.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: %w: pending nonce: %v", domain.ErrChainSubmission, err)
	}
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: %w: gas price: %v", domain.ErrChainSubmission, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      s.cfg.GasLimit,
		To:       &s.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement: %w: %v", domain.ErrChainSubmission, err)
	}
	return signed, nonce, nil
}

// waitForReceipt polls until the receipt appears or ConfirmTimeout elapses.
// Transient RPC errors are retried until the deadline.
func (s *Submitter) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.chain.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			s.logger.DebugContext(ctx, "receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// OrderFills reads the contract's fill counter for an order hash.
func (s *Submitter) OrderFills(ctx context.Context, user common.Address, orderHash common.Hash) (*big.Int, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	data, err := packOrderFills(s.exchange, user, orderHash)
	if err != nil {
		return nil, err
	}
	out, err := s.chain.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("settlement: call orderFills: %w", err)
	}
	values, err := s.exchange.Unpack("orderFills", out)
	if err != nil {
		return nil, fmt.Errorf("settlement: unpack orderFills: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("settlement: orderFills returned %d values", len(values))
	}
	filled, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("settlement: orderFills returned %T", values[0])
	}
	return filled, nil
}

// record writes a journal update after broadcast. Failures are logged only;
// the reconciler tolerates a stale state.
func (s *Submitter) record(ctx context.Context, log *slog.Logger, entry domain.Settlement) {
	if err := s.journal.Record(ctx, entry); err != nil {
		log.WarnContext(ctx, "journal update failed",
			slog.String("state", string(entry.State)),
			slog.String("error", err.Error()))
	}
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, domain.Settlement) error { return nil }
func (nopJournal) Get(context.Context, string) (domain.Settlement, error) {
	return domain.Settlement{}, domain.ErrNotFound
}
func (nopJournal) ListUnresolved(context.Context, time.Time, int) ([]domain.Settlement, error) {
	return nil, nil
}
func (nopJournal) ListResolvedBefore(context.Context, time.Time) ([]domain.Settlement, error) {
	return nil, nil
}
