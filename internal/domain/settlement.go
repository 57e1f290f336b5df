package domain

import (
	"math/big"
	"time"
)

// SettlementState is a step in the settlement journal. The first six follow
// the submitter's state machine; the rest are bookkeeping outcomes.
type SettlementState string

const (
	SettlementBuilt             SettlementState = "BUILT"
	SettlementSigned            SettlementState = "SIGNED"
	SettlementSubmitted         SettlementState = "SUBMITTED"
	SettlementConfirmedSuccess  SettlementState = "CONFIRMED_SUCCESS"
	SettlementConfirmedReverted SettlementState = "CONFIRMED_REVERTED"
	SettlementTimedOut          SettlementState = "TIMED_OUT"
	SettlementCommitted         SettlementState = "COMMITTED"
	SettlementCommitFailed      SettlementState = "COMMIT_FAILED"
	SettlementDropped           SettlementState = "DROPPED"
)

// Resolved reports whether no further reconciliation is needed.
func (s SettlementState) Resolved() bool {
	switch s {
	case SettlementConfirmedReverted, SettlementCommitted, SettlementDropped:
		return true
	default:
		return false
	}
}

// Settlement is one journaled settlement transaction.
type Settlement struct {
	TxHash       string
	MakerOrderID string
	TakerOrderID string
	TradeAmount  *big.Int
	RelayerNonce uint64
	State        SettlementState
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
