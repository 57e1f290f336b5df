package domain

import (
	"math/big"
	"time"
)

// Match is the bookkeeping unit applied by OrderStore.CommitMatch once a
// settlement transaction has confirmed. TxHash makes the commit idempotent.
type Match struct {
	MakerOrderID string
	TakerOrderID string
	TradeAmount  *big.Int
	TxHash       string
}

// MatchKind tags the outcome of a match-and-settle attempt.
type MatchKind string

const (
	MatchKindNoMatch          MatchKind = "no_match"
	MatchKindExecuted         MatchKind = "executed"
	MatchKindSettlementFailed MatchKind = "settlement_failed"
	MatchKindStoreError       MatchKind = "store_error"
)

// Settlement failure reasons carried in MatchResult.Reason.
const (
	ReasonTimeout       = "timeout"
	ReasonReverted      = "reverted"
	ReasonSubmission    = "submission"
	ReasonConfiguration = "configuration"
)

// MatchResult is the caller-facing outcome of one match-and-settle attempt.
type MatchResult struct {
	Kind         MatchKind
	Message      string
	Reason       string
	TxHash       string
	TradeAmount  *big.Int
	MakerOrderID string
	TakerOrderID string
	CompletedAt  time.Time
}

// MatchResponse is the serialized form returned to external callers.
type MatchResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	TxHash      string `json:"txHash,omitempty"`
	TradeAmount string `json:"tradeAmount,omitempty"`
	Reason      string `json:"reason,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
}

// Response converts the result into its wire form.
func (r MatchResult) Response() MatchResponse {
	resp := MatchResponse{
		Success: r.Kind == MatchKindExecuted,
		Message: r.Message,
		TxHash:  r.TxHash,
		Reason:  r.Reason,
		OrderID: r.TakerOrderID,
	}
	if r.TradeAmount != nil {
		resp.TradeAmount = r.TradeAmount.String()
	}
	return resp
}
