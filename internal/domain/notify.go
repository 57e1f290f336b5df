package domain

import "context"

// Operator alert event types.
const (
	EventTradeExecuted     = "trade_executed"
	EventSettlementTimeout = "settlement_timeout"
	EventCommitFailed      = "commit_failed"
	EventSettlementDropped = "settlement_dropped"
)

// Alerter delivers operator notifications filtered by event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NopAlerter discards every alert.
type NopAlerter struct{}

func (NopAlerter) Notify(context.Context, string, string, string) error { return nil }
