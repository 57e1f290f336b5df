package domain

import "time"

// Event types carried in TradeEvent.Type.
const (
	TradeEventExecuted         = "trade_executed"
	TradeEventSettlementFailed = "settlement_failed"
	TradeEventCommitFailed     = "commit_failed"
	TradeEventOrderAccepted    = "order_accepted"
)

// TradeEvent is the JSON payload published on the SignalBus and relayed to
// websocket clients.
type TradeEvent struct {
	Type         string    `json:"type"`
	TxHash       string    `json:"txHash,omitempty"`
	MakerOrderID string    `json:"makerOrderId,omitempty"`
	TakerOrderID string    `json:"takerOrderId,omitempty"`
	TokenGet     string    `json:"tokenGet,omitempty"`
	TokenGive    string    `json:"tokenGive,omitempty"`
	TradeAmount  string    `json:"tradeAmount,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
