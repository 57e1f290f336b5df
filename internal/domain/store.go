package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CandidateQuery selects resting orders a taker could trade against.
type CandidateQuery struct {
	WantToken     common.Address // candidate's TokenGet
	OfferToken    common.Address // candidate's TokenGive
	MaxPriceRatio decimal.Decimal
	Now           uint64 // expiry reference; candidates need Expires > Now
	Limit         int
}

// PairQuery selects open orders for one side of a token pair.
type PairQuery struct {
	TokenGet   common.Address
	TokenGive  common.Address
	Descending bool // sort by price ratio, highest first
	Limit      int
}

// OrderStore persists orders. CommitMatch is the only method allowed to
// change Status, FillAmount or UpdatedAt.
type OrderStore interface {
	// Create persists a new OPEN order and returns it with its assigned ID.
	Create(ctx context.Context, order Order) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)

	// FindCandidates returns open, unexpired orders matching q, ordered by
	// price ratio descending (ties: oldest first, then lowest ID), at most
	// q.Limit long. No match is an empty slice, not an error.
	FindCandidates(ctx context.Context, q CandidateQuery) ([]Order, error)

	// CommitMatch atomically fills both orders of m. It returns ErrNotFound
	// if either order is missing and ErrAlreadyCommitted if m.TxHash was
	// already applied; in both cases nothing changes.
	CommitMatch(ctx context.Context, m Match) error

	FindOpenOrdersForPair(ctx context.Context, q PairQuery) ([]Order, error)
	// FindFilledOrdersForPair returns filled orders trading tokenA against
	// tokenB in either direction, most recently updated first.
	FindFilledOrdersForPair(ctx context.Context, tokenA, tokenB common.Address, limit int) ([]Order, error)
	ListFilledBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// SettlementJournal records settlement transactions so that ambiguous
// outcomes can be reconciled against the chain later.
type SettlementJournal interface {
	// Record inserts or updates the entry keyed by TxHash.
	Record(ctx context.Context, s Settlement) error
	Get(ctx context.Context, txHash string) (Settlement, error)
	// ListUnresolved returns unresolved entries last updated before olderThan.
	ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]Settlement, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
