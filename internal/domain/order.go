package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceRatioPlaces is the number of decimal places kept for derived price ratios.
const PriceRatioPlaces = 18

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen   OrderStatus = "OPEN"
	OrderStatusFilled OrderStatus = "FILLED"
)

// Signature is the maker's (v, r, s) signature over the order identity hash.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// IsZero reports whether no signature was captured.
func (s Signature) IsZero() bool {
	return s.V == 0 && s.R == [32]byte{} && s.S == [32]byte{}
}

// Order is a signed trading intent. The maker wants AmountGet of TokenGet in
// exchange for up to AmountGive of TokenGive. Only Status, FillAmount and
// UpdatedAt change after creation, and only through OrderStore.CommitMatch.
type Order struct {
	ID         string
	Maker      common.Address
	TokenGet   common.Address
	TokenGive  common.Address
	AmountGet  *big.Int
	AmountGive *big.Int
	PriceRatio decimal.Decimal // AmountGive / AmountGet
	Expires    uint64          // block number or unix seconds, see chain.expiry_mode
	Nonce      uint64
	Signature  Signature
	Status     OrderStatus
	FillAmount *big.Int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderParams carries the raw fields of a newly submitted order.
type OrderParams struct {
	Maker      common.Address
	TokenGet   common.Address
	TokenGive  common.Address
	AmountGet  *big.Int
	AmountGive *big.Int
	Expires    uint64
	Nonce      uint64
	Signature  Signature
}

// NewOrder validates params and builds an OPEN order with its price ratio
// derived. It is the only place boundary input turns into an Order.
func NewOrder(p OrderParams) (Order, error) {
	if p.Maker == (common.Address{}) {
		return Order{}, fmt.Errorf("%w: maker address required", ErrInvalidOrder)
	}
	if p.TokenGet == p.TokenGive {
		return Order{}, fmt.Errorf("%w: tokenGet and tokenGive must differ", ErrInvalidOrder)
	}
	if p.AmountGet == nil || p.AmountGet.Sign() <= 0 {
		return Order{}, fmt.Errorf("%w: amountGet must be positive", ErrInvalidOrder)
	}
	if p.AmountGive == nil || p.AmountGive.Sign() <= 0 {
		return Order{}, fmt.Errorf("%w: amountGive must be positive", ErrInvalidOrder)
	}

	return Order{
		Maker:      p.Maker,
		TokenGet:   p.TokenGet,
		TokenGive:  p.TokenGive,
		AmountGet:  new(big.Int).Set(p.AmountGet),
		AmountGive: new(big.Int).Set(p.AmountGive),
		PriceRatio: PriceRatio(p.AmountGive, p.AmountGet),
		Expires:    p.Expires,
		Nonce:      p.Nonce,
		Signature:  p.Signature,
		Status:     OrderStatusOpen,
		FillAmount: new(big.Int),
	}, nil
}

// PriceRatio returns give/get rounded to PriceRatioPlaces.
func PriceRatio(give, get *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(give, 0).DivRound(decimal.NewFromBigInt(get, 0), PriceRatioPlaces)
}

// Expired reports whether the order is at or past its expiry reference.
func (o Order) Expired(now uint64) bool {
	return now >= o.Expires
}

// Eligible reports whether a and b trade exactly inverse token pairs.
func Eligible(a, b Order) bool {
	return a.TokenGet == b.TokenGive && a.TokenGive == b.TokenGet
}

// Clone returns a deep copy so callers cannot alias big.Int fields.
func (o Order) Clone() Order {
	c := o
	if o.AmountGet != nil {
		c.AmountGet = new(big.Int).Set(o.AmountGet)
	}
	if o.AmountGive != nil {
		c.AmountGive = new(big.Int).Set(o.AmountGive)
	}
	if o.FillAmount != nil {
		c.FillAmount = new(big.Int).Set(o.FillAmount)
	}
	return c
}
