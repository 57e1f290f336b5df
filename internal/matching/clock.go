package matching

import (
	"context"
	"fmt"
	"time"
)

// ExpiryClock yields the reference value order expiry is compared against.
type ExpiryClock interface {
	Now(ctx context.Context) (uint64, error)
}

// TimestampClock measures expiry in unix seconds.
type TimestampClock struct {
	now func() time.Time
}

func NewTimestampClock() TimestampClock {
	return TimestampClock{now: time.Now}
}

func (c TimestampClock) Now(context.Context) (uint64, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return uint64(now().Unix()), nil
}

// BlockNumberReader is the slice of the chain client the block clock needs.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockClock measures expiry in block numbers.
type BlockClock struct {
	chain BlockNumberReader
}

func NewBlockClock(chain BlockNumberReader) BlockClock {
	return BlockClock{chain: chain}
}

func (c BlockClock) Now(ctx context.Context) (uint64, error) {
	n, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("matching: block number: %w", err)
	}
	return n, nil
}

// FixedClock always returns the same reference. Useful for tests and replays.
type FixedClock uint64

func (c FixedClock) Now(context.Context) (uint64, error) {
	return uint64(c), nil
}

// ClockFor picks the clock matching the configured expiry mode
// ("timestamp" or "block").
func ClockFor(mode string, chain BlockNumberReader) (ExpiryClock, error) {
	switch mode {
	case "", "timestamp":
		return NewTimestampClock(), nil
	case "block":
		if chain == nil {
			return nil, fmt.Errorf("matching: block expiry mode needs a chain client")
		}
		return NewBlockClock(chain), nil
	default:
		return nil, fmt.Errorf("matching: unknown expiry mode %q", mode)
	}
}
