package service

import (
	"sync"
	"time"
)

// Dedup keeps one match attempt per taker order in flight. Entries expire
// after ttl so a crashed attempt cannot block an order forever. It is safe
// for concurrent use.
type Dedup struct {
	seen map[string]time.Time // orderID -> claim time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup whose claims last at most ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records orderID and returns true, or returns false if another
// attempt claimed it within the TTL window.
func (d *Dedup) Claim(orderID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if claimed, ok := d.seen[orderID]; ok && now.Sub(claimed) < d.ttl {
		return false
	}
	d.seen[orderID] = now
	return true
}

// Release drops the claim on orderID.
func (d *Dedup) Release(orderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, orderID)
}
