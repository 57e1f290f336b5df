package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// SettlementJournal keeps settlement records keyed by tx hash.
type SettlementJournal struct {
	mu      sync.Mutex
	entries map[string]domain.Settlement
	now     func() time.Time

	// FailRecord, when set, fails Record for the given state.
	FailRecord func(state domain.SettlementState) error
}

func NewSettlementJournal() *SettlementJournal {
	return &SettlementJournal{entries: make(map[string]domain.Settlement), now: time.Now}
}

// SetClock overrides the wall clock used for timestamps.
func (j *SettlementJournal) SetClock(now func() time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
}

func (j *SettlementJournal) Record(_ context.Context, s domain.Settlement) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if s.TxHash == "" {
		return fmt.Errorf("memory: record settlement: tx hash required")
	}
	if j.FailRecord != nil {
		if err := j.FailRecord(s.State); err != nil {
			return fmt.Errorf("memory: record settlement %s: %w", s.TxHash, err)
		}
	}

	ts := j.now().UTC()
	if prev, ok := j.entries[s.TxHash]; ok {
		s.CreatedAt = prev.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = ts
	}
	s.UpdatedAt = ts
	if s.TradeAmount != nil {
		s.TradeAmount = new(big.Int).Set(s.TradeAmount)
	}
	j.entries[s.TxHash] = s
	return nil
}

func (j *SettlementJournal) Get(_ context.Context, txHash string) (domain.Settlement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	s, ok := j.entries[txHash]
	if !ok {
		return domain.Settlement{}, fmt.Errorf("memory: get settlement %s: %w", txHash, domain.ErrNotFound)
	}
	return s, nil
}

func (j *SettlementJournal) ListUnresolved(_ context.Context, olderThan time.Time, limit int) ([]domain.Settlement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.Settlement, 0)
	for _, s := range j.entries {
		if !s.State.Resolved() && s.UpdatedAt.Before(olderThan) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *SettlementJournal) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.Settlement, 0)
	for _, s := range j.entries {
		if s.State.Resolved() && s.UpdatedAt.Before(before) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

// AuditStore is an in-memory append-only log.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.AuditEntry{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
