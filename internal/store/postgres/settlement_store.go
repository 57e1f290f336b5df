package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// SettlementStore implements domain.SettlementJournal.
type SettlementStore struct {
	pool *pgxpool.Pool
}

func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `tx_hash, maker_order_id::text, taker_order_id::text,
	trade_amount::text, relayer_nonce::text, state, reason, created_at, updated_at`

// Record upserts by tx hash; created_at is kept from the first insert.
func (s *SettlementStore) Record(ctx context.Context, st domain.Settlement) error {
	amount := "0"
	if st.TradeAmount != nil {
		amount = st.TradeAmount.String()
	}
	const query = `
		INSERT INTO settlements (
			tx_hash, maker_order_id, taker_order_id, trade_amount,
			relayer_nonce, state, reason
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)
		ON CONFLICT (tx_hash) DO UPDATE SET
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.TxHash, st.MakerOrderID, st.TakerOrderID, amount,
		strconv.FormatUint(st.RelayerNonce, 10), string(st.State), st.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: record settlement %s: %w", st.TxHash, err)
	}
	return nil
}

func (s *SettlementStore) Get(ctx context.Context, txHash string) (domain.Settlement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+settlementSelectCols+` FROM settlements WHERE tx_hash = $1`, txHash)
	st, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", txHash, domain.ErrNotFound)
		}
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", txHash, err)
	}
	return st, nil
}

func (s *SettlementStore) ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+settlementSelectCols+` FROM settlements
		WHERE state NOT IN ('CONFIRMED_REVERTED', 'COMMITTED', 'DROPPED')
		  AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, olderThan, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved settlements: %w", err)
	}
	defer rows.Close()
	return scanSettlements(rows)
}

func (s *SettlementStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+settlementSelectCols+` FROM settlements
		WHERE state IN ('CONFIRMED_REVERTED', 'COMMITTED', 'DROPPED')
		  AND updated_at < $1
		ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved settlements: %w", err)
	}
	defer rows.Close()
	return scanSettlements(rows)
}

func scanSettlement(scanner interface{ Scan(dest ...any) error }) (domain.Settlement, error) {
	var (
		st            domain.Settlement
		amount, nonce string
		state         string
	)
	if err := scanner.Scan(
		&st.TxHash, &st.MakerOrderID, &st.TakerOrderID,
		&amount, &nonce, &state, &st.Reason, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		return domain.Settlement{}, err
	}
	st.State = domain.SettlementState(state)

	var err error
	if st.TradeAmount, err = parseBig("trade_amount", amount); err != nil {
		return domain.Settlement{}, err
	}
	if st.RelayerNonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
		return domain.Settlement{}, fmt.Errorf("relayer_nonce %q: %w", nonce, err)
	}
	return st, nil
}

func scanSettlements(rows pgx.Rows) ([]domain.Settlement, error) {
	out := make([]domain.Settlement, 0)
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: settlement rows: %w", err)
	}
	return out, nil
}
