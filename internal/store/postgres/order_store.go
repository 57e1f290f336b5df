package postgres

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const pgUniqueViolation = "23505"

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Numeric columns are read as text so big.Int and decimal values round-trip
// without float conversion.
const orderSelectCols = `id::text, maker, token_get, token_give,
	amount_get::text, amount_give::text, price_ratio::text,
	expires::text, nonce::text, sig_v, sig_r, sig_s,
	status, fill_amount::text, created_at, updated_at`

// Create inserts o as OPEN and returns it with its generated ID.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.OrderStatusOpen
	o.FillAmount = new(big.Int)

	const query = `
		INSERT INTO orders (
			id, maker, token_get, token_give,
			amount_get, amount_give, price_ratio,
			expires, nonce, sig_v, sig_r, sig_s, status, fill_amount
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10, $11, $12, 'OPEN', 0
		)
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		o.ID, addrKey(o.Maker), addrKey(o.TokenGet), addrKey(o.TokenGive),
		o.AmountGet.String(), o.AmountGive.String(), o.PriceRatio.String(),
		strconv.FormatUint(o.Expires, 10), strconv.FormatUint(o.Nonce, 10),
		int16(o.Signature.V), hex.EncodeToString(o.Signature.R[:]), hex.EncodeToString(o.Signature.S[:]),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Order{}, fmt.Errorf("postgres: create order %s: %w", o.ID, domain.ErrAlreadyExists)
		}
		return domain.Order{}, fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, domain.ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// FindCandidates returns resting orders a taker can trade against, best
// price ratio first, ties broken by age then ID.
func (s *OrderStore) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Order, error) {
	const query = `SELECT ` + orderSelectCols + ` FROM orders
		WHERE status = 'OPEN'
		  AND expires > $1::numeric
		  AND token_get = $2
		  AND token_give = $3
		  AND price_ratio <= $4::numeric
		ORDER BY price_ratio DESC, created_at ASC, id ASC
		LIMIT $5`

	rows, err := s.pool.Query(ctx, query,
		strconv.FormatUint(q.Now, 10), addrKey(q.WantToken), addrKey(q.OfferToken),
		q.MaxPriceRatio.String(), limitOrAll(q.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: find candidates: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan candidates: %w", err)
	}
	return orders, nil
}

// CommitMatch locks both orders, records the match under its tx hash and
// fills both orders inside one transaction.
func (s *OrderStore) CommitMatch(ctx context.Context, m domain.Match) error {
	if m.TradeAmount == nil || m.TradeAmount.Sign() <= 0 {
		return fmt.Errorf("postgres: commit match: %w: trade amount must be positive", domain.ErrStoreTransaction)
	}
	for _, id := range []string{m.MakerOrderID, m.TakerOrderID} {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("postgres: commit match: order %s: %w", id, domain.ErrNotFound)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: commit match: %w: begin: %v", domain.ErrStoreTransaction, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOrders(ctx, tx, m.MakerOrderID, m.TakerOrderID); err != nil {
		return err
	}

	if m.TxHash != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO matches (tx_hash, maker_order_id, taker_order_id, trade_amount)
			VALUES ($1, $2, $3, $4::numeric)
			ON CONFLICT (tx_hash) DO NOTHING`,
			m.TxHash, m.MakerOrderID, m.TakerOrderID, m.TradeAmount.String())
		if err != nil {
			return fmt.Errorf("postgres: commit match: %w: record match: %v", domain.ErrStoreTransaction, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: commit match %s: %w", m.TxHash, domain.ErrAlreadyCommitted)
		}
	}

	const fill = `
		UPDATE orders
		SET fill_amount = fill_amount + $1::numeric, status = 'FILLED', updated_at = NOW()
		WHERE id = $2`
	for _, id := range []string{m.MakerOrderID, m.TakerOrderID} {
		tag, err := tx.Exec(ctx, fill, m.TradeAmount.String(), id)
		if err != nil {
			return fmt.Errorf("postgres: commit match: %w: fill %s: %v", domain.ErrStoreTransaction, id, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("postgres: commit match: fill %s: %w", id, domain.ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit match: %w: commit: %v", domain.ErrStoreTransaction, err)
	}
	return nil
}

// lockOrders takes row locks in ID order so concurrent commits touching the
// same pair cannot deadlock.
func lockOrders(ctx context.Context, tx pgx.Tx, makerID, takerID string) error {
	rows, err := tx.Query(ctx,
		`SELECT id::text FROM orders WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		[]string{makerID, takerID})
	if err != nil {
		return fmt.Errorf("postgres: commit match: %w: lock orders: %v", domain.ErrStoreTransaction, err)
	}
	found := make(map[string]bool, 2)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: commit match: %w: scan lock: %v", domain.ErrStoreTransaction, err)
		}
		found[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: commit match: %w: lock orders: %v", domain.ErrStoreTransaction, err)
	}

	if !found[canonicalID(makerID)] {
		return fmt.Errorf("postgres: commit match: maker %s: %w", makerID, domain.ErrNotFound)
	}
	if !found[canonicalID(takerID)] {
		return fmt.Errorf("postgres: commit match: taker %s: %w", takerID, domain.ErrNotFound)
	}
	return nil
}

// FindOpenOrdersForPair serves order book snapshots.
func (s *OrderStore) FindOpenOrdersForPair(ctx context.Context, q domain.PairQuery) ([]domain.Order, error) {
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE status = 'OPEN' AND token_get = $1 AND token_give = $2
		ORDER BY price_ratio ` + dir + `, created_at ASC, id ASC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, addrKey(q.TokenGet), addrKey(q.TokenGive), limitOrAll(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: find open orders for pair: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// FindFilledOrdersForPair serves trade history in both directions.
func (s *OrderStore) FindFilledOrdersForPair(ctx context.Context, tokenA, tokenB common.Address, limit int) ([]domain.Order, error) {
	const query = `SELECT ` + orderSelectCols + ` FROM orders
		WHERE status = 'FILLED'
		  AND ((token_get = $1 AND token_give = $2) OR (token_get = $2 AND token_give = $1))
		ORDER BY updated_at DESC, id ASC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, addrKey(tokenA), addrKey(tokenB), limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: find filled orders for pair: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan filled orders: %w", err)
	}
	return orders, nil
}

// ListFilledBefore feeds the archiver.
func (s *OrderStore) ListFilledBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status = 'FILLED' AND updated_at < $1
		 ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list filled orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan filled orders: %w", err)
	}
	return orders, nil
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                                  domain.Order
		maker, tokenGet, tokenGive         string
		amountGet, amountGive, ratio, fill string
		expires, nonce                     string
		sigV                               int16
		sigR, sigS, status                 string
	)
	err := scanner.Scan(
		&o.ID, &maker, &tokenGet, &tokenGive,
		&amountGet, &amountGive, &ratio,
		&expires, &nonce, &sigV, &sigR, &sigS,
		&status, &fill, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Maker = common.HexToAddress(maker)
	o.TokenGet = common.HexToAddress(tokenGet)
	o.TokenGive = common.HexToAddress(tokenGive)
	o.Status = domain.OrderStatus(status)

	if o.AmountGet, err = parseBig("amount_get", amountGet); err != nil {
		return domain.Order{}, err
	}
	if o.AmountGive, err = parseBig("amount_give", amountGive); err != nil {
		return domain.Order{}, err
	}
	if o.FillAmount, err = parseBig("fill_amount", fill); err != nil {
		return domain.Order{}, err
	}
	if o.PriceRatio, err = decimal.NewFromString(ratio); err != nil {
		return domain.Order{}, fmt.Errorf("price_ratio %q: %w", ratio, err)
	}
	if o.Expires, err = strconv.ParseUint(expires, 10, 64); err != nil {
		return domain.Order{}, fmt.Errorf("expires %q: %w", expires, err)
	}
	if o.Nonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
		return domain.Order{}, fmt.Errorf("nonce %q: %w", nonce, err)
	}

	o.Signature.V = uint8(sigV)
	if err := decodeWord(sigR, &o.Signature.R); err != nil {
		return domain.Order{}, fmt.Errorf("sig_r: %w", err)
	}
	if err := decodeWord(sigS, &o.Signature.S); err != nil {
		return domain.Order{}, fmt.Errorf("sig_s: %w", err)
	}
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func parseBig(col, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s %q: not an integer", col, s)
	}
	return n, nil
}

func decodeWord(s string, dst *[32]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(dst[:], b)
	return nil
}

func canonicalID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// addrKey is the stored form of an address; lower case keeps equality
// comparisons in SQL independent of checksum casing.
func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// limitOrAll maps a non-positive limit to LIMIT ALL (NULL).
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
