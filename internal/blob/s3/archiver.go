package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// FilledOrderLister is the order store query the archiver needs.
type FilledOrderLister interface {
	ListFilledBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// ResolvedSettlementLister is the journal query the archiver needs.
type ResolvedSettlementLister interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
}

// ArchiveImpl implements domain.Archiver. It copies history older than a
// cutoff to gzipped JSONL objects; it never deletes from the database.
//
//	archive/orders/2026-10/2026-10-17.jsonl.gz
//	archive/settlements/2026-10/2026-10-17.jsonl.gz
type ArchiveImpl struct {
	writer  domain.BlobWriter
	checker domain.BlobChecker
	orders  FilledOrderLister
	journal ResolvedSettlementLister
	audit   domain.AuditStore
	logger  *slog.Logger

	// multipartOver switches to multipart upload above this many
	// compressed bytes.
	multipartOver int64
}

func NewArchiver(
	writer domain.BlobWriter,
	checker domain.BlobChecker,
	orders FilledOrderLister,
	journal ResolvedSettlementLister,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		checker:       checker,
		orders:        orders,
		journal:       journal,
		audit:         audit,
		logger:        logger.With(slog.String("component", "archiver")),
		multipartOver: minPartSize,
	}
}

type orderRecord struct {
	ID         string    `json:"id"`
	Maker      string    `json:"maker"`
	TokenGet   string    `json:"tokenGet"`
	TokenGive  string    `json:"tokenGive"`
	AmountGet  string    `json:"amountGet"`
	AmountGive string    `json:"amountGive"`
	PriceRatio string    `json:"priceRatio"`
	Expires    uint64    `json:"expires"`
	Nonce      uint64    `json:"nonce"`
	FillAmount string    `json:"fillAmount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type settlementRecord struct {
	TxHash       string    `json:"txHash"`
	MakerOrderID string    `json:"makerOrderId"`
	TakerOrderID string    `json:"takerOrderId"`
	TradeAmount  string    `json:"tradeAmount"`
	RelayerNonce uint64    `json:"relayerNonce"`
	State        string    `json:"state"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ArchiveFilledOrders uploads FILLED orders last updated before the cutoff.
func (a *ArchiveImpl) ArchiveFilledOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListFilledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	records := make([]orderRecord, 0, len(orders))
	for _, o := range orders {
		r := orderRecord{
			ID:         o.ID,
			Maker:      o.Maker.Hex(),
			TokenGet:   o.TokenGet.Hex(),
			TokenGive:  o.TokenGive.Hex(),
			PriceRatio: o.PriceRatio.String(),
			Expires:    o.Expires,
			Nonce:      o.Nonce,
			Status:     string(o.Status),
			CreatedAt:  o.CreatedAt,
			UpdatedAt:  o.UpdatedAt,
		}
		r.AmountGet, r.AmountGive, r.FillAmount = bigString(o.AmountGet), bigString(o.AmountGive), bigString(o.FillAmount)
		records = append(records, r)
	}
	return archive(ctx, a, "orders", before, records)
}

// ArchiveSettlements uploads resolved journal entries last updated before
// the cutoff.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.journal.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	records := make([]settlementRecord, 0, len(entries))
	for _, s := range entries {
		records = append(records, settlementRecord{
			TxHash:       s.TxHash,
			MakerOrderID: s.MakerOrderID,
			TakerOrderID: s.TakerOrderID,
			TradeAmount:  bigString(s.TradeAmount),
			RelayerNonce: s.RelayerNonce,
			State:        string(s.State),
			Reason:       s.Reason,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return archive(ctx, a, "settlements", before, records)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	path := archivePath(kind, before)

	if a.checker != nil {
		exists, err := a.checker.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive already written, skipping", slog.String("path", path))
			return 0, nil
		}
	}

	buf, err := gzipJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if int64(len(buf)) > a.multipartOver {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archive written",
		slog.String("path", path),
		slog.Int64("records", count),
		slog.Int("bytes", len(buf)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// archivePath partitions archives by month and names them by cutoff day,
// so one pass per day maps to one object.
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl.gz", kind, before.Format("2006-01"), before.Format("2006-01-02"))
}

// gzipJSONL writes one compact JSON document per line, gzip compressed.
func gzipJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
