package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/store/memory"
)

type upload struct {
	path        string
	contentType string
	multipart   bool
	data        []byte
}

type fakeWriter struct {
	uploads []upload
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.uploads = append(w.uploads, upload{path: path, contentType: contentType, data: b})
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.uploads = append(w.uploads, upload{path: path, multipart: true, data: b})
	return nil
}

type fakeChecker map[string]bool

func (c fakeChecker) Exists(_ context.Context, path string) (bool, error) {
	return c[path], nil
}

type fakeLister struct {
	orders      []domain.Order
	settlements []domain.Settlement
	err         error
}

func (f *fakeLister) ListFilledBefore(context.Context, time.Time) ([]domain.Order, error) {
	return f.orders, f.err
}

func (f *fakeLister) ListResolvedBefore(context.Context, time.Time) ([]domain.Settlement, error) {
	return f.settlements, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func filledOrder(id string) domain.Order {
	o, err := domain.NewOrder(domain.OrderParams{
		Maker:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenGet:   common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		TokenGive:  common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		AmountGet:  big.NewInt(100),
		AmountGive: big.NewInt(40),
		Expires:    5000,
		Nonce:      1,
	})
	if err != nil {
		panic(err)
	}
	o.ID = id
	o.Status = domain.OrderStatusFilled
	o.FillAmount = big.NewInt(100)
	return o
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer zr.Close()

	var out []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

var cutoff = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func TestArchiveFilledOrders(t *testing.T) {
	w := &fakeWriter{}
	audit := memory.NewAuditStore()
	lister := &fakeLister{orders: []domain.Order{filledOrder("o-1"), filledOrder("o-2")}}
	a := NewArchiver(w, fakeChecker{}, lister, lister, audit, quietLogger())

	n, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, w.uploads, 1)
	up := w.uploads[0]
	assert.Equal(t, "archive/orders/2026-10/2026-10-17.jsonl.gz", up.path)
	assert.Equal(t, contentTypeJSONL, up.contentType)
	assert.False(t, up.multipart)

	lines := decodeLines(t, up.data)
	require.Len(t, lines, 2)
	assert.Equal(t, "o-1", lines[0]["id"])
	assert.Equal(t, "100", lines[0]["fillAmount"])
	assert.Equal(t, "FILLED", lines[0]["status"])
	assert.Equal(t, "0.4", lines[0]["priceRatio"])

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.orders", entries[0].Event)
	assert.Equal(t, up.path, entries[0].Detail["path"])
}

func TestArchiveSettlements(t *testing.T) {
	w := &fakeWriter{}
	lister := &fakeLister{settlements: []domain.Settlement{{
		TxHash:       "0xabc",
		MakerOrderID: "m",
		TakerOrderID: "t",
		TradeAmount:  big.NewInt(80),
		State:        domain.SettlementCommitted,
	}}}
	a := NewArchiver(w, nil, lister, lister, nil, quietLogger())

	n, err := a.ArchiveSettlements(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Len(t, w.uploads, 1)
	assert.Equal(t, "archive/settlements/2026-10/2026-10-17.jsonl.gz", w.uploads[0].path)
	lines := decodeLines(t, w.uploads[0].data)
	require.Len(t, lines, 1)
	assert.Equal(t, "0xabc", lines[0]["txHash"])
	assert.Equal(t, "80", lines[0]["tradeAmount"])
	assert.Equal(t, "COMMITTED", lines[0]["state"])
	assert.NotContains(t, lines[0], "reason")
}

func TestArchive_NothingToDo(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, fakeChecker{}, &fakeLister{}, &fakeLister{}, nil, quietLogger())

	n, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.uploads)
}

func TestArchive_SkipsExistingObject(t *testing.T) {
	w := &fakeWriter{}
	checker := fakeChecker{"archive/orders/2026-10/2026-10-17.jsonl.gz": true}
	lister := &fakeLister{orders: []domain.Order{filledOrder("o-1")}}
	a := NewArchiver(w, checker, lister, lister, nil, quietLogger())

	n, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.uploads)
}

func TestArchive_MultipartAboveThreshold(t *testing.T) {
	w := &fakeWriter{}
	lister := &fakeLister{orders: []domain.Order{filledOrder("o-1")}}
	a := NewArchiver(w, nil, lister, lister, nil, quietLogger())
	a.multipartOver = 1

	_, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, w.uploads, 1)
	assert.True(t, w.uploads[0].multipart)
}

func TestArchive_Errors(t *testing.T) {
	boom := errors.New("boom")

	a := NewArchiver(&fakeWriter{}, nil, &fakeLister{err: boom}, &fakeLister{err: boom}, nil, quietLogger())
	_, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	assert.ErrorIs(t, err, boom)
	_, err = a.ArchiveSettlements(context.Background(), cutoff)
	assert.ErrorIs(t, err, boom)

	lister := &fakeLister{orders: []domain.Order{filledOrder("o-1")}}
	a = NewArchiver(&fakeWriter{err: boom}, nil, lister, lister, nil, quietLogger())
	n, err := a.ArchiveFilledOrders(context.Background(), cutoff)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestClientConfig_Validate(t *testing.T) {
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "us-east-1"}.Validate())

	err := ClientConfig{AccessKey: "k"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "set together")
}
