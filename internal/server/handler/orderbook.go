package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AceBoss1/afrodex-exchange/internal/service"
)

// BookReader defines the order book reads the handler serves.
type BookReader interface {
	Snapshot(ctx context.Context, tokenA, tokenB common.Address) (service.Snapshot, error)
	History(ctx context.Context, tokenA, tokenB common.Address) (service.History, error)
}

// OrderBookHandler serves the public order book.
type OrderBookHandler struct {
	book   BookReader
	logger *slog.Logger
}

func NewOrderBookHandler(book BookReader, logger *slog.Logger) *OrderBookHandler {
	return &OrderBookHandler{book: book, logger: logger}
}

// GetOrderBook returns open bids and asks, or recent trades with
// type=history.
// GET /api/orderbook?tokenA=0x...&tokenB=0x...&type=orderbook|history
func (h *OrderBookHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("tokenA") == "" || q.Get("tokenB") == "" {
		writeError(w, http.StatusBadRequest, "tokenA and tokenB query parameters required")
		return
	}
	tokenA, err := address("tokenA", q.Get("tokenA"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenB, err := address("tokenB", q.Get("tokenB"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tokenA == tokenB {
		writeError(w, http.StatusBadRequest, "tokenA and tokenB must differ")
		return
	}

	var body any
	switch kind := q.Get("type"); kind {
	case "", "orderbook":
		body, err = h.book.Snapshot(r.Context(), tokenA, tokenB)
	case "history":
		body, err = h.book.History(r.Context(), tokenA, tokenB)
	default:
		writeError(w, http.StatusBadRequest, "type must be orderbook or history")
		return
	}
	if err != nil {
		logFor(h.logger, r).ErrorContext(r.Context(), "handler: order book read failed",
			slog.String("token_a", tokenA.Hex()),
			slog.String("token_b", tokenB.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load order book")
		return
	}
	writeJSON(w, http.StatusOK, body)
}
