package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	Submit(ctx context.Context, p domain.OrderParams) (domain.Order, domain.MatchResult, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	Hash(p crypto.OrderPayload) (string, error)
	Fills(ctx context.Context, id string) (service.OrderFills, error)
}

// OrderHandler serves order submission and lookup.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// orderRequest is a signed order as posted by a wallet. The signature is
// either a 65-byte r||s||v hex string or separate v, r and s fields.
type orderRequest struct {
	Maker      string   `json:"maker"`
	TokenGet   string   `json:"tokenGet"`
	TokenGive  string   `json:"tokenGive"`
	AmountGet  quantity `json:"amountGet"`
	AmountGive quantity `json:"amountGive"`
	Expires    quantity `json:"expires"`
	Nonce      quantity `json:"nonce"`
	Signature  string   `json:"signature,omitempty"`
	V          quantity `json:"v,omitempty"`
	R          string   `json:"r,omitempty"`
	S          string   `json:"s,omitempty"`
}

func (req orderRequest) params() (domain.OrderParams, error) {
	var (
		p   domain.OrderParams
		err error
	)
	if p.Maker, err = address("maker", req.Maker); err != nil {
		return p, err
	}
	if p.TokenGet, err = address("tokenGet", req.TokenGet); err != nil {
		return p, err
	}
	if p.TokenGive, err = address("tokenGive", req.TokenGive); err != nil {
		return p, err
	}
	if p.AmountGet, err = req.AmountGet.big("amountGet"); err != nil {
		return p, err
	}
	if p.AmountGive, err = req.AmountGive.big("amountGive"); err != nil {
		return p, err
	}
	if p.Expires, err = req.Expires.uint64("expires"); err != nil {
		return p, err
	}
	if p.Nonce, err = req.Nonce.uint64("nonce"); err != nil {
		return p, err
	}
	p.Signature, err = req.signature()
	return p, err
}

func (req orderRequest) signature() (domain.Signature, error) {
	if req.Signature != "" {
		return crypto.ParseSignature(req.Signature)
	}
	if req.R == "" || req.S == "" || req.V == "" {
		return domain.Signature{}, fmt.Errorf("%w: signature or v, r, s required", domain.ErrInvalidSignature)
	}
	v, err := req.V.uint64("v")
	if err != nil || v > 255 {
		return domain.Signature{}, fmt.Errorf("%w: v must be a single byte", domain.ErrInvalidSignature)
	}
	r, err := hexutil.Decode(req.R)
	if err != nil || len(r) != 32 {
		return domain.Signature{}, fmt.Errorf("%w: r must be 32 hex bytes", domain.ErrInvalidSignature)
	}
	s, err := hexutil.Decode(req.S)
	if err != nil || len(s) != 32 {
		return domain.Signature{}, fmt.Errorf("%w: s must be 32 hex bytes", domain.ErrInvalidSignature)
	}
	sig := domain.Signature{V: uint8(v)}
	copy(sig.R[:], r)
	copy(sig.S[:], s)
	return sig, nil
}

type submitResponse struct {
	Order service.BookLevel     `json:"order"`
	Match domain.MatchResponse `json:"match"`
}

// SubmitOrder stores a signed order and runs one match attempt for it. The
// order is accepted (201) whatever the match outcome; the outcome is
// reported alongside it.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, result, err := h.orders.Submit(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many orders, slow down")
		case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrEncoding):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "order already submitted")
		default:
			logFor(h.logger, r).ErrorContext(r.Context(), "handler: submit order failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to submit order")
		}
		return
	}

	resp := submitResponse{Order: service.OrderView(order)}
	if result.Kind != "" {
		resp.Match = result.Response()
	} else {
		resp.Match = domain.MatchResponse{Message: "match not attempted", OrderID: order.ID}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrder returns a stored order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		logFor(h.logger, r).ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	writeJSON(w, http.StatusOK, service.OrderView(order))
}

// GetOrderFills compares an order's stored fill with the exchange contract's
// fill counter.
// GET /api/orders/{id}/fills
func (h *OrderHandler) GetOrderFills(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id is required")
		return
	}
	fills, err := h.orders.Fills(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrConfiguration):
			writeError(w, http.StatusServiceUnavailable, "settlement is not configured")
		default:
			logFor(h.logger, r).ErrorContext(r.Context(), "handler: read order fills failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "failed to read on-chain fills")
		}
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

type hashRequest struct {
	Maker      string   `json:"maker"`
	TokenGet   string   `json:"tokenGet"`
	TokenGive  string   `json:"tokenGive"`
	AmountGet  quantity `json:"amountGet"`
	AmountGive quantity `json:"amountGive"`
	Expires    quantity `json:"expires"`
	Nonce      quantity `json:"nonce"`
}

// HashOrder returns the identity hash a wallet must sign before submitting.
// POST /api/orders/hash
func (h *OrderHandler) HashOrder(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := crypto.OrderPayload{Maker: req.Maker, SellToken: req.TokenGive, BuyToken: req.TokenGet}
	var err error
	for _, f := range []struct {
		name string
		q    quantity
		dst  **big.Int
	}{
		{"amountGive", req.AmountGive, &p.SellAmount},
		{"amountGet", req.AmountGet, &p.BuyAmount},
		{"expires", req.Expires, &p.Expires},
		{"nonce", req.Nonce, &p.Nonce},
	} {
		if *f.dst, err = f.q.big(f.name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	hash, err := h.orders.Hash(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash})
}
