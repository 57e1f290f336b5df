package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// Matcher runs a match attempt for a stored order.
type Matcher interface {
	MatchByID(ctx context.Context, orderID string) (domain.MatchResult, error)
}

// MatchHandler serves the internal match trigger.
type MatchHandler struct {
	matches Matcher
	logger  *slog.Logger
}

func NewMatchHandler(matches Matcher, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{matches: matches, logger: logger}
}

type matchRequest struct {
	OrderID string `json:"orderId"`
}

// Match re-runs match-and-settle for an order already in the store.
// POST /api/match
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	log := logFor(h.logger, r).With(slog.String("order_id", req.OrderID))
	result, err := h.matches.MatchByID(r.Context(), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrEncoding):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrDuplicate):
			writeError(w, http.StatusConflict, "match already in progress for this order")
		case errors.Is(err, domain.ErrConfiguration):
			writeError(w, http.StatusServiceUnavailable, "settlement is not configured")
		default:
			log.ErrorContext(r.Context(), "handler: match failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "match failed")
		}
		return
	}

	writeJSON(w, matchStatus(result), result.Response())
}

// matchStatus maps an attempt outcome to an HTTP status. A timed out
// settlement may still land, so it is reported as accepted rather than
// failed.
func matchStatus(r domain.MatchResult) int {
	switch r.Kind {
	case domain.MatchKindExecuted, domain.MatchKindNoMatch:
		return http.StatusOK
	case domain.MatchKindSettlementFailed:
		switch r.Reason {
		case domain.ReasonTimeout:
			return http.StatusAccepted
		case domain.ReasonConfiguration:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}
