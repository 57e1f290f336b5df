package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
	"github.com/AceBoss1/afrodex-exchange/internal/server/middleware"
)

const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"message":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends the failure shape shared with match responses.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, domain.MatchResponse{Success: false, Message: msg})
}

// decodeJSON reads a bounded body and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// quantity accepts a JSON number or a decimal / 0x-hex string, so amounts
// above 2^53 survive JavaScript clients.
type quantity string

func (q *quantity) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = quantity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected number or string: %w", err)
	}
	*q = quantity(n.String())
	return nil
}

func (q quantity) big(field string) (*big.Int, error) {
	if q == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, ok := math.ParseBig256(string(q))
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not a uint256", field, string(q))
	}
	return v, nil
}

func (q quantity) uint64(field string) (uint64, error) {
	if q == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, ok := math.ParseUint64(string(q))
	if !ok {
		return 0, fmt.Errorf("%s %q is not a uint64", field, string(q))
	}
	return v, nil
}

func address(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

// logFor tags the handler's logger with the request id.
func logFor(logger *slog.Logger, r *http.Request) *slog.Logger {
	return logger.With(slog.String("request_id", middleware.RequestID(r.Context())))
}
