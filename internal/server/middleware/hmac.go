package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
)

const maxSignedBody = 1 << 20

// Signed verifies the HMAC headers produced by crypto.RequestSigner. A nil
// signer rejects every request, so internal routes stay closed until a
// secret is configured.
func Signed(signer *crypto.RequestSigner, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if signer == nil {
				writeError(w, http.StatusForbidden, "internal endpoint disabled")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil || len(body) > maxSignedBody {
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = signer.Verify(r.Method, r.URL.Path, body,
				r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
			if err != nil {
				logger.WarnContext(r.Context(), "rejected internal request",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", ClientIP(r)),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
