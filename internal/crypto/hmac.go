package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// Header names carried by internally signed requests.
const (
	HeaderTimestamp = "X-Afrodex-Timestamp"
	HeaderSignature = "X-Afrodex-Signature"
)

// RequestSigner authenticates internal calls (for example the ingestion path
// triggering POST /api/match) with HMAC-SHA256 over
// timestamp + method + path + body.
type RequestSigner struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewRequestSigner returns a signer that rejects signatures older than maxAge.
func NewRequestSigner(secret string, maxAge time.Duration) *RequestSigner {
	return &RequestSigner{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

// Headers returns the authentication headers for a request.
func (r *RequestSigner) Headers(method, path string, body []byte) map[string]string {
	return r.HeadersAt(method, path, body, r.now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (r *RequestSigner) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: r.sign(ts, method, path, body),
	}
}

// Verify checks the timestamp window and the signature in constant time.
func (r *RequestSigner) Verify(method, path string, body []byte, ts, sig string) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto/hmac: %w: bad timestamp", domain.ErrUnauthorized)
	}
	age := r.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if r.maxAge > 0 && age > r.maxAge {
		return fmt.Errorf("crypto/hmac: %w: timestamp outside window", domain.ErrUnauthorized)
	}

	want, _ := hex.DecodeString(r.sign(ts, method, path, body))
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return fmt.Errorf("crypto/hmac: %w: signature mismatch", domain.ErrUnauthorized)
	}
	return nil
}

func (r *RequestSigner) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
