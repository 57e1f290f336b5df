package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

func TestObserveMatch(t *testing.T) {
	m := New()
	m.ObserveMatch(domain.MatchResult{Kind: domain.MatchKindExecuted})
	m.ObserveMatch(domain.MatchResult{Kind: domain.MatchKindExecuted})
	m.ObserveMatch(domain.MatchResult{Kind: domain.MatchKindSettlementFailed, Reason: domain.ReasonTimeout})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.matches.WithLabelValues("executed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matches.WithLabelValues("settlement_failed", "timeout")))
}

func TestObserveSettlement(t *testing.T) {
	m := New()
	m.ObserveSettlement(domain.SettlementConfirmedSuccess, 3*time.Second)
	m.ObserveSettlement("", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("CONFIRMED_SUCCESS")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.settlements))
}

func TestObserveReconcile(t *testing.T) {
	m := New()
	m.ObserveReconcile(2, 1, 0, 3)
	m.ObserveReconcile(1, 0, 0, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconciled.WithLabelValues("committed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconciled.WithLabelValues("failed")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveOrder("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `afrodex_orders_submitted_total{result="accepted"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
