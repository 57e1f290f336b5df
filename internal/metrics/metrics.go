// Package metrics exposes matcher counters and latencies for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const namespace = "afrodex"

// Metrics holds the matcher collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	matches     *prometheus.CounterVec
	settlements *prometheus.CounterVec
	settleTime  prometheus.Histogram
	orders      *prometheus.CounterVec
	reconciled  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Match-and-settle outcomes by kind and failure reason.",
		}, []string{"kind", "reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_states_total",
			Help:      "Terminal submitter states reached by settlement attempts.",
		}, []string{"state"}),
		settleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from build to terminal state for a settlement attempt.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Order submissions by admission result.",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_settlements_total",
			Help:      "Journal entries resolved by the reconciler, by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.matches,
		m.settlements,
		m.settleTime,
		m.orders,
		m.reconciled,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveMatch counts one match-and-settle result.
func (m *Metrics) ObserveMatch(r domain.MatchResult) {
	m.matches.WithLabelValues(string(r.Kind), r.Reason).Inc()
}

// ObserveSettlement counts the state an attempt ended in and how long it took.
func (m *Metrics) ObserveSettlement(state domain.SettlementState, took time.Duration) {
	if state == "" {
		return
	}
	m.settlements.WithLabelValues(string(state)).Inc()
	m.settleTime.Observe(took.Seconds())
}

// ObserveOrder counts an order submission: "accepted", "rejected" or
// "rate_limited".
func (m *Metrics) ObserveOrder(result string) {
	m.orders.WithLabelValues(result).Inc()
}

// ObserveReconcile adds one reconciliation pass.
func (m *Metrics) ObserveReconcile(committed, reverted, dropped, failed int) {
	m.reconciled.WithLabelValues("committed").Add(float64(committed))
	m.reconciled.WithLabelValues("reverted").Add(float64(reverted))
	m.reconciled.WithLabelValues("dropped").Add(float64(dropped))
	m.reconciled.WithLabelValues("failed").Add(float64(failed))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
