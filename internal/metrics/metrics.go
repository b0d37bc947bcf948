package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// Metrics holds the collectors exported by the checkout server
type Metrics struct {
	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
	CheckoutSubmits    *prometheus.CounterVec
	PromotionLookups   *prometheus.CounterVec
	PaymentTransitions *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg gets a
// private registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		CheckoutSubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Checkout submissions by outcome.",
		}, []string{"outcome"}),
		PromotionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_lookups_total",
			Help:      "Promotion code lookups by outcome.",
		}, []string{"outcome"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment state transitions by method and target state.",
		}, []string{"method", "state"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Checkout sessions currently held in memory.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.CheckoutSubmits, m.PromotionLookups, m.PaymentTransitions, m.ActiveSessions)
	return m
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed) / float64(time.Millisecond))
}

// CheckoutSubmitted records the outcome of a checkout submission
func (m *Metrics) CheckoutSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.CheckoutSubmits.WithLabelValues(outcome).Inc()
}

// PromotionLookedUp records the outcome of a promotion lookup
func (m *Metrics) PromotionLookedUp(outcome string) {
	if m == nil {
		return
	}
	m.PromotionLookups.WithLabelValues(outcome).Inc()
}

// PaymentTransitioned records a payment state change
func (m *Metrics) PaymentTransitioned(method, state string) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(method, state).Inc()
}

// SessionsChanged sets the number of live sessions
func (m *Metrics) SessionsChanged(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
