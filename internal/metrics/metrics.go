package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics records billing outcomes. A nil *POSMetrics is valid and records
// nothing, so callers never need to guard.
type POSMetrics struct {
	checkouts       *prometheus.CounterVec
	checkoutLatency prometheus.Histogram
	revenue         prometheus.Counter
	cartRejections  *prometheus.CounterVec
	exportFailures  *prometheus.CounterVec
	openSessions    prometheus.Gauge
}

// NewPOSMetrics registers the billing metrics on the provided registerer.
func NewPOSMetrics(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	checkoutLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_checkout_duration_seconds",
		Help:    "Time spent committing a checkout.",
		Buckets: prometheus.DefBuckets,
	})
	revenue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_revenue_total",
		Help: "Sum of committed bill totals.",
	})
	cartRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_cart_rejections_total",
		Help: "Add-to-cart requests rejected, by reason.",
	}, []string{"reason"})
	exportFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_export_failures_total",
		Help: "Receipt and report exports that failed, by target.",
	}, []string{"target"})
	openSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pos_open_sessions",
		Help: "Billing sessions currently open.",
	})
	reg.MustRegister(checkouts, checkoutLatency, revenue, cartRejections, exportFailures, openSessions)
	return &POSMetrics{
		checkouts:       checkouts,
		checkoutLatency: checkoutLatency,
		revenue:         revenue,
		cartRejections:  cartRejections,
		exportFailures:  exportFailures,
		openSessions:    openSessions,
	}
}

func (m *POSMetrics) ObserveCheckout(outcome string, duration time.Duration) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.checkoutLatency.Observe(duration.Seconds())
}

func (m *POSMetrics) AddRevenue(amount float64) {
	if m == nil || m.revenue == nil || amount <= 0 {
		return
	}
	m.revenue.Add(amount)
}

func (m *POSMetrics) IncCartRejection(reason string) {
	if m == nil || m.cartRejections == nil {
		return
	}
	m.cartRejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *POSMetrics) IncExportFailure(target string) {
	if m == nil || m.exportFailures == nil {
		return
	}
	m.exportFailures.WithLabelValues(normalizeLabel(target)).Inc()
}

func (m *POSMetrics) SetOpenSessions(n int) {
	if m == nil || m.openSessions == nil {
		return
	}
	m.openSessions.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
