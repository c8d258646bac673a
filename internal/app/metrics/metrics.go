// Package metrics exposes Prometheus collectors for the asset layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "asset_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asset_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method"},
	)

	// ItemsMinted counts items created across all collections.
	ItemsMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "ledger",
			Name:      "items_minted_total",
			Help:      "Total number of items minted.",
		},
	)

	// ItemsBurned counts items marked non-existent.
	ItemsBurned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "ledger",
			Name:      "items_burned_total",
			Help:      "Total number of items burned.",
		},
	)

	// ItemsTransferred counts completed ownership changes.
	ItemsTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "ledger",
			Name:      "items_transferred_total",
			Help:      "Total number of completed transfers.",
		},
	)

	// Purchases counts completed purchases.
	Purchases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "market",
			Name:      "purchases_total",
			Help:      "Total number of completed purchases.",
		},
	)

	// SaleVolume accumulates the settlement bases of completed purchases.
	SaleVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "market",
			Name:      "sale_volume_total",
			Help:      "Cumulative sale volume settled through the engine.",
		},
	)

	// RoyaltyPaid accumulates royalty amounts disbursed on enforced sales.
	RoyaltyPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "asset_layer",
			Subsystem: "market",
			Name:      "royalty_paid_total",
			Help:      "Cumulative royalty amount disbursed.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ItemsMinted,
		ItemsBurned,
		ItemsTransferred,
		Purchases,
		SaleVolume,
		RoyaltyPaid,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments an HTTP handler with request counters and latency
// histograms.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
