// Package metrics provides Prometheus instrumentation for futarchyd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsApplied counts events committed by the store, by event kind.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futarchy_events_applied_total",
		Help: "Events folded into the derived state",
	}, []string{"event"})

	// EventsFailed counts events whose handler returned an error, by event
	// kind and error class.
	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futarchy_events_failed_total",
		Help: "Events left unapplied because their handler failed",
	}, []string{"event", "reason"})

	// EventsSkipped counts chain events at or before the committed cursor.
	EventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futarchy_events_skipped_total",
		Help: "Replayed chain events skipped by cursor",
	})

	// EventsPending is the number of chain events waiting for redelivery
	// after failed reads.
	EventsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futarchy_events_pending",
		Help: "Chain events held back by failed reads",
	})

	// EventsDropped counts events evicted by the drop_oldest overflow policy.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futarchy_events_dropped_total",
		Help: "Queued events dropped on overflow",
	})

	// QueueDepth is the number of events waiting behind the in-flight one.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futarchy_queue_depth",
		Help: "Events queued for the reducer",
	})

	// ReduceLatency tracks how long one event takes to fold, including all
	// chain reads.
	ReduceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futarchy_reduce_latency_seconds",
		Help:    "Time to fold one event",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"event"})

	// ChainReads counts Chain Reader calls by method and result.
	ChainReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futarchy_chain_reads_total",
		Help: "Chain reader calls",
	}, []string{"method", "result"})

	// Markets tracks the number of markets in the derived state, by open flag.
	Markets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futarchy_markets",
		Help: "Markets in the derived state",
	}, []string{"open"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "futarchy_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futarchy_http_requests_total",
		Help: "HTTP API requests",
	}, []string{"route", "status"})

	// HTTPDuration observes API request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "futarchy_http_request_duration_seconds",
		Help:    "HTTP API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// APIRejected counts mutating requests refused before reaching a handler.
	APIRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futarchy_api_rejected_total",
		Help: "Requests refused by auth or rate limiting",
	}, []string{"scope", "reason"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
