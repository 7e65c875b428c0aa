// Package metrics holds the Prometheus collectors for the settlement service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "settlement"

var (
	// Trades counts settlement attempts by outcome: "settled" or the error
	// kind that rejected the call.
	Trades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "trades_total",
			Help:      "Settlement attempts by result",
		},
		[]string{"result"},
	)

	SettleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "settle_duration_seconds",
			Help:      "Duration of settleTrade calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	Commitments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "commitments_total",
			Help:      "Commit and reveal calls by operation and result",
		},
		[]string{"op", "result"},
	)

	EmergencyActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "emergency_active",
			Help:      "1 while the emergency stop is engaged",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
