package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalengine_ticks_applied_total",
			Help: "Total ticks applied to the market data store.",
		},
	)

	ScanCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalengine_scan_cycles_total",
			Help: "Total scan loop iterations.",
		},
	)

	ScanErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalengine_scan_errors_total",
			Help: "Scan cycles that ended in an error.",
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalengine_stage_duration_seconds",
			Help:    "Pipeline stage execution time.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	SignalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalengine_signals_generated_total",
			Help: "Candidate signals emitted (by strategy).",
		},
		[]string{"strategy"},
	)

	SignalsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalengine_signals_delivered_total",
			Help: "Final signals delivered to the operator (by strategy).",
		},
		[]string{"strategy"},
	)

	SignalsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalengine_signals_suppressed_total",
			Help: "Candidates removed by the news/earnings gate (by reason).",
		},
		[]string{"reason"},
	)

	TradesOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalengine_trades_open",
			Help: "Trades currently under exit monitoring.",
		},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalengine_trades_closed_total",
			Help: "Closed trades (by exit reason).",
		},
		[]string{"reason"},
	)

	CircuitActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalengine_circuit_breaker_active",
			Help: "1 when the SL-hit circuit breaker is blocking new signals.",
		},
	)

	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalengine_feed_connected",
			Help: "1 when the broker WebSocket is up.",
		},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalengine_feed_reconnects_total",
			Help: "Broker WebSocket reconnections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksApplied, ScanCycles, ScanErrors, StageDuration,
		SignalsGenerated, SignalsDelivered, SignalsSuppressed,
		TradesOpen, TradesClosed, CircuitActive,
		FeedConnected, FeedReconnects,
	)
}
