package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed tracks total blocks processed
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satwatch_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	// TransactionsFiltered tracks total transactions run through the filter
	TransactionsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satwatch_transactions_filtered_total",
			Help: "Total number of transactions filtered",
		},
	)

	// EventsEmitted tracks total events delivered to sinks
	EventsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satwatch_events_emitted_total",
			Help: "Total number of events emitted",
		},
	)

	// ReorgsDetected tracks chain reorganizations handled
	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satwatch_reorgs_detected_total",
			Help: "Total number of reorgs detected",
		},
	)

	// FilterMatches tracks filter hits per category
	FilterMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satwatch_filter_matches_total",
			Help: "Total number of filter matches",
		},
		[]string{"category"},
	)

	// RPCCalls tracks RPC calls per method
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satwatch_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrors tracks RPC errors per method
	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satwatch_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satwatch_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ChainTipHeight tracks the latest block height of the chain
	ChainTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "satwatch_chain_tip_height",
			Help: "Latest block height of the chain",
		},
	)

	// ProcessedHeight tracks the latest block height fully processed
	ProcessedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "satwatch_processed_height",
			Help: "Latest block height fully processed",
		},
	)

	// FeeRateP50 tracks the current median mempool fee rate
	FeeRateP50 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "satwatch_fee_rate_p50_satvb",
			Help: "Median mempool fee rate in sat/vB",
		},
	)
)

// ObserveRPC records one RPC call outcome on the package collectors.
func ObserveRPC(method string, err error, d time.Duration) {
	RPCCalls.WithLabelValues(method).Inc()
	RPCLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		RPCErrors.WithLabelValues(method).Inc()
	}
}
