package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frama_runs_total",
		Help: "Completed trader runs by outcome",
	}, []string{"outcome"})

	SignalFlips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frama_signal_flips_total",
		Help: "Pairs whose signal flipped against their ledger position",
	}, []string{"pair", "to"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frama_orders_total",
		Help: "Aggregate orders submitted to the venue",
	}, []string{"side", "status"})

	AllocationDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frama_allocation_drift_ratio",
		Help: "Relative gap between requested and filled quantity of the last allocated order",
	}, []string{"side"})

	PairHolding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frama_pair_holding",
		Help: "Current holding of each pair by asset",
	}, []string{"pair", "asset"})

	FeedLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "frama_feed_latency_seconds",
		Help: "Latency of price feed requests",
	}, []string{"exchange", "symbol"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frama_ws_connections",
		Help: "Open websocket event subscribers",
	})

	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frama_last_run_timestamp_seconds",
		Help: "Unix time of the last completed run",
	})
)

// PushMetrics sends the default registry to a Prometheus Pushgateway. Short
// lived trader runs are never scraped, so they push instead.
func PushMetrics(url, job string) error {
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push()
}
