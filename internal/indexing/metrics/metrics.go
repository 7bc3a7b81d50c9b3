// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chainevents"

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

// Pipeline
var (
	BlocksProcessed = counter("blocks_processed_total", "Raw blocks handed to the processor.", "chain")
	EventsProduced  = counter("events_produced_total", "Chain events produced.", "chain", "kind")
	EnrichFailures  = counter("enrich_failures_total", "Raw items dropped because enrichment failed.", "chain")
	HandlerFailures = counter("handler_failures_total", "Handler errors.", "chain", "handler")
	BackfillWindows = counter("backfill_windows_total", "Offline-range windows fetched.", "chain")
	BackfillEvents  = counter("backfill_events_total", "Events replayed by offline-range recovery.", "chain")
)

// Listener
var (
	ConnectAttempts  = counter("connect_attempts_total", "Adapter connection attempts by result.", "chain", "result")
	ListenerState    = gauge("listener_state", "1 for the active lifecycle state of each chain.", "chain", "state")
	Watermark        = gauge("watermark_block", "Highest block processed by the listener.", "chain")
	ChainLatestBlock = gauge("chain_latest_block", "Latest block height reported by the node.", "chain")
)

// RPC
var (
	RPCCallsTotal  = counter("rpc_calls_total", "RPC calls.", "chain", "provider", "method")
	RPCErrorsTotal = counter("rpc_errors_total", "RPC errors by class.", "chain", "provider", "error_type")
	RPCLatency     = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rpc_latency_seconds",
		Help:      "RPC call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain", "provider", "method"})
)

// Storage
var (
	BalanceCacheLookups = counter("balance_cache_lookups_total", "Balance cache lookups by result.", "chain", "provider", "result")

	DBConnectionPoolUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connection_pool_usage_percent",
		Help:      "Share of the database pool's open connections, in percent.",
	})
)
