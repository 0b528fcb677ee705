package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xmr_tracker"

// Metrics holds the tracker's prometheus collectors.
type Metrics struct {
	RPCCalls       *prometheus.CounterVec
	RPCDuration    *prometheus.HistogramVec
	Allocations    *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	Anomalies      *prometheus.CounterVec
	PollRuns       *prometheus.CounterVec
	PollResults    *prometheus.CounterVec
	PendingIDs     prometheus.Gauge
	TrackedIDs     prometheus.Gauge
	ChainHeight    prometheus.Gauge
	EventsFailures prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to expose them on
// the default /metrics handler or a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_rpc_calls_total",
			Help:      "Wallet RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wallet_rpc_duration_seconds",
			Help:      "Wallet RPC call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Payment allocations by outcome.",
		}, []string{"outcome"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Payment status transitions.",
		}, []string{"from", "to"}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorg_anomalies_total",
			Help:      "Observations ignored because they would move a payment backwards.",
		}, []string{"reason"}),
		PollRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_runs_total",
			Help:      "Poll invocations by mode and outcome.",
		}, []string{"mode", "outcome"}),
		PollResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_poll_results_total",
			Help:      "Per-payment results of bulk polls.",
		}, []string{"result"}),
		PendingIDs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_ids",
			Help:      "Payment ids waiting for the next bulk poll.",
		}),
		TrackedIDs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_payments",
			Help:      "Payments held in the registry.",
		}),
		ChainHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Last block height reported by the wallet daemon.",
		}),
		EventsFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Status events that could not be published.",
		}),
	}
}

// Outcome maps an error classification to a metric label.
func Outcome(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}
