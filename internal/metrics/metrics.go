// Package metrics exposes the proxy's ambient Prometheus instrumentation
// on /metrics: request counts, pipeline latency, block rate, and sandbox
// timeouts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts every intercepted request by its terminal
	// disposition: ok, auth_rejected, agent_blocked, quota_exceeded,
	// upstream_error, fail_open or ok_unanalyzed. A request the pipeline
	// blocks is counted as ok here and also in BlockedTotal.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redteamproxy_requests_total",
		Help: "Total intercepted requests by outcome.",
	}, []string{"outcome"})

	// PipelineLatency observes end-to-end ANALYZE stage duration in
	// seconds, i.e. the time spent running the three-engine pipeline and
	// combiner, not the upstream call itself.
	PipelineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "redteamproxy_pipeline_latency_seconds",
		Help:    "Time spent in the anomaly/scanner/policy/combiner pipeline.",
		Buckets: prometheus.DefBuckets,
	})

	// BlockedTotal counts events the Combiner marked blocked.
	BlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redteamproxy_blocked_total",
		Help: "Total requests blocked by the security pipeline.",
	})

	// SandboxTimeoutsTotal counts Policy Engine condition evaluations that
	// were interrupted for exceeding their CPU-time budget.
	SandboxTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redteamproxy_sandbox_timeouts_total",
		Help: "Total policy condition evaluations interrupted for exceeding the CPU budget.",
	})

	// UpstreamLatency observes Forwarder round-trip latency in seconds,
	// labeled by provider.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redteamproxy_upstream_latency_seconds",
		Help:    "Upstream provider call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)
