// Package metrics exposes the prometheus collectors of the orchestration loop.
// Collectors register with the default registry on package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "toolstream"

var (
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Number of runs in progress",
	})

	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Runs by outcome",
	}, []string{"outcome"}) // completed, truncated, failed, cancelled

	turns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Model turns that requested tool calls",
	})

	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Provider calls by backend and status",
	}, []string{"provider", "status"})

	providerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_retries_total",
		Help:      "Provider calls retried after a transient failure",
	}, []string{"provider"})

	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by status",
	}, []string{"status"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_latency_seconds",
		Help:      "Tool invocation latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"status"})
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeTruncated = "truncated"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// RunStarted marks a run as active. The returned func records its outcome.
func RunStarted() func(outcome string) {
	activeRuns.Inc()
	return func(outcome string) {
		activeRuns.Dec()
		runs.WithLabelValues(outcome).Inc()
	}
}

func RecordTurn() {
	turns.Inc()
}

// RecordProviderRequest counts a provider call. err is nil for a call that streamed.
func RecordProviderRequest(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
}

func RecordProviderRetry(provider string) {
	providerRetries.WithLabelValues(provider).Inc()
}

// RecordToolInvocation counts one tool call and observes how long it took.
func RecordToolInvocation(failed bool, elapsed time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	toolInvocations.WithLabelValues(status).Inc()
	toolLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}
