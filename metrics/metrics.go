package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	replayRuns       *prometheus.CounterVec // completed replay runs
	replayDuration   prometheus.Histogram   // time to replay a report
	recordOutcomes   *prometheus.CounterVec // per-record outcomes
	retries          *prometheus.CounterVec // retried registry calls
	registryRequests *prometheus.CounterVec // remote registry requests
	journalRequests  *prometheus.CounterVec // journal store requests
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "registry_replay"

	m := &Metrics{
		registry: registry,

		replayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of replay runs",
		}, []string{"status"}),

		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of replay runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_outcomes_total",
			Help:      "Per-record replay outcomes",
		}, []string{"operation", "status"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Registry calls retried after a transient error",
		}, []string{"operation"}),

		registryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_requests_total",
			Help:      "Total remote registry requests",
		}, []string{"operation", "status"}),

		journalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_requests_total",
			Help:      "Total journal store requests",
		}, []string{"operation", "status"}),
	}

	registry.MustRegister(
		m.replayRuns,
		m.replayDuration,
		m.recordOutcomes,
		m.retries,
		m.registryRequests,
		m.journalRequests,
	)
	return m
}

func (m *Metrics) IncReplayRun(success bool) {
	m.replayRuns.WithLabelValues(boolToResult(success)).Inc()
}

func (m *Metrics) SetReplayDuration(duration time.Duration) {
	m.replayDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncRecordOutcome(operation, status string) {
	if !isValidOperation(operation) {
		return
	}
	m.recordOutcomes.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncRetry(operation string) {
	if !isValidOperation(operation) {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncRegistryRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.registryRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func (m *Metrics) IncJournalRequest(operation string, success bool) {
	m.journalRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "insert", "update", "delete":
		return true
	}
	return false
}
