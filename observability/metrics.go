package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	composerMetricsOnce sync.Once
	composerRegistry    *ComposerMetrics

	signerMetricsOnce sync.Once
	signerRegistry    *SignerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record node
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "node_api",
				Name:      "requests_total",
				Help:      "Total node API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "node_api",
				Name:      "errors_total",
				Help:      "Total node API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "confio",
				Subsystem: "node_api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for node API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "node_api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected before reaching a handler.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a node API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "unauthorized".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks the in-process ledger.
type LedgerMetrics struct {
	groups     *prometheus.CounterVec
	innerTxns  prometheus.Counter
	round      prometheus.Gauge
	pendingLen prometheus.Gauge
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			groups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "ledger",
				Name:      "groups_total",
				Help:      "Atomic groups evaluated segmented by stage and outcome.",
			}, []string{"stage", "outcome"}),
			innerTxns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "ledger",
				Name:      "inner_transactions_total",
				Help:      "Inner transactions issued by applications in committed groups.",
			}),
			round: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "confio",
				Subsystem: "ledger",
				Name:      "round",
				Help:      "Latest committed round.",
			}),
			pendingLen: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "confio",
				Subsystem: "ledger",
				Name:      "pending_groups",
				Help:      "Groups waiting in the transaction pool.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.groups,
			ledgerRegistry.innerTxns,
			ledgerRegistry.round,
			ledgerRegistry.pendingLen,
		)
	})
	return ledgerRegistry
}

// RecordGroup counts an evaluated group. Stage is one of "submit",
// "commit" or "simulate".
func (m *LedgerMetrics) RecordGroup(stage string, err error, inner int) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.groups.WithLabelValues(stage, outcome).Inc()
	if err == nil && stage == "commit" && inner > 0 {
		m.innerTxns.Add(float64(inner))
	}
}

// SetRound records the latest round and pool depth.
func (m *LedgerMetrics) SetRound(round uint64, pending int) {
	if m == nil {
		return
	}
	m.round.Set(float64(round))
	m.pendingLen.Set(float64(pending))
}

// ComposerMetrics captures transaction composer activity.
type ComposerMetrics struct {
	submissions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	confirmations *prometheus.HistogramVec
	sponsored     *prometheus.CounterVec
}

// Composer exposes the metrics registry for the transaction composer.
func Composer() *ComposerMetrics {
	composerMetricsOnce.Do(func() {
		composerRegistry = &ComposerMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "composer",
				Name:      "submissions_total",
				Help:      "Groups submitted segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "composer",
				Name:      "failures_total",
				Help:      "Ledger rejections segmented by operation and classified kind.",
			}, []string{"operation", "kind"}),
			confirmations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "confio",
				Subsystem: "composer",
				Name:      "confirmation_seconds",
				Help:      "Time from submission to confirmation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			sponsored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "composer",
				Name:      "fee_mode_total",
				Help:      "Groups composed segmented by fee mode.",
			}, []string{"mode"}),
		}
		prometheus.MustRegister(
			composerRegistry.submissions,
			composerRegistry.failures,
			composerRegistry.confirmations,
			composerRegistry.sponsored,
		)
	})
	return composerRegistry
}

// RecordSubmission records a submit-and-wait outcome.
func (m *ComposerMetrics) RecordSubmission(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op := normalizeLabel(operation)
	m.submissions.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	if outcome == "confirmed" {
		m.confirmations.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// RecordFailure counts a classified ledger rejection.
func (m *ComposerMetrics) RecordFailure(operation, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(operation), normalizeLabel(kind)).Inc()
}

// RecordFeeMode counts how a group's fees were paid.
func (m *ComposerMetrics) RecordFeeMode(mode string) {
	if m == nil {
		return
	}
	m.sponsored.WithLabelValues(normalizeLabel(mode)).Inc()
}

// SignerMetrics tracks key custody operations.
type SignerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// Signer returns the singleton key custody metrics registry.
func Signer() *SignerMetrics {
	signerMetricsOnce.Do(func() {
		signerRegistry = &SignerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "kcs",
				Name:      "operations_total",
				Help:      "Key custody operations segmented by operation, backend and outcome.",
			}, []string{"operation", "backend", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "confio",
				Subsystem: "kcs",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for key custody operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation", "backend"}),
		}
		prometheus.MustRegister(signerRegistry.operations, signerRegistry.latency)
	})
	return signerRegistry
}

// Observe records a key custody operation.
func (m *SignerMetrics) Observe(operation, backend string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := normalizeLabel(operation)
	be := normalizeLabel(backend)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, be, outcome).Inc()
	m.latency.WithLabelValues(op, be).Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
