package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	logs *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking contract log lines.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			logs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "confio",
				Subsystem: "events",
				Name:      "contract_logs_total",
				Help:      "Count of committed contract log lines segmented by program and verb.",
			}, []string{"program", "verb"}),
		}
		prometheus.MustRegister(eventRegistry.logs)
	})
	return eventRegistry
}

// RecordLog increments the counter for a committed log line.
func (m *eventMetrics) RecordLog(program, verb string) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(verb))
	if normalized == "" {
		normalized = "unknown"
	}
	m.logs.WithLabelValues(normalizeLabel(program), normalized).Inc()
}
