// Package metrics exposes the agent's Prometheus collectors. Collectors are
// registered on an injected registry; nothing is registered globally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cutroom"

// Result label values.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Metrics holds the agent's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry       *prometheus.Registry
	edits          *prometheus.CounterVec
	compilations   *prometheus.CounterVec
	exports        *prometheus.CounterVec
	exportDuration prometheus.Histogram
	historyDepth   *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		edits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Timeline edit operations by operation and result.",
		}, []string{"op", "result"}),
		compilations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compilations_total",
			Help:      "Render graph compilations by result.",
		}, []string{"result"}),
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Finished exports by result.",
		}, []string{"result"}),
		exportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Wall time of ffmpeg exports.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		historyDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_depth",
			Help:      "Undo history entries retained per open project.",
		}, []string{"project_id"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Edit(op, result string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Compilation(result string) {
	if m == nil {
		return
	}
	m.compilations.WithLabelValues(result).Inc()
}

// Export records a finished export and its duration.
func (m *Metrics) Export(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(result).Inc()
	m.exportDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) HistoryDepth(projectID string, depth int) {
	if m == nil {
		return
	}
	m.historyDepth.WithLabelValues(projectID).Set(float64(depth))
}

// ForgetProject drops per-project series when a session closes.
func (m *Metrics) ForgetProject(projectID string) {
	if m == nil {
		return
	}
	m.historyDepth.DeleteLabelValues(projectID)
}
