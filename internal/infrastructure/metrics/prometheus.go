// Package metrics implementa ports.Metrics sobre Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

const namespace = "tomas"

var _ ports.Metrics = (*Prometheus)(nil)

// Prometheus colectores del motor registrados en un registry propio.
type Prometheus struct {
	registry    *prometheus.Registry
	syncRuns    *prometheus.CounterVec
	syncRows    *prometheus.CounterVec
	syncSeconds *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	counts      prometheus.Counter
}

// New crea y registra los colectores (más los de proceso y runtime de Go).
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_runs_total",
			Help: "Ejecuciones de sincronización/exportación por tipo y resultado.",
		}, []string{"kind", "result"}),
		syncRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_rows_total",
			Help: "Filas procesadas por tipo de sincronización o exportación.",
		}, []string{"kind"}),
		syncSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_duration_seconds",
			Help:    "Duración de sincronizaciones y exportaciones.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "document_transitions_total",
			Help: "Transiciones de estado de documentos por estado destino.",
		}, []string{"to"}),
		counts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "count_submissions_total",
			Help: "Conteos registrados en el diario.",
		}),
	}
	reg.MustRegister(m.syncRuns, m.syncRows, m.syncSeconds, m.transitions, m.counts,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveSync registra una ejecución; el resultado es la etiqueta de taxonomía del error u "ok".
func (m *Prometheus) ObserveSync(kind string, rows int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = domain.KindOf(err)
		if result == "" {
			result = "error"
		}
	}
	m.syncRuns.WithLabelValues(kind, result).Inc()
	m.syncRows.WithLabelValues(kind).Add(float64(rows))
	m.syncSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Prometheus) DocumentTransition(to entity.DocumentStatus) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Prometheus) CountSubmitted() {
	m.counts.Inc()
}

// Registry expone el registry (tests y handlers).
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler handler HTTP de exposición.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
