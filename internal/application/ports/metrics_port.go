package ports

import (
	"time"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// Metrics define el puerto de métricas del motor. El adaptador Prometheus lo implementa;
// NopMetrics sirve para tests y herramientas.
type Metrics interface {
	ObserveSync(kind string, rows int, elapsed time.Duration, err error)
	DocumentTransition(to entity.DocumentStatus)
	CountSubmitted()
}

// NopMetrics implementación vacía de Metrics.
type NopMetrics struct{}

func (NopMetrics) ObserveSync(string, int, time.Duration, error) {}
func (NopMetrics) DocumentTransition(entity.DocumentStatus) {}
func (NopMetrics) CountSubmitted() {}
