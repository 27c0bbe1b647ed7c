package repository

import (
	"context"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// CountLogRepository define el puerto del diario append-only de conteos.
type CountLogRepository interface {
	// Append asigna el siguiente OrderIndex para (documento, línea) y guarda la entrada.
	Append(ctx context.Context, entry entity.CountLogEntry) (entity.CountLogEntry, error)
	ListByDocument(ctx context.Context, number int64, state entity.CountState) ([]entity.CountLogEntry, error)
	ListByState(ctx context.Context, state entity.CountState) ([]entity.CountLogEntry, error)
	// MarkState cambia el ciclo de vida de las entradas indicadas (nunca su contenido).
	MarkState(ctx context.Context, ids []string, state entity.CountState) (int64, error)
	// DiscardLines descarta las entradas pendientes de las líneas indicadas (todas si sequences es nil).
	DiscardLines(ctx context.Context, number int64, sequences []int) (int64, error)
}
