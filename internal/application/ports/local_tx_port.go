package ports

import (
	"context"

	"github.com/jhoicas/toma-inventario/internal/domain/repository"
)

// LocalTxRunner ejecuta una función dentro de una transacción de la caché local, pasando
// repositorios atados a esa tx. Commit si fn devuelve nil, Rollback si no.
type LocalTxRunner interface {
	Run(ctx context.Context, fn func(
		docRepo repository.DocumentRepository,
		countRepo repository.CountLogRepository,
	) error) error
}
