package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// DocumentFilter filtro para listar documentos locales. Campos vacíos no filtran; Limit 0 = sin límite.
type DocumentFilter struct {
	Status          entity.DocumentStatus
	Branch          int64
	ClosingOperator string
	Limit           int
	Offset          int
}

// DocumentRepository define el puerto de persistencia local de documentos (cabecera + detalle).
type DocumentRepository interface {
	// Staging de la sincronización de documentos: se llena por lotes y se promueve de una vez.
	ResetStaging(ctx context.Context) error
	StageRows(ctx context.Context, rows []entity.DocumentRow) error
	PromoteStaging(ctx context.Context) (int, error)

	Save(ctx context.Context, doc entity.Document) error
	Get(ctx context.Context, number int64) (*entity.Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]entity.Document, error)
	// Count ignora Limit y Offset.
	Count(ctx context.Context, filter DocumentFilter) (int, error)
	UpdateStatus(ctx context.Context, number int64, status entity.DocumentStatus, operator string, at time.Time) error
	SetCounted(ctx context.Context, number int64, counts map[int]decimal.Decimal) (int64, error)
	DeleteLines(ctx context.Context, number int64, sequences []int) (int64, error)
}
