package repository

import (
	"context"
	"time"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/wire"
)

// RemoteStore es el almacén transaccional central visto como capacidad.
// Toda llamada lleva su propio timeout; un timeout se trata como fallo (ErrConnectivity).
type RemoteStore interface {
	FetchCatalog(ctx context.Context, t entity.NodeType) ([]entity.CatalogNode, error)
	// FetchOpenDocuments hace la lectura ancha (clasificación de artículos × cabeceras/líneas abiertas).
	FetchOpenDocuments(ctx context.Context, branches []int64) ([]entity.DocumentRow, error)
	// RunInTx ejecuta fn en una transacción remota: Commit si fn devuelve nil, Rollback explícito si no.
	RunInTx(ctx context.Context, fn func(tx RemoteTx) error) error
}

// RemoteTx operaciones disponibles dentro de una transacción remota.
type RemoteTx interface {
	NextDocumentNumber(ctx context.Context) (int64, error)
	InsertHeader(ctx context.Context, h entity.InventoryDocument) error
	InsertLines(ctx context.Context, lines []entity.InventoryLine) (int64, error)
	// LockHeader bloquea la cabecera (SELECT FOR UPDATE). Devuelve nil, nil si no existe.
	LockHeader(ctx context.Context, number int64) (*entity.InventoryDocument, error)
	UpdateLineCounts(ctx context.Context, number int64, lines []entity.InventoryLine) (int64, error)
	SetHeaderStatus(ctx context.Context, number int64, status entity.DocumentStatus, operator string, at time.Time) (int64, error)
	// DeleteLines y CancelHeader validan en el almacén remoto que operator sea el operador de cierre.
	DeleteLines(ctx context.Context, number int64, operator string, sequences []int) (int64, error)
	CountLines(ctx context.Context, number int64) (int, error)
	CancelHeader(ctx context.Context, number int64, operator string, at time.Time) (int64, error)
	// InsertVerification escribe el item en la tabla de verificación; no toca cabecera ni líneas.
	InsertVerification(ctx context.Context, batchID, operator string, item wire.CountBatchItem) (int64, error)
}
