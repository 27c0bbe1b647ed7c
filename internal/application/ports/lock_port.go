package ports

import "context"

// DocumentLocker define el puerto de exclusión mutua por documento.
// Confirmación, anulación, alta y exportación de un mismo documento nunca se solapan.
// Lock bloquea hasta obtener el documento o hasta que ctx termine; release libera el bloqueo.
type DocumentLocker interface {
	Lock(ctx context.Context, number int64) (release func(), err error)
}
