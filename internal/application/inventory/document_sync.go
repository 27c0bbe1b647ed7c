package inventory

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
)

// DefaultBatchSize filas por lote al volcar documentos en la caché local.
const DefaultBatchSize = 100

// DocumentSyncUseCase replica localmente los documentos abiertos del almacén remoto.
type DocumentSyncUseCase struct {
	remote    repository.RemoteStore
	docRepo   repository.DocumentRepository
	metrics   ports.Metrics
	log       *logger.Logger
	branches  []int64
	batchSize int
	flight    singleflight.Group
}

// NewDocumentSyncUseCase construye el caso de uso. branches vacío = todas las sucursales.
func NewDocumentSyncUseCase(
	remote repository.RemoteStore,
	docRepo repository.DocumentRepository,
	metrics ports.Metrics,
	log *logger.Logger,
	branches []int64,
	batchSize int,
) *DocumentSyncUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentSyncUseCase{
		remote: remote, docRepo: docRepo, metrics: metrics, log: log.Component("document_sync"),
		branches: branches, batchSize: batchSize,
	}
}

type syncResult struct {
	lines int
	err   error
}

// SyncInventories hace una lectura ancha y vuelca las filas al staging en lotes, informando (current, total)
// después de cada lote. Con todo el staging escrito reemplaza los documentos vivos en una transacción local;
// un fallo o una cancelación antes de ese punto deja la caché como estaba. Devuelve las líneas sincronizadas.
// Una segunda llamada mientras hay otra en curso recibe el resultado de la primera (sin progreso propio).
// Si la primera se abortó por la cancelación de su propio contexto, la segunda reintenta una vez con el suyo.
func (uc *DocumentSyncUseCase) SyncInventories(ctx context.Context, onProgress ProgressFunc) (int, error) {
	var r syncResult
	for attempt := 0; attempt < 2; attempt++ {
		v, _, shared := uc.flight.Do("documents", func() (any, error) {
			n, err := uc.sync(ctx, onProgress)
			return syncResult{lines: n, err: err}, nil
		})
		r = v.(syncResult)
		if !abortedByOther(ctx, shared, r.err) {
			break
		}
		uc.log.Warn().Err(r.err).Msg("sincronización compartida cancelada por otra llamada; reintento")
	}
	return r.lines, r.err
}

// abortedByOther: el vuelo compartido terminó por cancelación o plazo ajenos al contexto de esta llamada.
func abortedByOther(ctx context.Context, shared bool, err error) bool {
	if !shared || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (uc *DocumentSyncUseCase) sync(ctx context.Context, onProgress ProgressFunc) (synced int, err error) {
	start := time.Now()
	defer func() { uc.metrics.ObserveSync("documents", synced, time.Since(start), err) }()

	rows, err := uc.remote.FetchOpenDocuments(ctx, uc.branches)
	if err != nil {
		uc.log.Error().Err(err).Msg("fallo en la lectura de documentos abiertos")
		return 0, err
	}
	if err := uc.docRepo.ResetStaging(ctx); err != nil {
		return 0, err
	}

	total := len(rows)
	for from := 0; from < total; from += uc.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(from+uc.batchSize, total)
		if err := uc.docRepo.StageRows(ctx, rows[from:end]); err != nil {
			uc.log.Error().Err(err).Int("current", from).Int("total", total).Msg("fallo al volcar lote")
			return 0, err
		}
		if onProgress != nil {
			onProgress(end, total)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	docs, err := uc.docRepo.PromoteStaging(ctx)
	if err != nil {
		return 0, err
	}
	uc.log.Info().Int("documents", docs).Int("lines", total).Msg("documentos sincronizados")
	return total, nil
}
