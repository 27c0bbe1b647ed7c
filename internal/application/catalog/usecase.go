// Package catalog orquesta la réplica local del catálogo jerárquico.
package catalog

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	domcatalog "github.com/jhoicas/toma-inventario/internal/domain/catalog"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
)

// TypeStats filas reemplazadas de un tipo de nodo.
type TypeStats struct {
	Type entity.NodeType `json:"type"`
	Rows int             `json:"rows"`
}

// SyncStats resultado de un refresco de catálogo (parcial si hubo error).
type SyncStats struct {
	Types     []TypeStats         `json:"types"`
	Completed int                 `json:"completed"`
	Rows      int                 `json:"rows"`
	Orphans   []domcatalog.Orphan `json:"-"`
	Elapsed   time.Duration       `json:"elapsed"`
}

// SyncUseCase refresca el catálogo local con reemplazo total por tipo.
type SyncUseCase struct {
	remote  repository.RemoteStore
	repo    repository.CatalogRepository
	metrics ports.Metrics
	log     *logger.Logger
	now     func() time.Time
	flight  singleflight.Group
}

// NewSyncUseCase construye el caso de uso. now permite fijar el instante de sincronización (nil = time.Now).
func NewSyncUseCase(
	remote repository.RemoteStore,
	repo repository.CatalogRepository,
	metrics ports.Metrics,
	log *logger.Logger,
	now func() time.Time,
) *SyncUseCase {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &SyncUseCase{remote: remote, repo: repo, metrics: metrics, log: log.Component("catalog_sync"), now: now}
}

type flightResult struct {
	stats SyncStats
	err   error
}

// RefreshCatalog reemplaza cada tipo en orden de dependencia. Un fallo aborta los tipos restantes y
// devuelve las estadísticas parciales con un *domain.PartialSyncError; los tipos ya reemplazados quedan.
// Llamadas concurrentes se agrupan: todas reciben el resultado de la que está en curso, salvo que esa
// se haya abortado por la cancelación de su propio contexto; entonces las demás reintentan una vez.
func (uc *SyncUseCase) RefreshCatalog(ctx context.Context) (SyncStats, error) {
	var r flightResult
	for attempt := 0; attempt < 2; attempt++ {
		v, _, shared := uc.flight.Do("catalog", func() (any, error) {
			stats, err := uc.refresh(ctx)
			return flightResult{stats: stats, err: err}, nil
		})
		r = v.(flightResult)
		if !shared {
			break
		}
		uc.log.Debug().Msg("refresco de catálogo compartido con una llamada en curso")
		if ctx.Err() != nil || !(errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded)) {
			break
		}
	}
	return r.stats, r.err
}

func (uc *SyncUseCase) refresh(ctx context.Context) (stats SyncStats, err error) {
	start := time.Now()
	defer func() {
		stats.Elapsed = time.Since(start)
		uc.metrics.ObserveSync("catalog", stats.Rows, stats.Elapsed, err)
	}()

	for _, t := range entity.CatalogSyncOrder {
		if err := ctx.Err(); err != nil {
			return stats, &domain.PartialSyncError{Completed: stats.Completed, Failed: string(t), Err: err}
		}
		nodes, err := uc.remote.FetchCatalog(ctx, t)
		if err != nil {
			uc.log.Error().Err(err).Str("type", string(t)).Int("completed", stats.Completed).Msg("fallo al leer catálogo remoto")
			return stats, &domain.PartialSyncError{Completed: stats.Completed, Failed: string(t), Err: err}
		}
		syncedAt := uc.now().UTC()
		for i := range nodes {
			nodes[i].Type = t
			nodes[i].SyncedAt = syncedAt
		}
		if err := uc.repo.ReplaceAll(ctx, t, nodes); err != nil {
			uc.log.Error().Err(err).Str("type", string(t)).Msg("fallo al reemplazar catálogo local")
			return stats, &domain.PartialSyncError{Completed: stats.Completed, Failed: string(t), Err: err}
		}
		stats.Types = append(stats.Types, TypeStats{Type: t, Rows: len(nodes)})
		stats.Completed++
		stats.Rows += len(nodes)
		uc.log.Debug().Str("type", string(t)).Int("rows", len(nodes)).Msg("tipo de catálogo reemplazado")
	}

	all, err := uc.repo.ListAll(ctx)
	if err != nil {
		return stats, err
	}
	stats.Orphans = domcatalog.ValidateHierarchy(all)
	for _, o := range stats.Orphans {
		uc.log.Warn().
			Str("type", string(o.Node.Type)).
			Int64("code", o.Node.Code).
			Str("missing_parent", string(o.MissingParent)).
			Str("parent_chain", o.ParentChainKey).
			Msg("nodo de catálogo sin cadena de ancestros")
	}
	uc.log.Info().Int("types", stats.Completed).Int("rows", stats.Rows).Int("orphans", len(stats.Orphans)).Msg("catálogo sincronizado")
	return stats, nil
}

// Subgroups resuelve los subgrupos de una selección sobre el catálogo local.
func (uc *SyncUseCase) Subgroups(ctx context.Context, sel domcatalog.GroupSelection) ([]entity.CatalogNode, error) {
	nodes, err := uc.repo.ListByType(ctx, entity.NodeSubgroup)
	if err != nil {
		return nil, err
	}
	return domcatalog.ResolveSubgroups(nodes, sel), nil
}

// Children devuelve los hijos directos de un nodo del catálogo local.
func (uc *SyncUseCase) Children(ctx context.Context, t entity.NodeType, code int64) ([]entity.CatalogNode, error) {
	parent, err := uc.repo.Get(ctx, t, code)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, domain.NewError(domain.ErrNotFound, "hijos de catálogo", "nodo inexistente")
	}
	all, err := uc.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return domcatalog.Children(all, *parent), nil
}
