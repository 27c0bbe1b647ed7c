// Package export envía las tomas contadas al almacén remoto como lote de conteo.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/internal/wire"
	"github.com/jhoicas/toma-inventario/pkg/logger"
)

// Resultado por documento de un lote.
const (
	OutcomeExported      = "exported"       // conteos escritos y cabecera cerrada
	OutcomeAlreadyClosed = "already_closed" // reenvío de una toma ya cerrada
	OutcomeRejected      = "rejected"       // anulada (o inexistente) en el remoto
	OutcomeVerified      = "verified"       // escrita en la tabla de verificación
)

// ItemOutcome resultado de un documento del lote.
type ItemOutcome struct {
	Number  int64  `json:"number"`
	Outcome string `json:"outcome"`
	Lines   int    `json:"lines"`
}

// ExportSummary resultado de un envío.
type ExportSummary struct {
	BatchID string        `json:"batch_id"`
	Mode    string        `json:"mode"`
	Branch  int64         `json:"branch"`
	Items   []ItemOutcome `json:"items"`
}

// Count cantidad de items con el resultado indicado.
func (s ExportSummary) Count(outcome string) int {
	n := 0
	for _, it := range s.Items {
		if it.Outcome == outcome {
			n++
		}
	}
	return n
}

// Pipeline convierte tomas pendientes al formato de lote y las confirma en el almacén remoto.
type Pipeline struct {
	remote  repository.RemoteStore
	local   ports.LocalTxRunner
	docRepo repository.DocumentRepository
	locker  ports.DocumentLocker
	metrics ports.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewPipeline construye el pipeline de exportación.
func NewPipeline(
	remote repository.RemoteStore,
	local ports.LocalTxRunner,
	docRepo repository.DocumentRepository,
	locker ports.DocumentLocker,
	metrics ports.Metrics,
	log *logger.Logger,
) *Pipeline {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		remote: remote, local: local, docRepo: docRepo, locker: locker,
		metrics: metrics, log: log.Component("export"), now: time.Now,
	}
}

// ExportClosedCounts envía las tomas pendientes de la sucursal cuyo operador de cierre es el de la sesión,
// en una sola transacción remota. Las exportadas (o ya cerradas) pasan a closed localmente y las anuladas
// en el remoto a cancelled; si la transacción falla nada local cambia.
func (p *Pipeline) ExportClosedCounts(ctx context.Context, session entity.Session, branch int64) (*ExportSummary, error) {
	return p.observe("export", func() (*ExportSummary, error) { return p.exportClosed(ctx, session, branch) })
}

func (p *Pipeline) exportClosed(ctx context.Context, session entity.Session, branch int64) (*ExportSummary, error) {
	const op = "exportar conteos"
	branch, err := scope(op, session, branch)
	if err != nil {
		return nil, err
	}

	candidates, err := p.docRepo.List(ctx, repository.DocumentFilter{
		Status: entity.StatusPending, Branch: branch, ClosingOperator: session.Operator,
	})
	if err != nil {
		return nil, err
	}
	// Orden ascendente de número para que dos exportaciones nunca se bloqueen en cruz.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Header.Number < candidates[j].Header.Number })

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	docs := make([]entity.Document, 0, len(candidates))
	for _, cand := range candidates {
		release, err := p.locker.Lock(ctx, cand.Header.Number)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
		// Puede haber cambiado entre la lista y el bloqueo.
		doc, err := p.docRepo.Get(ctx, cand.Header.Number)
		if err != nil {
			return nil, err
		}
		if doc == nil || doc.Header.Status != entity.StatusPending || doc.Header.ClosingOperator != session.Operator {
			continue
		}
		docs = append(docs, *doc)
	}

	now := p.now().UTC()
	batch := wire.NewBatch(uuid.NewString(), wire.ModeClose, branch, session.Operator, now, docs)
	summary := &ExportSummary{BatchID: batch.BatchID, Mode: batch.Mode, Branch: branch, Items: []ItemOutcome{}}
	if len(batch.Items) == 0 {
		return summary, nil
	}
	if _, err := wire.Marshal(batch); err != nil {
		return nil, domain.Wrap(domain.ErrInvalidInput, op, err)
	}

	var items []ItemOutcome
	err = p.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		items = items[:0]
		for _, item := range batch.Items {
			outcome, err := p.commitItem(ctx, op, tx, session.Operator, item, now)
			if err != nil {
				return err
			}
			items = append(items, ItemOutcome{Number: item.Header.Number, Outcome: outcome, Lines: len(item.Lines)})
		}
		return nil
	})
	if err != nil {
		p.log.Warn().Err(err).Str("batch", batch.BatchID).Int("documents", len(batch.Items)).Msg("lote rechazado")
		return nil, err
	}
	summary.Items = items

	err = p.local.Run(ctx, func(docRepo repository.DocumentRepository, countRepo repository.CountLogRepository) error {
		for _, it := range items {
			status := entity.StatusClosed
			if it.Outcome == OutcomeRejected {
				status = entity.StatusCancelled
			}
			if err := docRepo.UpdateStatus(ctx, it.Number, status, session.Operator, now); err != nil {
				return err
			}
			if status == entity.StatusCancelled {
				if _, err := countRepo.DiscardLines(ctx, it.Number, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		p.log.Error().Err(err).Str("batch", batch.BatchID).Msg("lote confirmado en remoto pero no reflejado localmente")
		return summary, fmt.Errorf("aplicar lote %s localmente: %w", batch.BatchID, err)
	}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeExported:
			p.metrics.DocumentTransition(entity.StatusClosed)
		case OutcomeRejected:
			p.metrics.DocumentTransition(entity.StatusCancelled)
		}
	}
	p.log.Info().Str("batch", batch.BatchID).Int64("branch", branch).
		Int("exported", summary.Count(OutcomeExported)).
		Int("already_closed", summary.Count(OutcomeAlreadyClosed)).
		Int("rejected", summary.Count(OutcomeRejected)).
		Msg("lote exportado")
	return summary, nil
}

func (p *Pipeline) commitItem(ctx context.Context, op string, tx repository.RemoteTx, operator string, item wire.CountBatchItem, now time.Time) (string, error) {
	number := item.Header.Number
	h, err := tx.LockHeader(ctx, number)
	if err != nil {
		return "", err
	}
	switch {
	case h == nil, h.Status == entity.StatusCancelled:
		return OutcomeRejected, nil
	case h.Status == entity.StatusClosed:
		return OutcomeAlreadyClosed, nil
	}
	lines := item.CountedLines()
	n, err := tx.UpdateLineCounts(ctx, number, lines)
	if err != nil {
		return "", err
	}
	if n != int64(len(lines)) {
		return "", domain.NewError(domain.ErrIntegrity, op,
			fmt.Sprintf("toma %d: se actualizaron %d líneas de %d", number, n, len(lines)))
	}
	if _, err := tx.SetHeaderStatus(ctx, number, entity.StatusClosed, operator, now); err != nil {
		return "", err
	}
	return OutcomeExported, nil
}

// ExportForVerification envía las tomas pendientes de la sucursal, de cualquier operador, a la tabla remota
// de verificación. No cierra nada ni cambia el estado local.
func (p *Pipeline) ExportForVerification(ctx context.Context, session entity.Session, branch int64) (*ExportSummary, error) {
	return p.observe("verification", func() (*ExportSummary, error) { return p.exportVerification(ctx, session, branch) })
}

func (p *Pipeline) exportVerification(ctx context.Context, session entity.Session, branch int64) (*ExportSummary, error) {
	const op = "exportar para verificación"
	branch, err := scope(op, session, branch)
	if err != nil {
		return nil, err
	}
	docs, err := p.docRepo.List(ctx, repository.DocumentFilter{Status: entity.StatusPending, Branch: branch})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Header.Number < docs[j].Header.Number })

	batch := wire.NewBatch(uuid.NewString(), wire.ModeVerification, branch, session.Operator, p.now().UTC(), docs)
	summary := &ExportSummary{BatchID: batch.BatchID, Mode: batch.Mode, Branch: branch, Items: []ItemOutcome{}}
	if len(batch.Items) == 0 {
		return summary, nil
	}
	if _, err := wire.Marshal(batch); err != nil {
		return nil, domain.Wrap(domain.ErrInvalidInput, op, err)
	}

	var items []ItemOutcome
	err = p.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		items = items[:0]
		for _, item := range batch.Items {
			if _, err := tx.InsertVerification(ctx, batch.BatchID, session.Operator, item); err != nil {
				return err
			}
			items = append(items, ItemOutcome{Number: item.Header.Number, Outcome: OutcomeVerified, Lines: len(item.Lines)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	summary.Items = items
	p.log.Info().Str("batch", batch.BatchID).Int("documents", len(items)).Msg("lote de verificación enviado")
	return summary, nil
}

// observe registra el envío en las métricas de sincronización; las filas son las líneas enviadas.
func (p *Pipeline) observe(kind string, fn func() (*ExportSummary, error)) (*ExportSummary, error) {
	start := time.Now()
	sum, err := fn()
	lines := 0
	if sum != nil {
		for _, it := range sum.Items {
			lines += it.Lines
		}
	}
	p.metrics.ObserveSync(kind, lines, time.Since(start), err)
	return sum, err
}

// scope resuelve la sucursal del envío: la pedida o, si es cero, la de la sesión.
func scope(op string, session entity.Session, branch int64) (int64, error) {
	if !session.Valid() {
		return 0, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}
	if branch == 0 {
		branch = session.Branch
	}
	if branch <= 0 {
		return 0, domain.NewError(domain.ErrInvalidInput, op, "sucursal requerida")
	}
	if session.Branch > 0 && branch != session.Branch {
		return 0, domain.NewError(domain.ErrForbidden, op, fmt.Sprintf("la sucursal %d no corresponde a la sesión", branch))
	}
	return branch, nil
}
