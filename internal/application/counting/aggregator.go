// Package counting reúne los conteos de varios operadores sobre una misma toma y los confirma
// contra el almacén remoto.
package counting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain"
	domcounting "github.com/jhoicas/toma-inventario/internal/domain/counting"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/pkg/logger"
	"github.com/jhoicas/toma-inventario/pkg/validate"
)

// LineAggregate proyección de una línea: último conteo de cada operador y total consolidado.
type LineAggregate struct {
	Sequence    int                        `json:"sequence"`
	ArticleCode string                     `json:"article_code"`
	Expected    decimal.Decimal            `json:"expected"`
	PerOperator map[string]decimal.Decimal `json:"per_operator"`
	Operators   []string                   `json:"operators"`
	Total       decimal.Decimal            `json:"total"`
}

// PendingDocument documento con conteos pendientes de confirmar.
type PendingDocument struct {
	Header    entity.InventoryDocument `json:"header"`
	Operators []string                 `json:"operators"`
	Lines     []LineAggregate          `json:"lines"`
}

// ConfirmationSummary resultado de una confirmación.
type ConfirmationSummary struct {
	Number       int64           `json:"number"`
	Operators    []string        `json:"operators"`
	Lines        []LineAggregate `json:"lines"`
	Consolidated int             `json:"consolidated"`
	Discarded    int             `json:"discarded"`
	ClosedAt     time.Time       `json:"closed_at"`
}

// Aggregator recibe conteos concurrentes y los consolida al confirmar.
type Aggregator struct {
	remote    repository.RemoteStore
	local     ports.LocalTxRunner
	docRepo   repository.DocumentRepository
	countRepo repository.CountLogRepository
	locker    ports.DocumentLocker
	metrics   ports.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewAggregator construye el agregador.
func NewAggregator(
	remote repository.RemoteStore,
	local ports.LocalTxRunner,
	docRepo repository.DocumentRepository,
	countRepo repository.CountLogRepository,
	locker ports.DocumentLocker,
	metrics ports.Metrics,
	log *logger.Logger,
) *Aggregator {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{
		remote: remote, local: local, docRepo: docRepo, countRepo: countRepo, locker: locker,
		metrics: metrics, log: log.Component("counting"), now: time.Now,
	}
}

// SubmitCount agrega un conteo al diario con el siguiente OrderIndex de la línea.
// No toma el bloqueo del documento: envíos paralelos sobre líneas u operadores distintos no se esperan.
func (a *Aggregator) SubmitCount(ctx context.Context, session entity.Session, number int64, in dto.SubmitCountRequest) (entity.CountLogEntry, error) {
	const op = "registrar conteo"
	if !session.Valid() {
		return entity.CountLogEntry{}, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}
	if err := validate.Struct(op, in); err != nil {
		return entity.CountLogEntry{}, err
	}
	if in.Quantity.IsNegative() {
		return entity.CountLogEntry{}, domain.NewError(domain.ErrInvalidInput, op, "cantidad negativa")
	}

	doc, err := a.openDocument(ctx, op, number)
	if err != nil {
		return entity.CountLogEntry{}, err
	}
	if _, ok := doc.Line(in.Sequence); !ok {
		return entity.CountLogEntry{}, domain.NewError(domain.ErrInvalidInput, op,
			fmt.Sprintf("la toma %d no tiene la línea %d", number, in.Sequence))
	}

	entry, err := a.countRepo.Append(ctx, entity.CountLogEntry{
		DocumentNumber: number,
		Sequence:       in.Sequence,
		Operator:       session.Operator,
		Quantity:       in.Quantity,
		CapturedAt:     a.now().UTC(),
		State:          entity.CountPending,
	})
	if err != nil {
		return entity.CountLogEntry{}, err
	}
	a.metrics.CountSubmitted()
	a.log.Debug().Int64("document", number).Int("sequence", in.Sequence).
		Str("operator", session.Operator).Int64("order", entry.OrderIndex).Msg("conteo registrado")
	return entry, nil
}

// PendingDocuments proyecta, por documento con conteos pendientes, los operadores que contribuyeron
// y el agregado de cada línea. Ordenado por número de documento.
func (a *Aggregator) PendingDocuments(ctx context.Context) ([]PendingDocument, error) {
	entries, err := a.countRepo.ListByState(ctx, entity.CountPending)
	if err != nil {
		return nil, err
	}
	byDoc := make(map[int64][]entity.CountLogEntry)
	for _, e := range entries {
		byDoc[e.DocumentNumber] = append(byDoc[e.DocumentNumber], e)
	}
	numbers := make([]int64, 0, len(byDoc))
	for n := range byDoc {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	out := make([]PendingDocument, 0, len(numbers))
	for _, n := range numbers {
		doc, err := a.docRepo.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		if doc == nil || doc.Header.Status.IsTerminal() {
			continue
		}
		cons := domcounting.Consolidate(byDoc[n])
		out = append(out, PendingDocument{
			Header:    doc.Header,
			Operators: domcounting.Operators(cons),
			Lines:     aggregates(doc, cons),
		})
	}
	return out, nil
}

// Confirm consolida los conteos pendientes bajo el bloqueo del documento: por línea, la suma entre operadores
// del último conteo de cada uno. La transacción remota bloquea la cabecera, escribe las cantidades y cierra;
// sólo si confirma se aplica el resultado localmente en una transacción. Ante un fallo remoto nada local cambia.
func (a *Aggregator) Confirm(ctx context.Context, session entity.Session, number int64) (*ConfirmationSummary, error) {
	const op = "confirmar toma"
	if !session.Valid() {
		return nil, domain.NewError(domain.ErrForbidden, op, "sesión sin operador")
	}

	release, err := a.locker.Lock(ctx, number)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := a.openDocument(ctx, op, number)
	if err != nil {
		return nil, err
	}
	entries, err := a.countRepo.ListByDocument(ctx, number, entity.CountPending)
	if err != nil {
		return nil, err
	}
	cons := domcounting.Consolidate(entries)
	for seq := range cons {
		if _, ok := doc.Line(seq); !ok {
			delete(cons, seq)
		}
	}
	if len(cons) == 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, op, fmt.Sprintf("la toma %d no tiene conteos pendientes", number))
	}

	counts := make(map[int]decimal.Decimal, len(cons))
	lines := make([]entity.InventoryLine, 0, len(cons))
	var winners, superseded []string
	for _, l := range doc.Lines {
		lc, ok := cons[l.Sequence]
		if !ok {
			continue
		}
		total := lc.Total
		l.Counted = &total
		lines = append(lines, l)
		counts[l.Sequence] = total
		winners = append(winners, lc.Winners...)
		superseded = append(superseded, lc.Superseded...)
	}
	closedAt := a.now().UTC()

	err = a.remote.RunInTx(ctx, func(tx repository.RemoteTx) error {
		h, err := tx.LockHeader(ctx, number)
		if err != nil {
			return err
		}
		if h == nil {
			return domain.NewError(domain.ErrNotFound, op, fmt.Sprintf("toma %d inexistente en el almacén remoto", number))
		}
		if h.Status.IsTerminal() {
			return domain.NewError(domain.ErrStateConflict, op, fmt.Sprintf("toma %d ya en estado %s", number, h.Status))
		}
		n, err := tx.UpdateLineCounts(ctx, number, lines)
		if err != nil {
			return err
		}
		if n != int64(len(lines)) {
			return domain.NewError(domain.ErrIntegrity, op,
				fmt.Sprintf("se actualizaron %d líneas de %d", n, len(lines)))
		}
		_, err = tx.SetHeaderStatus(ctx, number, entity.StatusClosed, session.Operator, closedAt)
		return err
	})
	if err != nil {
		a.log.Warn().Err(err).Int64("document", number).Str("operator", session.Operator).Msg("confirmación rechazada")
		return nil, err
	}
	a.metrics.DocumentTransition(entity.StatusClosed)

	summary := &ConfirmationSummary{
		Number:       number,
		Operators:    domcounting.Operators(cons),
		Lines:        aggregates(doc, cons),
		Consolidated: len(winners),
		Discarded:    len(superseded),
		ClosedAt:     closedAt,
	}
	err = a.local.Run(ctx, func(docRepo repository.DocumentRepository, countRepo repository.CountLogRepository) error {
		if _, err := docRepo.SetCounted(ctx, number, counts); err != nil {
			return err
		}
		if err := docRepo.UpdateStatus(ctx, number, entity.StatusClosed, session.Operator, closedAt); err != nil {
			return err
		}
		if _, err := countRepo.MarkState(ctx, winners, entity.CountConsolidated); err != nil {
			return err
		}
		_, err := countRepo.MarkState(ctx, superseded, entity.CountDiscarded)
		return err
	})
	if err != nil {
		a.log.Error().Err(err).Int64("document", number).Msg("toma cerrada en remoto pero no reflejada localmente")
		return summary, fmt.Errorf("aplicar confirmación de %d localmente: %w", number, err)
	}
	a.log.Info().Int64("document", number).Strs("operators", summary.Operators).
		Int("lines", len(lines)).Msg("toma confirmada")
	return summary, nil
}

// openDocument lee el documento local; inexistente → ErrNotFound, terminal → ErrStateConflict.
func (a *Aggregator) openDocument(ctx context.Context, op string, number int64) (*entity.Document, error) {
	doc, err := a.docRepo.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.NewError(domain.ErrNotFound, op, fmt.Sprintf("toma %d", number))
	}
	if doc.Header.Status.IsTerminal() {
		return nil, domain.NewError(domain.ErrStateConflict, op,
			fmt.Sprintf("toma %d en estado %s", number, doc.Header.Status))
	}
	return doc, nil
}

func aggregates(doc *entity.Document, cons map[int]domcounting.LineConsolidation) []LineAggregate {
	out := make([]LineAggregate, 0, len(cons))
	for _, l := range doc.Lines {
		lc, ok := cons[l.Sequence]
		if !ok {
			continue
		}
		out = append(out, LineAggregate{
			Sequence:    l.Sequence,
			ArticleCode: l.ArticleCode,
			Expected:    l.Expected,
			PerOperator: lc.PerOperator,
			Operators:   lc.Operators,
			Total:       lc.Total,
		})
	}
	return out
}
