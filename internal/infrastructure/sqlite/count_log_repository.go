package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
)

var _ repository.CountLogRepository = (*CountLogRepo)(nil)

var countLogColumns = []string{
	"id", "document_number", "sequence", "operator", "quantity", "order_index", "captured_at", "state",
}

type countLogRow struct {
	ID             string          `db:"id"`
	DocumentNumber int64           `db:"document_number"`
	Sequence       int             `db:"sequence"`
	Operator       string          `db:"operator"`
	Quantity       decimal.Decimal `db:"quantity"`
	OrderIndex     int64           `db:"order_index"`
	CapturedAt     int64           `db:"captured_at"`
	State          string          `db:"state"`
}

func (r countLogRow) toEntity() entity.CountLogEntry {
	return entity.CountLogEntry{
		ID:             r.ID,
		DocumentNumber: r.DocumentNumber,
		Sequence:       r.Sequence,
		Operator:       r.Operator,
		Quantity:       r.Quantity,
		OrderIndex:     r.OrderIndex,
		CapturedAt:     fromMicros(r.CapturedAt),
		State:          entity.CountState(r.State),
	}
}

// CountLogRepo diario append-only de conteos por operador.
type CountLogRepo struct {
	q Querier
}

// NewCountLogRepository construye el adaptador. Pasar db o tx (Querier).
func NewCountLogRepository(q Querier) *CountLogRepo {
	return &CountLogRepo{q: q}
}

// Append guarda la entrada con el siguiente OrderIndex de (documento, línea).
// Lectura del máximo e inserción van en la misma transacción; con una sola conexión quedan serializadas.
func (r *CountLogRepo) Append(ctx context.Context, entry entity.CountLogEntry) (entity.CountLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.State == "" {
		entry.State = entity.CountPending
	}
	err := inTx(ctx, r.q, func(q Querier) error {
		query, args, err := builder.Select("COALESCE(MAX(order_index), 0)").From("count_log").
			Where(sq.Eq{"document_number": entry.DocumentNumber, "sequence": entry.Sequence}).ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		var last int64
		if err := q.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
			return fmt.Errorf("último orden %d/%d: %w", entry.DocumentNumber, entry.Sequence, err)
		}
		entry.OrderIndex = last + 1
		_, err = exec(ctx, q, builder.Insert("count_log").Columns(countLogColumns...).Values(
			entry.ID, entry.DocumentNumber, entry.Sequence, entry.Operator, entry.Quantity,
			entry.OrderIndex, toMicros(entry.CapturedAt), string(entry.State)))
		if err != nil {
			return fmt.Errorf("insertar conteo: %w", err)
		}
		return nil
	})
	if err != nil {
		return entity.CountLogEntry{}, err
	}
	entry.CapturedAt = fromMicros(toMicros(entry.CapturedAt))
	return entry, nil
}

// ListByDocument lista las entradas de un documento; state vacío no filtra.
func (r *CountLogRepo) ListByDocument(ctx context.Context, number int64, state entity.CountState) ([]entity.CountLogEntry, error) {
	b := builder.Select(countLogColumns...).From("count_log").Where(sq.Eq{"document_number": number})
	if state != "" {
		b = b.Where(sq.Eq{"state": string(state)})
	}
	return r.list(ctx, b.OrderBy("sequence", "order_index"))
}

// ListByState lista las entradas en un estado, agrupables por documento.
func (r *CountLogRepo) ListByState(ctx context.Context, state entity.CountState) ([]entity.CountLogEntry, error) {
	return r.list(ctx, builder.Select(countLogColumns...).From("count_log").
		Where(sq.Eq{"state": string(state)}).OrderBy("document_number", "sequence", "order_index"))
}

func (r *CountLogRepo) list(ctx context.Context, b sq.SelectBuilder) ([]entity.CountLogEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []countLogRow
	if err := sqlscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listar conteos: %w", err)
	}
	out := make([]entity.CountLogEntry, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

// MarkState cambia el estado de las entradas indicadas.
func (r *CountLogRepo) MarkState(ctx context.Context, ids []string, state entity.CountState) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := exec(ctx, r.q, builder.Update("count_log").Set("state", string(state)).
		Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, fmt.Errorf("marcar conteos: %w", err)
	}
	return res.RowsAffected()
}

// DiscardLines descarta las entradas pendientes de las líneas indicadas; nil descarta todo el documento.
func (r *CountLogRepo) DiscardLines(ctx context.Context, number int64, sequences []int) (int64, error) {
	where := sq.Eq{"document_number": number, "state": string(entity.CountPending)}
	if sequences != nil {
		if len(sequences) == 0 {
			return 0, nil
		}
		where["sequence"] = sequences
	}
	res, err := exec(ctx, r.q, builder.Update("count_log").
		Set("state", string(entity.CountDiscarded)).Where(where))
	if err != nil {
		return 0, fmt.Errorf("descartar conteos %d: %w", number, err)
	}
	return res.RowsAffected()
}
