package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

var headerColumns = []string{
	"number", "branch_code", "deposit_code", "area_code", "department_code", "section_code",
	"family_code", "groups_csv", "visible", "take_type", "created_by", "created_at",
	"status", "closing_operator", "closed_at",
}

var lineColumns = []string{
	"sequence", "article_code", "article_description", "lot", "expiry_date", "expected", "counted",
	"area_desc", "department_desc", "section_desc", "family_desc", "group_desc",
}

type headerRow struct {
	Number          int64         `db:"number"`
	BranchCode      int64         `db:"branch_code"`
	DepositCode     int64         `db:"deposit_code"`
	AreaCode        int64         `db:"area_code"`
	DepartmentCode  int64         `db:"department_code"`
	SectionCode     int64         `db:"section_code"`
	FamilyCode      sql.NullInt64 `db:"family_code"`
	GroupsCSV       string        `db:"groups_csv"`
	Visible         bool          `db:"visible"`
	TakeType        string        `db:"take_type"`
	CreatedBy       string        `db:"created_by"`
	CreatedAt       int64         `db:"created_at"`
	Status          string        `db:"status"`
	ClosingOperator string        `db:"closing_operator"`
	ClosedAt        sql.NullInt64 `db:"closed_at"`
}

func (r headerRow) toEntity() (entity.InventoryDocument, error) {
	groups, err := entity.ParseCodes(r.GroupsCSV)
	if err != nil {
		return entity.InventoryDocument{}, fmt.Errorf("documento %d: grupos %q: %w", r.Number, r.GroupsCSV, err)
	}
	h := entity.InventoryDocument{
		Number:          r.Number,
		Branch:          r.BranchCode,
		Deposit:         r.DepositCode,
		Area:            r.AreaCode,
		Department:      r.DepartmentCode,
		Section:         r.SectionCode,
		Groups:          groups,
		Visible:         r.Visible,
		TakeType:        entity.TakeType(r.TakeType),
		CreatedBy:       r.CreatedBy,
		CreatedAt:       fromMicros(r.CreatedAt),
		Status:          entity.DocumentStatus(r.Status),
		ClosingOperator: r.ClosingOperator,
		ClosedAt:        fromNullMicros(r.ClosedAt),
	}
	if r.FamilyCode.Valid {
		f := r.FamilyCode.Int64
		h.Family = &f
	}
	return h, nil
}

type lineRow struct {
	DocumentNumber     int64               `db:"document_number"`
	Sequence           int                 `db:"sequence"`
	ArticleCode        string              `db:"article_code"`
	ArticleDescription string              `db:"article_description"`
	Lot                string              `db:"lot"`
	ExpiryDate         sql.NullInt64       `db:"expiry_date"`
	Expected           decimal.Decimal     `db:"expected"`
	Counted            decimal.NullDecimal `db:"counted"`
	AreaDesc           string              `db:"area_desc"`
	DepartmentDesc     string              `db:"department_desc"`
	SectionDesc        string              `db:"section_desc"`
	FamilyDesc         string              `db:"family_desc"`
	GroupDesc          string              `db:"group_desc"`
}

func (r lineRow) toEntity() entity.InventoryLine {
	l := entity.InventoryLine{
		DocumentNumber:     r.DocumentNumber,
		Sequence:           r.Sequence,
		ArticleCode:        r.ArticleCode,
		ArticleDescription: r.ArticleDescription,
		Lot:                r.Lot,
		ExpiryDate:         fromNullMicros(r.ExpiryDate),
		Expected:           r.Expected,
		AreaDesc:           r.AreaDesc,
		DepartmentDesc:     r.DepartmentDesc,
		SectionDesc:        r.SectionDesc,
		FamilyDesc:         r.FamilyDesc,
		GroupDesc:          r.GroupDesc,
	}
	if r.Counted.Valid {
		c := r.Counted.Decimal
		l.Counted = &c
	}
	return l
}

// stagingRow fila ancha de inv_staging: la cabecera repetida en cada línea.
type stagingRow struct {
	headerRow
	Sequence           int                 `db:"sequence"`
	ArticleCode        string              `db:"article_code"`
	ArticleDescription string              `db:"article_description"`
	Lot                string              `db:"lot"`
	ExpiryDate         sql.NullInt64       `db:"expiry_date"`
	Expected           decimal.Decimal     `db:"expected"`
	Counted            decimal.NullDecimal `db:"counted"`
	AreaDesc           string              `db:"area_desc"`
	DepartmentDesc     string              `db:"department_desc"`
	SectionDesc        string              `db:"section_desc"`
	FamilyDesc         string              `db:"family_desc"`
	GroupDesc          string              `db:"group_desc"`
}

func headerValues(h entity.InventoryDocument) []any {
	family := sql.NullInt64{}
	if h.Family != nil {
		family = sql.NullInt64{Int64: *h.Family, Valid: true}
	}
	return []any{
		h.Number, h.Branch, h.Deposit, h.Area, h.Department, h.Section,
		family, h.GroupsCSV(), h.Visible, string(h.TakeType), h.CreatedBy, toMicros(h.CreatedAt),
		string(h.Status), h.ClosingOperator, nullMicros(h.ClosedAt),
	}
}

func lineValues(l entity.InventoryLine) []any {
	counted := decimal.NullDecimal{}
	if l.Counted != nil {
		counted = decimal.NullDecimal{Decimal: *l.Counted, Valid: true}
	}
	return []any{
		l.Sequence, l.ArticleCode, l.ArticleDescription, l.Lot, nullMicros(l.ExpiryDate), l.Expected, counted,
		l.AreaDesc, l.DepartmentDesc, l.SectionDesc, l.FamilyDesc, l.GroupDesc,
	}
}

// DocumentRepo caché local de documentos de toma (usable con db o tx).
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar db o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

// ResetStaging vacía la tabla de staging antes de una sincronización.
func (r *DocumentRepo) ResetStaging(ctx context.Context) error {
	if _, err := exec(ctx, r.q, builder.Delete("inv_staging")); err != nil {
		return fmt.Errorf("reset staging: %w", err)
	}
	return nil
}

// StageRows agrega un lote de filas anchas al staging.
func (r *DocumentRepo) StageRows(ctx context.Context, rows []entity.DocumentRow) error {
	if len(rows) == 0 {
		return nil
	}
	cols := append(append([]string{}, headerColumns...), lineColumns...)
	return inTx(ctx, r.q, func(q Querier) error {
		for start := 0; start < len(rows); start += insertChunk / 4 {
			end := min(start+insertChunk/4, len(rows))
			ins := builder.Insert("inv_staging").Options("OR REPLACE").Columns(cols...)
			for _, row := range rows[start:end] {
				ins = ins.Values(append(headerValues(row.Header), lineValues(row.Line)...)...)
			}
			if _, err := exec(ctx, q, ins); err != nil {
				return fmt.Errorf("insertar staging: %w", err)
			}
		}
		return nil
	})
}

// PromoteStaging reemplaza los documentos vivos con el contenido del staging en una sola transacción.
// Los documentos locales en estado pendiente (conteos aún no exportados) se conservan tal cual, y las
// cantidades contadas localmente sobre documentos que siguen abiertos no se pierden.
// Devuelve el número de documentos promovidos.
func (r *DocumentRepo) PromoteStaging(ctx context.Context) (int, error) {
	var promoted int
	err := inTx(ctx, r.q, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `UPDATE inv_staging SET counted = (
				SELECT l.counted FROM inv_lines l
				WHERE l.document_number = inv_staging.number AND l.sequence = inv_staging.sequence)
			WHERE counted IS NULL`); err != nil {
			return fmt.Errorf("conservar conteos locales: %w", err)
		}

		if _, err := exec(ctx, q, builder.Delete("inv_lines").
			Where("document_number NOT IN (SELECT number FROM inv_documents WHERE status = ?)",
				string(entity.StatusPending))); err != nil {
			return fmt.Errorf("borrar líneas: %w", err)
		}
		if _, err := exec(ctx, q, builder.Delete("inv_documents").
			Where(sq.NotEq{"status": string(entity.StatusPending)})); err != nil {
			return fmt.Errorf("borrar cabeceras: %w", err)
		}

		query, args, err := builder.Select("s.*").From("inv_staging s").
			Where("NOT EXISTS (SELECT 1 FROM inv_documents d WHERE d.number = s.number)").
			OrderBy("s.number", "s.sequence").ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		var staged []stagingRow
		if err := sqlscan.Select(ctx, q, &staged, query, args...); err != nil {
			return fmt.Errorf("leer staging: %w", err)
		}
		rows := make([]entity.DocumentRow, 0, len(staged))
		for _, s := range staged {
			h, err := s.headerRow.toEntity()
			if err != nil {
				return err
			}
			rows = append(rows, entity.DocumentRow{Header: h, Line: lineRow{
				DocumentNumber: s.Number, Sequence: s.Sequence, ArticleCode: s.ArticleCode,
				ArticleDescription: s.ArticleDescription, Lot: s.Lot, ExpiryDate: s.ExpiryDate,
				Expected: s.Expected, Counted: s.Counted, AreaDesc: s.AreaDesc,
				DepartmentDesc: s.DepartmentDesc, SectionDesc: s.SectionDesc,
				FamilyDesc: s.FamilyDesc, GroupDesc: s.GroupDesc,
			}.toEntity()})
		}
		docs := entity.GroupRows(rows)
		for _, d := range docs {
			if err := insertDocument(ctx, q, d); err != nil {
				return err
			}
		}
		if _, err := exec(ctx, q, builder.Delete("inv_staging")); err != nil {
			return fmt.Errorf("vaciar staging: %w", err)
		}
		promoted = len(docs)
		return nil
	})
	return promoted, err
}

// Save guarda (o reemplaza) un documento completo.
func (r *DocumentRepo) Save(ctx context.Context, doc entity.Document) error {
	return inTx(ctx, r.q, func(q Querier) error {
		n := doc.Header.Number
		if _, err := exec(ctx, q, builder.Delete("inv_lines").Where(sq.Eq{"document_number": n})); err != nil {
			return fmt.Errorf("borrar líneas %d: %w", n, err)
		}
		if _, err := exec(ctx, q, builder.Delete("inv_documents").Where(sq.Eq{"number": n})); err != nil {
			return fmt.Errorf("borrar cabecera %d: %w", n, err)
		}
		return insertDocument(ctx, q, doc)
	})
}

func insertDocument(ctx context.Context, q Querier, doc entity.Document) error {
	n := doc.Header.Number
	if _, err := exec(ctx, q, builder.Insert("inv_documents").Columns(headerColumns...).
		Values(headerValues(doc.Header)...)); err != nil {
		return fmt.Errorf("insertar cabecera %d: %w", n, err)
	}
	cols := append([]string{"document_number"}, lineColumns...)
	for start := 0; start < len(doc.Lines); start += insertChunk / 2 {
		end := min(start+insertChunk/2, len(doc.Lines))
		ins := builder.Insert("inv_lines").Columns(cols...)
		for _, l := range doc.Lines[start:end] {
			ins = ins.Values(append([]any{n}, lineValues(l)...)...)
		}
		if _, err := exec(ctx, q, ins); err != nil {
			return fmt.Errorf("insertar líneas %d: %w", n, err)
		}
	}
	return nil
}

// Get obtiene un documento con sus líneas. Devuelve nil, nil si no existe.
func (r *DocumentRepo) Get(ctx context.Context, number int64) (*entity.Document, error) {
	query, args, err := builder.Select(headerColumns...).From("inv_documents").
		Where(sq.Eq{"number": number}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row headerRow
	if err := sqlscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get documento: %w", err)
	}
	h, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	lines, err := r.lines(ctx, []int64{number})
	if err != nil {
		return nil, err
	}
	return &entity.Document{Header: h, Lines: lines[number]}, nil
}

// List lista documentos con sus líneas, ordenados por número. La página se resuelve en SQL.
func (r *DocumentRepo) List(ctx context.Context, filter repository.DocumentFilter) ([]entity.Document, error) {
	b := filtered(builder.Select(headerColumns...).From("inv_documents").OrderBy("number"), filter)
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite no admite OFFSET sin LIMIT.
			b = b.Limit(math.MaxInt64)
		}
		b = b.Offset(uint64(filter.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []headerRow
	if err := sqlscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listar documentos: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	numbers := make([]int64, len(rows))
	for i, row := range rows {
		numbers[i] = row.Number
	}
	lines, err := r.lines(ctx, numbers)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Document, 0, len(rows))
	for _, row := range rows {
		h, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, entity.Document{Header: h, Lines: lines[row.Number]})
	}
	return out, nil
}

func (r *DocumentRepo) lines(ctx context.Context, numbers []int64) (map[int64][]entity.InventoryLine, error) {
	query, args, err := builder.Select(append([]string{"document_number"}, lineColumns...)...).
		From("inv_lines").Where(sq.Eq{"document_number": numbers}).
		OrderBy("document_number", "sequence").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []lineRow
	if err := sqlscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listar líneas: %w", err)
	}
	out := make(map[int64][]entity.InventoryLine, len(numbers))
	for _, row := range rows {
		out[row.DocumentNumber] = append(out[row.DocumentNumber], row.toEntity())
	}
	return out, nil
}

// UpdateStatus cambia el estado de la cabecera. Si operator no está vacío pasa a ser el operador de cierre;
// los estados terminales registran at como fecha de cierre. Un paso que la máquina de estados no admite
// (por ejemplo cerrada → activa) se rechaza con ErrStateConflict sin tocar la fila.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, number int64, status entity.DocumentStatus, operator string, at time.Time) error {
	const op = "sqlite.UpdateStatus"
	if !status.Valid() {
		return fmt.Errorf("%w: estado %q", domain.ErrInvalidInput, status)
	}
	from := make([]string, 0, 2)
	for _, s := range entity.AllowedFrom(status) {
		from = append(from, string(s))
	}
	b := builder.Update("inv_documents").Set("status", string(status)).
		Where(sq.Eq{"number": number, "status": from})
	if operator != "" {
		b = b.Set("closing_operator", operator)
	}
	if status.IsTerminal() {
		b = b.Set("closed_at", toMicros(at))
	}
	res, err := exec(ctx, r.q, b)
	if err != nil {
		return fmt.Errorf("actualizar estado %d: %w", number, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	query, args, err := builder.Select("status").From("inv_documents").Where(sq.Eq{"number": number}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	var current string
	err = r.q.QueryRowContext(ctx, query, args...).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("documento %d: %w", number, domain.ErrNotFound)
	case err != nil:
		return fmt.Errorf("leer estado %d: %w", number, err)
	}
	return domain.NewError(domain.ErrStateConflict, op,
		fmt.Sprintf("toma %d: transición %s → %s no permitida", number, current, status))
}

// SetCounted fija la cantidad contada por secuencia. Devuelve las filas afectadas.
func (r *DocumentRepo) SetCounted(ctx context.Context, number int64, counts map[int]decimal.Decimal) (int64, error) {
	var total int64
	err := inTx(ctx, r.q, func(q Querier) error {
		for seq, qty := range counts {
			res, err := exec(ctx, q, builder.Update("inv_lines").Set("counted", qty).
				Where(sq.Eq{"document_number": number, "sequence": seq}))
			if err != nil {
				return fmt.Errorf("fijar conteo %d/%d: %w", number, seq, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// DeleteLines borra las líneas indicadas (lista tipada, nunca interpolada).
func (r *DocumentRepo) DeleteLines(ctx context.Context, number int64, sequences []int) (int64, error) {
	if len(sequences) == 0 {
		return 0, nil
	}
	res, err := exec(ctx, r.q, builder.Delete("inv_lines").
		Where(sq.Eq{"document_number": number, "sequence": sequences}))
	if err != nil {
		return 0, fmt.Errorf("borrar líneas %d: %w", number, err)
	}
	return res.RowsAffected()
}

// Count cuenta los documentos que cumplen el filtro.
func (r *DocumentRepo) Count(ctx context.Context, filter repository.DocumentFilter) (int, error) {
	query, args, err := filtered(builder.Select("COUNT(*)").From("inv_documents"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("contar documentos: %w", err)
	}
	return n, nil
}

func filtered(b sq.SelectBuilder, filter repository.DocumentFilter) sq.SelectBuilder {
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Branch != 0 {
		b = b.Where(sq.Eq{"branch_code": filter.Branch})
	}
	if filter.ClosingOperator != "" {
		b = b.Where(sq.Eq{"closing_operator": filter.ClosingOperator})
	}
	return b
}
