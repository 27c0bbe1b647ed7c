package postgres

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/wire"
)

// Tablas del almacén central.
const (
	headersTable       = "inv_take_headers"
	linesTable         = "inv_take_lines"
	verificationsTable = "inv_take_verifications"
	classificationView = "article_classification"
	numberSequence     = "inv_take_number_seq"
)

// builder squirrel con placeholders $n de PostgreSQL.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// lineChunk filas por INSERT multi-fila.
const lineChunk = 500

// catalogTables tabla remota de cada tipo de nodo.
var catalogTables = map[entity.NodeType]string{
	entity.NodeBranch:     "branches",
	entity.NodeDeposit:    "deposits",
	entity.NodeArea:       "areas",
	entity.NodeDepartment: "departments",
	entity.NodeSection:    "sections",
	entity.NodeFamily:     "families",
	entity.NodeGroup:      "article_groups",
	entity.NodeSubgroup:   "subgroups",
}

var parentColumns = map[entity.NodeType]string{
	entity.NodeBranch:     "branch_code",
	entity.NodeArea:       "area_code",
	entity.NodeDepartment: "department_code",
	entity.NodeSection:    "section_code",
	entity.NodeFamily:     "family_code",
	entity.NodeGroup:      "group_code",
}

var headerColumns = []string{
	"number", "branch_code", "deposit_code", "area_code", "department_code", "section_code",
	"family_code", "groups_csv", "visible", "take_type", "created_by", "created_at",
	"status", "closing_operator", "closed_at",
}

var lineColumns = []string{
	"document_number", "sequence", "article_code", "lot", "expiry_date", "expected", "counted",
}

func catalogQuery(t entity.NodeType) (string, []any, error) {
	table, ok := catalogTables[t]
	if !ok {
		return "", nil, fmt.Errorf("tipo de nodo desconocido %q", t)
	}
	cols := []string{"code", "description"}
	for _, p := range t.RequiredParents() {
		cols = append(cols, parentColumns[p])
	}
	return builder.Select(cols...).From(table).OrderBy("code").ToSql()
}

// openDocumentsQuery lectura ancha: cabeceras abiertas × líneas × clasificación de artículos.
// Las sucursales van como lista tipada (IN con placeholders); vacía = todas.
func openDocumentsQuery(branches []int64, webStatus string) (string, []any, error) {
	b := builder.Select(
		"h.number", "h.branch_code", "h.deposit_code", "h.area_code", "h.department_code", "h.section_code",
		"h.family_code", "h.groups_csv", "h.visible", "h.take_type", "h.created_by", "h.created_at",
		"h.status", "h.closing_operator", "h.closed_at",
		"l.sequence", "l.article_code", "l.lot", "l.expiry_date", "l.expected", "l.counted",
		"COALESCE(c.description, '') AS article_description",
		"COALESCE(c.area_desc, '') AS area_desc",
		"COALESCE(c.department_desc, '') AS department_desc",
		"COALESCE(c.section_desc, '') AS section_desc",
		"COALESCE(c.family_desc, '') AS family_desc",
		"COALESCE(c.group_desc, '') AS group_desc",
	).
		From(headersTable + " h").
		Join(linesTable + " l ON l.document_number = h.number").
		LeftJoin(classificationView + " c ON c.article_code = l.article_code").
		Where(sq.Eq{"h.status": []string{string(entity.StatusActive), string(entity.StatusPending)}}).
		Where(sq.Eq{"h.web_status": webStatus})
	if len(branches) > 0 {
		b = b.Where(sq.Eq{"h.branch_code": branches})
	}
	return b.OrderBy("h.number", "l.sequence").ToSql()
}

func insertHeaderQuery(h entity.InventoryDocument, webStatus string) (string, []any, error) {
	return builder.Insert(headersTable).Columns(append(headerColumns, "web_status")...).Values(
		h.Number, h.Branch, h.Deposit, h.Area, h.Department, h.Section,
		h.Family, h.GroupsCSV(), h.Visible, string(h.TakeType), h.CreatedBy, h.CreatedAt.UTC(),
		string(h.Status), h.ClosingOperator, h.ClosedAt, webStatus,
	).ToSql()
}

func insertLinesQuery(lines []entity.InventoryLine) (string, []any, error) {
	ins := builder.Insert(linesTable).Columns(lineColumns...)
	for _, l := range lines {
		ins = ins.Values(l.DocumentNumber, l.Sequence, l.ArticleCode, l.Lot, l.ExpiryDate, l.Expected, l.Counted)
	}
	return ins.ToSql()
}

func lockHeaderQuery(number int64) (string, []any, error) {
	return builder.Select(headerColumns...).From(headersTable).
		Where(sq.Eq{"number": number}).Suffix("FOR UPDATE").ToSql()
}

func updateCountQuery(number int64, seq int, counted decimal.Decimal) (string, []any, error) {
	return builder.Update(linesTable).Set("counted", counted).
		Where(sq.Eq{"document_number": number}).Where(sq.Eq{"sequence": seq}).ToSql()
}

func setStatusQuery(number int64, status entity.DocumentStatus, operator string, at time.Time) (string, []any, error) {
	b := builder.Update(headersTable).Set("status", string(status))
	if operator != "" {
		b = b.Set("closing_operator", operator)
	}
	if status.IsTerminal() {
		b = b.Set("closed_at", at.UTC())
	}
	return b.Where(sq.Eq{"number": number}).ToSql()
}

func deleteLinesQuery(number int64, sequences []int) (string, []any, error) {
	return builder.Delete(linesTable).
		Where(sq.Eq{"document_number": number}).Where(sq.Eq{"sequence": sequences}).ToSql()
}

func countLinesQuery(number int64) (string, []any, error) {
	return builder.Select("COUNT(*)").From(linesTable).Where(sq.Eq{"document_number": number}).ToSql()
}

func insertVerificationQuery(batchID, operator string, at time.Time, item wire.CountBatchItem) (string, []any, error) {
	ins := builder.Insert(verificationsTable).Columns(
		"batch_id", "document_number", "sequence", "article_code", "lot", "expected", "counted", "operator", "created_at")
	for _, l := range item.Lines {
		ins = ins.Values(batchID, item.Header.Number, l.Sequence, l.ArticleCode, l.Lot, l.Expected, l.Counted, operator, at.UTC())
	}
	return ins.ToSql()
}
