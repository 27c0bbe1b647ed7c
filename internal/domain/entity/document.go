package entity

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus estado de una toma de inventario (cabecera).
type DocumentStatus string

// Estados del documento. closed y cancelled son terminales.
const (
	StatusActive    DocumentStatus = "active"
	StatusPending   DocumentStatus = "pending"
	StatusClosed    DocumentStatus = "closed"
	StatusCancelled DocumentStatus = "cancelled"
)

// transitions tabla de transiciones legales.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusActive:  {StatusPending, StatusClosed, StatusCancelled},
	StatusPending: {StatusClosed, StatusCancelled},
}

// IsTerminal indica si el estado ya no admite transiciones.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Valid indica si s es un estado conocido.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition indica si el paso s → to es legal.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedFrom estados desde los que se puede llegar a to. Un estado no terminal admite repetirse
// (pendiente → pendiente al corregir conteos).
func AllowedFrom(to DocumentStatus) []DocumentStatus {
	var out []DocumentStatus
	for _, from := range []DocumentStatus{StatusActive, StatusPending, StatusClosed, StatusCancelled} {
		if from.CanTransition(to) || (from == to && !to.IsTerminal()) {
			out = append(out, from)
		}
	}
	return out
}

// TakeType tipo de toma.
type TakeType string

const (
	TakeManual   TakeType = "manual"   // selección manual de artículos
	TakeCriteria TakeType = "criteria" // selección por criterio jerárquico
)

// InventoryDocument cabecera de una toma. El número lo asigna siempre la secuencia remota.
type InventoryDocument struct {
	Number          int64
	Branch          int64
	Deposit         int64
	Area            int64
	Department      int64
	Section         int64
	Family          *int64  // nil = todas las familias
	Groups          []int64 // grupos parciales; nil = todos
	Visible         bool
	TakeType        TakeType
	CreatedBy       string
	CreatedAt       time.Time
	Status          DocumentStatus
	ClosingOperator string // operador con derechos de cierre/anulación
	ClosedAt        *time.Time
}

// GroupsCSV devuelve los grupos parciales unidos por coma, como se persisten.
func (d InventoryDocument) GroupsCSV() string {
	return JoinCodes(d.Groups)
}

// InventoryLine detalle de la toma: un artículo/lote con cantidad esperada vs contada.
type InventoryLine struct {
	DocumentNumber     int64
	Sequence           int
	ArticleCode        string
	ArticleDescription string
	Lot                string
	ExpiryDate         *time.Time
	Expected           decimal.Decimal
	Counted            *decimal.Decimal // nil hasta que se cuenta
	AreaDesc           string
	DepartmentDesc     string
	SectionDesc        string
	FamilyDesc         string
	GroupDesc          string
}

// Document agrupa cabecera y detalle.
type Document struct {
	Header InventoryDocument
	Lines  []InventoryLine
}

// Line devuelve el detalle con la secuencia indicada.
func (d *Document) Line(seq int) (*InventoryLine, bool) {
	for i := range d.Lines {
		if d.Lines[i].Sequence == seq {
			return &d.Lines[i], true
		}
	}
	return nil, false
}

// FullyCounted indica si todas las líneas tienen cantidad contada.
func (d *Document) FullyCounted() bool {
	for _, l := range d.Lines {
		if l.Counted == nil {
			return false
		}
	}
	return true
}

// CountedLines devuelve sólo las líneas con cantidad contada.
func (d *Document) CountedLines() []InventoryLine {
	out := make([]InventoryLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		if l.Counted != nil {
			out = append(out, l)
		}
	}
	return out
}

// AssignSequences numera las líneas 1..N en el orden recibido y las asocia al documento.
func AssignSequences(number int64, lines []InventoryLine) []InventoryLine {
	out := make([]InventoryLine, len(lines))
	for i, l := range lines {
		l.DocumentNumber = number
		l.Sequence = i + 1
		l.Counted = nil
		out[i] = l
	}
	return out
}

// DocumentRow fila ancha (cabecera + línea desnormalizada) tal como la devuelve la lectura remota
// de documentos abiertos y como se guarda en la tabla de staging local.
type DocumentRow struct {
	Header InventoryDocument
	Line   InventoryLine
}

// GroupRows agrupa filas anchas en documentos, ordenados por número y secuencia.
func GroupRows(rows []DocumentRow) []Document {
	byNumber := make(map[int64]*Document)
	var order []int64
	for _, r := range rows {
		doc, ok := byNumber[r.Header.Number]
		if !ok {
			doc = &Document{Header: r.Header}
			byNumber[r.Header.Number] = doc
			order = append(order, r.Header.Number)
		}
		line := r.Line
		line.DocumentNumber = r.Header.Number
		doc.Lines = append(doc.Lines, line)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Document, 0, len(order))
	for _, n := range order {
		doc := byNumber[n]
		sort.Slice(doc.Lines, func(i, j int) bool { return doc.Lines[i].Sequence < doc.Lines[j].Sequence })
		out = append(out, *doc)
	}
	return out
}

// JoinCodes une códigos por coma ("" si no hay).
func JoinCodes(codes []int64) string {
	if len(codes) == 0 {
		return ""
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// ParseCodes interpreta una lista de códigos unida por coma. Ignora elementos vacíos.
func ParseCodes(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
