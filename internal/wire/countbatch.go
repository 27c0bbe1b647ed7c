// Package wire define la forma de los lotes de conteo que se envían al almacén remoto.
package wire

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// Modos de envío de un lote.
const (
	ModeClose        = "close"        // cierra los documentos en el remoto
	ModeVerification = "verification" // sólo cruce de conteos, no finaliza
)

const dateLayout = "2006-01-02"

// CountBatch lote de documentos contados.
type CountBatch struct {
	BatchID   string           `json:"batch_id"`
	Mode      string           `json:"mode"`
	Branch    int64            `json:"branch"`
	Operator  string           `json:"operator"`
	CreatedAt string           `json:"created_at"`
	Items     []CountBatchItem `json:"items"`
}

// CountBatchItem par (cabecera, líneas) de un documento.
type CountBatchItem struct {
	Header Header `json:"header"`
	Lines  []Line `json:"lines"`
}

// Header cabecera en formato de envío.
type Header struct {
	Number          int64  `json:"number"`
	Branch          int64  `json:"branch"`
	Deposit         int64  `json:"deposit"`
	Area            int64  `json:"area"`
	Department      int64  `json:"department"`
	Section         int64  `json:"section"`
	Family          *int64 `json:"family,omitempty"`
	Groups          string `json:"groups,omitempty"`
	TakeType        string `json:"take_type"`
	ClosingOperator string `json:"closing_operator"`
}

// Line línea en formato de envío. Counted nulo = línea sin contar.
type Line struct {
	Sequence    int              `json:"sequence"`
	ArticleCode string           `json:"article_code"`
	Lot         string           `json:"lot,omitempty"`
	ExpiryDate  string           `json:"expiry_date,omitempty"`
	Expected    decimal.Decimal  `json:"expected"`
	Counted     *decimal.Decimal `json:"counted"`
}

// NewBatch convierte documentos locales al lote de envío.
func NewBatch(batchID, mode string, branch int64, operator string, at time.Time, docs []entity.Document) CountBatch {
	b := CountBatch{
		BatchID:   batchID,
		Mode:      mode,
		Branch:    branch,
		Operator:  operator,
		CreatedAt: at.UTC().Format(time.RFC3339),
		Items:     make([]CountBatchItem, 0, len(docs)),
	}
	for _, d := range docs {
		b.Items = append(b.Items, FromDocument(d))
	}
	return b
}

// FromDocument convierte un documento a su item de envío.
func FromDocument(d entity.Document) CountBatchItem {
	h := d.Header
	item := CountBatchItem{
		Header: Header{
			Number:          h.Number,
			Branch:          h.Branch,
			Deposit:         h.Deposit,
			Area:            h.Area,
			Department:      h.Department,
			Section:         h.Section,
			Family:          h.Family,
			Groups:          h.GroupsCSV(),
			TakeType:        string(h.TakeType),
			ClosingOperator: h.ClosingOperator,
		},
		Lines: make([]Line, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		wl := Line{
			Sequence:    l.Sequence,
			ArticleCode: l.ArticleCode,
			Lot:         l.Lot,
			Expected:    l.Expected,
			Counted:     l.Counted,
		}
		if l.ExpiryDate != nil {
			wl.ExpiryDate = l.ExpiryDate.Format(dateLayout)
		}
		item.Lines = append(item.Lines, wl)
	}
	return item
}

// CountedLines devuelve las líneas contadas del item como detalle del dominio.
func (it CountBatchItem) CountedLines() []entity.InventoryLine {
	out := make([]entity.InventoryLine, 0, len(it.Lines))
	for _, l := range it.Lines {
		if l.Counted == nil {
			continue
		}
		out = append(out, entity.InventoryLine{
			DocumentNumber: it.Header.Number,
			Sequence:       l.Sequence,
			ArticleCode:    l.ArticleCode,
			Lot:            l.Lot,
			Expected:       l.Expected,
			Counted:        l.Counted,
		})
	}
	return out
}
