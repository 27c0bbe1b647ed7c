package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SelectionRequest selección jerárquica de la toma. Family nulo = todas las familias;
// Groups vacío = todos los grupos de la familia.
type SelectionRequest struct {
	Branch     int64   `json:"branch" validate:"gt=0"`
	Deposit    int64   `json:"deposit" validate:"gt=0"`
	Area       int64   `json:"area" validate:"gt=0"`
	Department int64   `json:"department" validate:"gt=0"`
	Section    int64   `json:"section" validate:"gt=0"`
	Family     *int64  `json:"family,omitempty" validate:"omitempty,gt=0"`
	Groups     []int64 `json:"groups,omitempty" validate:"omitempty,dive,gt=0"`
}

// ArticleRequest artículo/lote a contar con su cantidad esperada.
type ArticleRequest struct {
	ArticleCode    string          `json:"article_code" validate:"required,max=40"`
	Description    string          `json:"description,omitempty"`
	Lot            string          `json:"lot,omitempty" validate:"max=40"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	Expected       decimal.Decimal `json:"expected"`
	AreaDesc       string          `json:"area_desc,omitempty"`
	DepartmentDesc string          `json:"department_desc,omitempty"`
	SectionDesc    string          `json:"section_desc,omitempty"`
	FamilyDesc     string          `json:"family_desc,omitempty"`
	GroupDesc      string          `json:"group_desc,omitempty"`
}

// CreateDocumentRequest body para POST /api/tomas.
type CreateDocumentRequest struct {
	Selection SelectionRequest `json:"selection"`
	Articles  []ArticleRequest `json:"articles" validate:"required,min=1,dive"`
	Visible   bool             `json:"visible"`
	TakeType  string           `json:"take_type,omitempty" validate:"omitempty,oneof=manual criteria"`
}

// CreateDocumentResponse número asignado por el almacén remoto y líneas escritas.
// Warning se informa cuando la toma quedó en remoto pero no en la caché local.
type CreateDocumentResponse struct {
	Number       int64  `json:"number"`
	LinesWritten int64  `json:"lines_written"`
	Warning      string `json:"warning,omitempty"`
}

// RegisterCountRequest body para POST /api/tomas/:number/count (flujo de un solo operador).
// Las claves de Counts son secuencias de línea.
type RegisterCountRequest struct {
	Counts    map[int]decimal.Decimal `json:"counts" validate:"required,min=1"`
	AllowGaps bool                    `json:"allow_gaps"`
}

// SubmitCountRequest body para POST /api/tomas/:number/submissions.
type SubmitCountRequest struct {
	Sequence int             `json:"sequence" validate:"gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

// CountEntryResponse entrada del diario de conteos.
type CountEntryResponse struct {
	ID             string          `json:"id"`
	DocumentNumber int64           `json:"document_number"`
	Sequence       int             `json:"sequence"`
	Operator       string          `json:"operator"`
	Quantity       decimal.Decimal `json:"quantity"`
	OrderIndex     int64           `json:"order_index"`
	CapturedAt     time.Time       `json:"captured_at"`
	State          string          `json:"state"`
}

// PartialCancelRequest body para POST /api/tomas/:number/cancel-lines.
type PartialCancelRequest struct {
	Sequences []int `json:"sequences" validate:"required,min=1,dive,gt=0"`
}

// AffectedResponse filas afectadas por una anulación.
type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

// DocumentListRequest query params para GET /api/tomas.
type DocumentListRequest struct {
	PageRequest
	Status string `query:"status" validate:"omitempty,oneof=active pending closed cancelled"`
	Branch int64  `query:"branch" validate:"gte=0"`
}

// DocumentListResponse página de tomas locales.
type DocumentListResponse struct {
	Items []DocumentResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}

// SyncResponse resultado de una sincronización de documentos.
type SyncResponse struct {
	Lines int `json:"lines"`
}

// DocumentResponse documento local (cabecera + detalle).
type DocumentResponse struct {
	Number          int64          `json:"number"`
	Branch          int64          `json:"branch"`
	Deposit         int64          `json:"deposit"`
	Area            int64          `json:"area"`
	Department      int64          `json:"department"`
	Section         int64          `json:"section"`
	Family          *int64         `json:"family,omitempty"`
	Groups          []int64        `json:"groups,omitempty"`
	Visible         bool           `json:"visible"`
	TakeType        string         `json:"take_type"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	Status          string         `json:"status"`
	ClosingOperator string         `json:"closing_operator"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	Lines           []LineResponse `json:"lines"`
}

// LineResponse línea de un documento local.
type LineResponse struct {
	Sequence    int              `json:"sequence"`
	ArticleCode string           `json:"article_code"`
	Description string           `json:"description,omitempty"`
	Lot         string           `json:"lot,omitempty"`
	ExpiryDate  *time.Time       `json:"expiry_date,omitempty"`
	Expected    decimal.Decimal  `json:"expected"`
	Counted     *decimal.Decimal `json:"counted"`
	FamilyDesc  string           `json:"family_desc,omitempty"`
	GroupDesc   string           `json:"group_desc,omitempty"`
}
