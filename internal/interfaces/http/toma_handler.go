package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/toma-inventario/internal/application/cancellation"
	"github.com/jhoicas/toma-inventario/internal/application/counting"
	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
)

// TomaHandler maneja el ciclo de vida de las tomas de inventario (protegido).
type TomaHandler struct {
	create   *inventory.CreateDocumentUseCase
	register *inventory.RegisterCountUseCase
	query    *inventory.QueryUseCase
	counts   *counting.Aggregator
	cancel   *cancellation.Coordinator
}

// NewTomaHandler construye el handler.
func NewTomaHandler(
	create *inventory.CreateDocumentUseCase,
	register *inventory.RegisterCountUseCase,
	query *inventory.QueryUseCase,
	counts *counting.Aggregator,
	cancel *cancellation.Coordinator,
) *TomaHandler {
	return &TomaHandler{create: create, register: register, query: query, counts: counts, cancel: cancel}
}

// Create godoc
// @Summary      Crear toma de inventario
// @Tags         tomas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateDocumentRequest  true  "selección jerárquica y artículos a contar"
// @Success      201   {object}  dto.CreateDocumentResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      403   {object}  dto.ErrorResponse
// @Failure      503   {object}  dto.ErrorResponse
// @Router       /api/tomas [post]
func (h *TomaHandler) Create(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	res, err := h.create.CreateDocument(c.Context(), session, in)
	if err != nil {
		if res == nil {
			return writeError(c, err)
		}
		// La toma existe en remoto; la caché local se repone con la próxima sincronización.
		res.Warning = err.Error()
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// List godoc
// @Summary      Listar tomas de la caché local
// @Tags         tomas
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "active | pending | closed | cancelled"
// @Param        branch  query  int     false  "sucursal"
// @Param        limit   query  int     false  "tamaño de página (1..100, por defecto 20)"
// @Param        offset  query  int     false  "desplazamiento"
// @Success      200  {object}  dto.DocumentListResponse
// @Router       /api/tomas [get]
func (h *TomaHandler) List(c *fiber.Ctx) error {
	var in dto.DocumentListRequest
	if err := c.QueryParser(&in); err != nil {
		return badBody(c)
	}
	out, err := h.query.ListDocuments(c.Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Get godoc
// @Summary      Obtener toma
// @Tags         tomas
// @Security     Bearer
// @Produce      json
// @Param        number  path  int  true  "número de toma"
// @Success      200  {object}  dto.DocumentResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/tomas/{number} [get]
func (h *TomaHandler) Get(c *fiber.Ctx) error {
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	res, err := h.query.GetDocument(c.Context(), number)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// RegisterCount godoc
// @Summary      Registrar conteo de un solo operador
// @Description  Fija las cantidades contadas; con todas las líneas contadas (o allow_gaps) la toma pasa a pending.
// @Tags         tomas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        number  path  int                       true  "número de toma"
// @Param        body    body  dto.RegisterCountRequest  true  "secuencia → cantidad"
// @Success      200  {object}  dto.DocumentResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/tomas/{number}/count [post]
func (h *TomaHandler) RegisterCount(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	var in dto.RegisterCountRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	doc, err := h.register.RegisterCount(c.Context(), session, number, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(inventory.ToDocumentResponse(*doc))
}

// SubmitCount godoc
// @Summary      Enviar conteo de un operador (multiusuario)
// @Tags         tomas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        number  path  int                     true  "número de toma"
// @Param        body    body  dto.SubmitCountRequest  true  "secuencia y cantidad"
// @Success      201  {object}  dto.CountEntryResponse
// @Router       /api/tomas/{number}/submissions [post]
func (h *TomaHandler) SubmitCount(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	var in dto.SubmitCountRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	e, err := h.counts.SubmitCount(c.Context(), session, number, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CountEntryResponse{
		ID:             e.ID,
		DocumentNumber: e.DocumentNumber,
		Sequence:       e.Sequence,
		Operator:       e.Operator,
		Quantity:       e.Quantity,
		OrderIndex:     e.OrderIndex,
		CapturedAt:     e.CapturedAt,
		State:          string(e.State),
	})
}

// Pending godoc
// @Summary      Tomas con conteos pendientes de confirmar
// @Tags         tomas
// @Security     Bearer
// @Produce      json
// @Success      200  {array}  counting.PendingDocument
// @Router       /api/tomas/pending [get]
func (h *TomaHandler) Pending(c *fiber.Ctx) error {
	out, err := h.counts.PendingDocuments(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	if out == nil {
		out = []counting.PendingDocument{}
	}
	return c.JSON(out)
}

// Confirm godoc
// @Summary      Confirmar y cerrar una toma
// @Description  Consolida los conteos pendientes, los escribe en remoto y cierra la toma.
// @Tags         tomas
// @Security     Bearer
// @Produce      json
// @Param        number  path  int  true  "número de toma"
// @Success      200  {object}  counting.ConfirmationSummary
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/tomas/{number}/confirm [post]
func (h *TomaHandler) Confirm(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	sum, err := h.counts.Confirm(c.Context(), session, number)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sum)
}

// CancelLines godoc
// @Summary      Anulación parcial (líneas)
// @Tags         tomas
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        number  path  int                       true  "número de toma"
// @Param        body    body  dto.PartialCancelRequest  true  "secuencias a anular"
// @Success      200  {object}  dto.AffectedResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/tomas/{number}/cancel-lines [post]
func (h *TomaHandler) CancelLines(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	var in dto.PartialCancelRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	n, err := h.cancel.CancelPartial(c.Context(), session, number, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.AffectedResponse{Affected: n})
}

// Cancel godoc
// @Summary      Anulación total
// @Tags         tomas
// @Security     Bearer
// @Produce      json
// @Param        number  path  int  true  "número de toma"
// @Success      200  {object}  dto.AffectedResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/tomas/{number}/cancel [post]
func (h *TomaHandler) Cancel(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	number, ok := documentNumber(c)
	if !ok {
		return invalidNumber(c)
	}
	n, err := h.cancel.CancelTotal(c.Context(), session, number)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.AffectedResponse{Affected: n})
}

func documentNumber(c *fiber.Ctx) (int64, bool) {
	n, err := strconv.ParseInt(c.Params("number"), 10, 64)
	return n, err == nil && n > 0
}

func invalidNumber(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "número de toma inválido"})
}
