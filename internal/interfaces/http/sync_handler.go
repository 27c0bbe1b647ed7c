package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/toma-inventario/internal/application/catalog"
	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/export"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
	domcatalog "github.com/jhoicas/toma-inventario/internal/domain/catalog"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// SyncHandler expone la sincronización con el almacén remoto y la exportación de conteos (protegido).
type SyncHandler struct {
	catalog   *catalog.SyncUseCase
	documents *inventory.DocumentSyncUseCase
	export    *export.Pipeline
}

// NewSyncHandler construye el handler.
func NewSyncHandler(cat *catalog.SyncUseCase, docs *inventory.DocumentSyncUseCase, exp *export.Pipeline) *SyncHandler {
	return &SyncHandler{catalog: cat, documents: docs, export: exp}
}

// RefreshCatalog godoc
// @Summary      Refrescar el catálogo local
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  catalog.SyncStats
// @Failure      422  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/sync/catalog [post]
func (h *SyncHandler) RefreshCatalog(c *fiber.Ctx) error {
	stats, err := h.catalog.RefreshCatalog(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stats)
}

// SyncDocuments godoc
// @Summary      Sincronizar tomas abiertas
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.SyncResponse
// @Router       /api/sync/documents [post]
func (h *SyncHandler) SyncDocuments(c *fiber.Ctx) error {
	n, err := h.documents.SyncInventories(c.Context(), nil)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.SyncResponse{Lines: n})
}

// ExportClosed godoc
// @Summary      Exportar conteos cerrados del operador
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Param        branch  query  int  false  "sucursal (por defecto la de la sesión)"
// @Success      200  {object}  export.ExportSummary
// @Router       /api/tomas/export [post]
func (h *SyncHandler) ExportClosed(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	sum, err := h.export.ExportClosedCounts(c.Context(), session, int64(c.QueryInt("branch", 0)))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sum)
}

// ExportVerification godoc
// @Summary      Exportar tomas para verificación
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Param        branch  query  int  false  "sucursal (por defecto la de la sesión)"
// @Success      200  {object}  export.ExportSummary
// @Router       /api/tomas/export/verification [post]
func (h *SyncHandler) ExportVerification(c *fiber.Ctx) error {
	session := GetSession(c)
	if !session.Valid() {
		return unauthorized(c)
	}
	sum, err := h.export.ExportForVerification(c.Context(), session, int64(c.QueryInt("branch", 0)))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sum)
}

// Subgroups resuelve los subgrupos de una selección: ?area=&department=&section=&family=&groups=1,2
// @Summary      Subgrupos de una selección jerárquica
// @Tags         catalog
// @Security     Bearer
// @Produce      json
// @Param        area        query  int     true   "área"
// @Param        department  query  int     true   "departamento"
// @Param        section     query  int     true   "sección"
// @Param        family      query  int     false  "familia"
// @Param        groups      query  string  false  "grupos separados por coma"
// @Success      200  {array}   entity.CatalogNode
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/catalog/subgroups [get]
func (h *SyncHandler) Subgroups(c *fiber.Ctx) error {
	sel := domcatalog.GroupSelection{
		Area:       int64(c.QueryInt("area", 0)),
		Department: int64(c.QueryInt("department", 0)),
		Section:    int64(c.QueryInt("section", 0)),
	}
	if f := c.Query("family"); f != "" {
		fam, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "familia inválida"})
		}
		sel.Family = &fam
	}
	groups, err := entity.ParseCodes(c.Query("groups"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "grupos inválidos"})
	}
	sel.Groups = groups
	nodes, err := h.catalog.Subgroups(c.Context(), sel)
	if err != nil {
		return writeError(c, err)
	}
	if nodes == nil {
		nodes = []entity.CatalogNode{}
	}
	return c.JSON(nodes)
}

// Children hijos directos de un nodo: /api/catalog/:type/:code/children
// @Summary      Hijos directos de un nodo del catálogo
// @Tags         catalog
// @Security     Bearer
// @Produce      json
// @Param        type  path  string  true  "branch | deposit | area | department | section | family | group | subgroup"
// @Param        code  path  int     true  "código del nodo"
// @Success      200  {array}   entity.CatalogNode
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/catalog/{type}/{code}/children [get]
func (h *SyncHandler) Children(c *fiber.Ctx) error {
	t := entity.NodeType(c.Params("type"))
	code, err := strconv.ParseInt(c.Params("code"), 10, 64)
	if !t.Valid() || err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "tipo o código de nodo inválido"})
	}
	nodes, err := h.catalog.Children(c.Context(), t, code)
	if err != nil {
		return writeError(c, err)
	}
	if nodes == nil {
		nodes = []entity.CatalogNode{}
	}
	return c.JSON(nodes)
}
