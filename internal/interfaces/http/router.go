package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/toma-inventario/internal/application/cancellation"
	"github.com/jhoicas/toma-inventario/internal/application/catalog"
	"github.com/jhoicas/toma-inventario/internal/application/counting"
	"github.com/jhoicas/toma-inventario/internal/application/export"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	CreateDocument *inventory.CreateDocumentUseCase
	RegisterCount  *inventory.RegisterCountUseCase
	Query          *inventory.QueryUseCase
	DocumentSync   *inventory.DocumentSyncUseCase
	Counts         *counting.Aggregator
	Cancellation   *cancellation.Coordinator
	Export         *export.Pipeline
	Catalog        *catalog.SyncUseCase
	Metrics        nethttp.Handler // nil = sin /metrics
	JWTSecret      string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	tomas := protected.Group("/tomas")
	tomaHandler := NewTomaHandler(deps.CreateDocument, deps.RegisterCount, deps.Query, deps.Counts, deps.Cancellation)
	syncHandler := NewSyncHandler(deps.Catalog, deps.DocumentSync, deps.Export)
	tomas.Post("/", tomaHandler.Create)
	tomas.Get("/", tomaHandler.List)
	// Rutas fijas antes de /:number.
	tomas.Get("/pending", tomaHandler.Pending)
	tomas.Post("/export", syncHandler.ExportClosed)
	tomas.Post("/export/verification", syncHandler.ExportVerification)
	tomas.Get("/:number", tomaHandler.Get)
	tomas.Post("/:number/count", tomaHandler.RegisterCount)
	tomas.Post("/:number/submissions", tomaHandler.SubmitCount)
	tomas.Post("/:number/confirm", tomaHandler.Confirm)
	tomas.Post("/:number/cancel-lines", tomaHandler.CancelLines)
	tomas.Post("/:number/cancel", tomaHandler.Cancel)

	syncGroup := protected.Group("/sync")
	syncGroup.Post("/catalog", syncHandler.RefreshCatalog)
	syncGroup.Post("/documents", syncHandler.SyncDocuments)

	cat := protected.Group("/catalog")
	cat.Get("/subgroups", syncHandler.Subgroups)
	cat.Get("/:type/:code/children", syncHandler.Children)
}
