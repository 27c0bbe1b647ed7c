package http_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/toma-inventario/internal/application/cancellation"
	"github.com/jhoicas/toma-inventario/internal/application/catalog"
	"github.com/jhoicas/toma-inventario/internal/application/counting"
	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/export"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/metrics"
	apphttp "github.com/jhoicas/toma-inventario/internal/interfaces/http"
	"github.com/jhoicas/toma-inventario/internal/testutil/fixture"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// buildApp arma la API completa sobre caché SQLite temporal y almacén remoto en memoria.
func buildApp(t *testing.T) (*fiber.App, *fixture.Env) {
	t.Helper()
	env := fixture.New(t, 100)
	m := metrics.New()
	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		CreateDocument: inventory.NewCreateDocumentUseCase(env.Remote, env.Docs, env.Locks, m, nil),
		RegisterCount:  inventory.NewRegisterCountUseCase(env.Tx, env.Docs, env.Locks, m, nil),
		Query:          inventory.NewQueryUseCase(env.Docs),
		DocumentSync:   inventory.NewDocumentSyncUseCase(env.Remote, env.Docs, m, nil, nil, 100),
		Counts:         counting.NewAggregator(env.Remote, env.Tx, env.Docs, env.Counts, env.Locks, m, nil),
		Cancellation:   cancellation.NewCoordinator(env.Remote, env.Tx, env.Locks, cancellation.KeepHeader, m, nil),
		Export:         export.NewPipeline(env.Remote, env.Tx, env.Docs, env.Locks, m, nil),
		Catalog:        catalog.NewSyncUseCase(env.Remote, env.Catalog, m, nil, nil),
		Metrics:        m.Handler(),
		JWTSecret:      testJWTSecret,
	})
	return app, env
}

// call lanza method path con body JSON opcional y el token del operador ("" = sin token).
func call(t *testing.T, app *fiber.App, method, path, operator, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if operator != "" {
		req.Header.Set("Authorization", tokenFor(t, operator, testBranch))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var e dto.ErrorResponse
	decode(t, resp, &e)
	return e.Code
}

const createBody = `{
	"selection": {"branch": 1, "deposit": 10, "area": 1, "department": 2, "section": 3},
	"articles": [
		{"article_code": "ARTA", "expected": "10"},
		{"article_code": "ARTB", "expected": 4.5}
	]
}`

// ──────────────────────────────────────────────────────────────────────────────
// Rutas públicas
// ──────────────────────────────────────────────────────────────────────────────

func TestRouter_HealthYMetrics(t *testing.T) {
	app, _ := buildApp(t)

	resp := call(t, app, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, "/api/tomas", "ana", createBody).StatusCode)

	resp = call(t, app, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "tomas_document_transitions_total")
}

func TestRouter_RutasProtegidasSinToken(t *testing.T) {
	app, _ := buildApp(t)
	resp := call(t, app, http.MethodGet, "/api/tomas", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Alta y lectura
// ──────────────────────────────────────────────────────────────────────────────

func TestTomaHandler_CrearYObtener(t *testing.T) {
	app, env := buildApp(t)

	resp := call(t, app, http.MethodPost, "/api/tomas", "ana", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created dto.CreateDocumentResponse
	decode(t, resp, &created)
	assert.Equal(t, int64(100), created.Number)
	assert.Equal(t, int64(2), created.LinesWritten)
	assert.Empty(t, created.Warning)
	require.NotNil(t, env.Remote.Document(100))

	resp = call(t, app, http.MethodGet, "/api/tomas/100", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc dto.DocumentResponse
	decode(t, resp, &doc)
	assert.Equal(t, "active", doc.Status)
	assert.Equal(t, "ana", doc.ClosingOperator)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "ARTB", doc.Lines[1].ArticleCode)
	assert.True(t, fixture.Dec("4.5").Equal(doc.Lines[1].Expected))

	resp = call(t, app, http.MethodGet, "/api/tomas?status=active&branch=1", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list dto.DocumentListResponse
	decode(t, resp, &list)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Page.Total)
	assert.Equal(t, 20, list.Page.Limit)
}

func TestTomaHandler_ErroresDeEntrada(t *testing.T) {
	app, _ := buildApp(t)

	resp := call(t, app, http.MethodPost, "/api/tomas", "ana", `{"selection":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", errorCode(t, resp))

	resp = call(t, app, http.MethodPost, "/api/tomas", "ana", `{"selection":{"branch":1},"articles":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", errorCode(t, resp))

	resp = call(t, app, http.MethodGet, "/api/tomas/abc", "ana", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = call(t, app, http.MethodGet, "/api/tomas/999", "ana", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))

	resp = call(t, app, http.MethodGet, "/api/tomas?status=abierta", "ana", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTomaHandler_RemotoCaido_Retorna503(t *testing.T) {
	app, env := buildApp(t)
	env.Remote.Fail("NextDocumentNumber", domain.Wrap(domain.ErrConnectivity, "siguiente número", errors.New("dial tcp: timeout")))

	resp := call(t, app, http.MethodPost, "/api/tomas", "ana", createBody)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "REMOTE_UNAVAILABLE", errorCode(t, resp))
}

// ──────────────────────────────────────────────────────────────────────────────
// Conteo y confirmación
// ──────────────────────────────────────────────────────────────────────────────

func TestTomaHandler_RegistrarConteoCompletoPasaAPending(t *testing.T) {
	app, env := buildApp(t)
	env.Seed(t, fixture.Document(50, "ana", entity.StatusActive, "10", "5"))

	resp := call(t, app, http.MethodPost, "/api/tomas/50/count", "ana", `{"counts":{"1":"9","2":5}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc dto.DocumentResponse
	decode(t, resp, &doc)
	assert.Equal(t, "pending", doc.Status)
	require.NotNil(t, doc.Lines[0].Counted)
	assert.True(t, fixture.Dec("9").Equal(*doc.Lines[0].Counted))
}

func TestTomaHandler_MultiusuarioConfirmar(t *testing.T) {
	app, env := buildApp(t)
	env.Seed(t, fixture.Document(50, "ana", entity.StatusActive, "10", "5"))

	for _, s := range []struct{ operator, body string }{
		{"ana", `{"sequence":1,"quantity":"6"}`},
		{"beto", `{"sequence":1,"quantity":"4"}`},
		{"beto", `{"sequence":2,"quantity":"5"}`},
	} {
		resp := call(t, app, http.MethodPost, "/api/tomas/50/submissions", s.operator, s.body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := call(t, app, http.MethodGet, "/api/tomas/pending", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []counting.PendingDocument
	decode(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"ana", "beto"}, pending[0].Operators)

	resp = call(t, app, http.MethodPost, "/api/tomas/50/confirm", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum counting.ConfirmationSummary
	decode(t, resp, &sum)
	assert.Equal(t, int64(50), sum.Number)
	assert.Equal(t, 3, sum.Consolidated)

	remote := env.Remote.Document(50)
	require.NotNil(t, remote)
	assert.Equal(t, entity.StatusClosed, remote.Header.Status)
	assert.True(t, fixture.Dec("10").Equal(*remote.Lines[0].Counted))

	resp = call(t, app, http.MethodPost, "/api/tomas/50/confirm", "ana", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "STATE_CONFLICT", errorCode(t, resp))
}

// ──────────────────────────────────────────────────────────────────────────────
// Anulación
// ──────────────────────────────────────────────────────────────────────────────

func TestTomaHandler_AnulacionParcialDeOtroOperador_Retorna403(t *testing.T) {
	app, env := buildApp(t)
	env.Seed(t, fixture.Document(50, "ana", entity.StatusActive, "10", "5"))

	resp := call(t, app, http.MethodPost, "/api/tomas/50/cancel-lines", "beto", `{"sequences":[2]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_CLOSING_OPERATOR", errorCode(t, resp))
	assert.Equal(t, 2, env.Remote.LineCount(50))

	resp = call(t, app, http.MethodPost, "/api/tomas/50/cancel-lines", "ana", `{"sequences":[2]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var aff dto.AffectedResponse
	decode(t, resp, &aff)
	assert.Equal(t, int64(1), aff.Affected)
	assert.Equal(t, 1, env.Remote.LineCount(50))
}

func TestTomaHandler_AnulacionTotal(t *testing.T) {
	app, env := buildApp(t)
	env.Seed(t, fixture.Document(50, "ana", entity.StatusActive, "10"))

	resp := call(t, app, http.MethodPost, "/api/tomas/50/cancel", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.StatusCancelled, env.Remote.Document(50).Header.Status)

	resp = call(t, app, http.MethodPost, "/api/tomas/50/cancel", "ana", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = call(t, app, http.MethodPost, "/api/tomas/77/cancel", "ana", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Sincronización y exportación
// ──────────────────────────────────────────────────────────────────────────────

func TestSyncHandler_SincronizarDocumentos(t *testing.T) {
	app, env := buildApp(t)
	env.Remote.Seed(fixture.Document(60, "ana", entity.StatusActive, "1", "2", "3"))

	resp := call(t, app, http.MethodPost, "/api/sync/documents", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res dto.SyncResponse
	decode(t, resp, &res)
	assert.Equal(t, 3, res.Lines)

	resp = call(t, app, http.MethodGet, "/api/tomas/60", "ana", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncHandler_ExportarSinDocumentosYFueraDeSucursal(t *testing.T) {
	app, _ := buildApp(t)

	resp := call(t, app, http.MethodPost, "/api/tomas/export", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum export.ExportSummary
	decode(t, resp, &sum)
	assert.Empty(t, sum.Items)

	resp = call(t, app, http.MethodPost, "/api/tomas/export?branch=2", "ana", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSyncHandler_CatalogoNodoInexistente(t *testing.T) {
	app, _ := buildApp(t)

	resp := call(t, app, http.MethodGet, "/api/catalog/family/9/children", "ana", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = call(t, app, http.MethodGet, "/api/catalog/zona/9/children", "ana", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = call(t, app, http.MethodGet, "/api/catalog/subgroups?area=1&department=2&section=3", "ana", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodes []entity.CatalogNode
	decode(t, resp, &nodes)
	assert.Empty(t, nodes)
}

// ──────────────────────────────────────────────────────────────────────────────
// Documentación OpenAPI
// ──────────────────────────────────────────────────────────────────────────────

func TestSwagger_CubreTodasLasRutasDeLaAPI(t *testing.T) {
	app, _ := buildApp(t)
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "docs", "swagger.json"))
	require.NoError(t, err)
	var spec struct {
		Paths map[string]map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(raw, &spec))

	param := regexp.MustCompile(`:(\w+)`)
	var checked int
	for _, r := range app.GetRoutes(true) {
		if !strings.HasPrefix(r.Path, "/api/") || (r.Method != fiber.MethodGet && r.Method != fiber.MethodPost) {
			continue
		}
		path := param.ReplaceAllString(strings.TrimRight(r.Path, "/"), "{$1}")
		ops, ok := spec.Paths[path]
		if assert.True(t, ok, "ruta sin documentar: %s %s", r.Method, path) {
			assert.Contains(t, ops, strings.ToLower(r.Method), "método sin documentar: %s %s", r.Method, path)
		}
		checked++
	}
	assert.Equal(t, 15, checked)
}
