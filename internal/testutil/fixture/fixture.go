// Package fixture arma el entorno de los tests de casos de uso: caché SQLite temporal,
// almacén remoto en memoria y bloqueo por documento.
package fixture

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/lock"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/sqlite"
	"github.com/jhoicas/toma-inventario/internal/testutil/fakeremote"
)

// T0 instante fijo de los documentos de prueba.
var T0 = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

// Env dependencias de un caso de uso.
type Env struct {
	DB      *sql.DB
	Remote  *fakeremote.Store
	Docs    *sqlite.DocumentRepo
	Counts  *sqlite.CountLogRepo
	Catalog *sqlite.CatalogRepo
	Tx      *sqlite.TxRunner
	Locks   *lock.KeyedMutex
}

// New abre una caché vacía en un directorio temporal; la secuencia remota empieza en start.
func New(t testing.TB, start int64) *Env {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tomas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Env{
		DB:      db,
		Remote:  fakeremote.New(start),
		Docs:    sqlite.NewDocumentRepository(db),
		Counts:  sqlite.NewCountLogRepository(db),
		Catalog: sqlite.NewCatalogRepository(db),
		Tx:      sqlite.NewTxRunner(db),
		Locks:   lock.NewKeyedMutex(),
	}
}

// Dec decimal desde texto.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Document toma de la sucursal 1 con una línea por cantidad esperada.
func Document(number int64, operator string, status entity.DocumentStatus, expected ...string) entity.Document {
	h := entity.InventoryDocument{
		Number: number, Branch: 1, Deposit: 10, Area: 1, Department: 2, Section: 3,
		TakeType: entity.TakeManual, CreatedBy: operator, CreatedAt: T0,
		Status: status, ClosingOperator: operator,
	}
	lines := make([]entity.InventoryLine, len(expected))
	for i, e := range expected {
		lines[i] = entity.InventoryLine{ArticleCode: "ART" + string(rune('A'+i)), Expected: Dec(e)}
	}
	return entity.Document{Header: h, Lines: entity.AssignSequences(number, lines)}
}

// Seed guarda el documento en el remoto y en la caché local.
func (e *Env) Seed(t testing.TB, doc entity.Document) {
	t.Helper()
	e.Remote.Seed(doc)
	require.NoError(t, e.Docs.Save(context.Background(), doc))
}
