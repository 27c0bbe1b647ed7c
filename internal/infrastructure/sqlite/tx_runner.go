package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
)

var _ ports.LocalTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta funciones dentro de una transacción local pasando repositorios que usan esa tx.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner crea un TxRunner.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

// Run abre una tx, ejecuta fn y hace Commit si fn no falla, Rollback en caso contrario.
// Dentro de fn sólo deben usarse los repositorios recibidos: la base tiene una única conexión.
func (r *TxRunner) Run(ctx context.Context, fn func(
	docRepo repository.DocumentRepository,
	countRepo repository.CountLogRepository,
) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(NewDocumentRepository(tx), NewCountLogRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
