// Package sqlite implementa la caché local embebida (catálogo, documentos y diario de conteos)
// sobre SQLite puro Go, para operar sin conexión con el almacén remoto.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // driver sqlite puro Go
)

// Querier abstrae *sql.DB y *sql.Tx para que los repositorios funcionen dentro o fuera de una tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// builder squirrel con placeholders "?".
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// insertChunk filas por sentencia INSERT multi-fila (lejos del límite de variables de SQLite).
const insertChunk = 200

var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_nodes (
		node_type       TEXT    NOT NULL,
		code            INTEGER NOT NULL,
		description     TEXT    NOT NULL,
		branch_code     INTEGER NOT NULL DEFAULT 0,
		area_code       INTEGER NOT NULL DEFAULT 0,
		department_code INTEGER NOT NULL DEFAULT 0,
		section_code    INTEGER NOT NULL DEFAULT 0,
		family_code     INTEGER NOT NULL DEFAULT 0,
		group_code      INTEGER NOT NULL DEFAULT 0,
		synced_at       INTEGER NOT NULL,
		PRIMARY KEY (node_type, branch_code, area_code, department_code, section_code, family_code, group_code, code)
	)`,
	`CREATE TABLE IF NOT EXISTS inv_documents (
		number           INTEGER PRIMARY KEY,
		branch_code      INTEGER NOT NULL,
		deposit_code     INTEGER NOT NULL,
		area_code        INTEGER NOT NULL,
		department_code  INTEGER NOT NULL,
		section_code     INTEGER NOT NULL,
		family_code      INTEGER,
		groups_csv       TEXT    NOT NULL DEFAULT '',
		visible          INTEGER NOT NULL DEFAULT 1,
		take_type        TEXT    NOT NULL,
		created_by       TEXT    NOT NULL,
		created_at       INTEGER NOT NULL,
		status           TEXT    NOT NULL,
		closing_operator TEXT    NOT NULL DEFAULT '',
		closed_at        INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS inv_lines (
		document_number     INTEGER NOT NULL,
		sequence            INTEGER NOT NULL,
		article_code        TEXT    NOT NULL,
		article_description TEXT    NOT NULL DEFAULT '',
		lot                 TEXT    NOT NULL DEFAULT '',
		expiry_date         INTEGER,
		expected            TEXT    NOT NULL,
		counted             TEXT,
		area_desc           TEXT    NOT NULL DEFAULT '',
		department_desc     TEXT    NOT NULL DEFAULT '',
		section_desc        TEXT    NOT NULL DEFAULT '',
		family_desc         TEXT    NOT NULL DEFAULT '',
		group_desc          TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (document_number, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS inv_staging (
		number              INTEGER NOT NULL,
		branch_code         INTEGER NOT NULL,
		deposit_code        INTEGER NOT NULL,
		area_code           INTEGER NOT NULL,
		department_code     INTEGER NOT NULL,
		section_code        INTEGER NOT NULL,
		family_code         INTEGER,
		groups_csv          TEXT    NOT NULL DEFAULT '',
		visible             INTEGER NOT NULL DEFAULT 1,
		take_type           TEXT    NOT NULL,
		created_by          TEXT    NOT NULL,
		created_at          INTEGER NOT NULL,
		status              TEXT    NOT NULL,
		closing_operator    TEXT    NOT NULL DEFAULT '',
		closed_at           INTEGER,
		sequence            INTEGER NOT NULL,
		article_code        TEXT    NOT NULL,
		article_description TEXT    NOT NULL DEFAULT '',
		lot                 TEXT    NOT NULL DEFAULT '',
		expiry_date         INTEGER,
		expected            TEXT    NOT NULL,
		counted             TEXT,
		area_desc           TEXT    NOT NULL DEFAULT '',
		department_desc     TEXT    NOT NULL DEFAULT '',
		section_desc        TEXT    NOT NULL DEFAULT '',
		family_desc         TEXT    NOT NULL DEFAULT '',
		group_desc          TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (number, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS count_log (
		id              TEXT    PRIMARY KEY,
		document_number INTEGER NOT NULL,
		sequence        INTEGER NOT NULL,
		operator        TEXT    NOT NULL,
		quantity        TEXT    NOT NULL,
		order_index     INTEGER NOT NULL,
		captured_at     INTEGER NOT NULL,
		state           TEXT    NOT NULL,
		UNIQUE (document_number, sequence, order_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_count_log_doc_state ON count_log (document_number, state)`,
	`CREATE INDEX IF NOT EXISTS idx_inv_documents_status ON inv_documents (status, branch_code, closing_operator)`,
}

// Open abre (o crea) la base local y aplica el esquema.
// Una sola conexión: SQLite serializa escrituras y así se evitan SQLITE_BUSY entre goroutines.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = "tomas.db"
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("crear directorio local: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("abrir sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("aplicar esquema: %w", err)
		}
	}
	return db, nil
}

// inTx ejecuta fn en una transacción propia si q es el *sql.DB; si q ya es una tx la reutiliza.
func inTx(ctx context.Context, q Querier, fn func(Querier) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func exec(ctx context.Context, q Querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

// Los instantes se guardan como microsegundos Unix en UTC.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
