package postgres

import (
	"context"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/toma-inventario/internal/domain"
)

// Querier abstrae *pgxpool.Pool y pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation verifica si un error es una violación de constraint único (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// classify traduce un fallo de pgx a la taxonomía del motor.
// Timeout, red y clase 08 (conexión) → ErrConnectivity; 42501 → ErrAuthorization; clase 23 → ErrIntegrity.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return domain.Wrap(domain.ErrConnectivity, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01":
			return domain.Wrap(domain.ErrConnectivity, op, err)
		case pgErr.Code == "42501":
			return domain.Wrap(domain.ErrAuthorization, op, err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return domain.Wrap(domain.ErrIntegrity, op, err)
		}
		return &domain.Error{Kind: domain.ErrIntegrity, Op: op, Msg: "transacción remota rechazada", Err: err}
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return domain.Wrap(domain.ErrConnectivity, op, err)
	}
	return err
}

// normalizeText convierte a UTF-8 las descripciones que el sistema legado guarda en Windows-1252.
func normalizeText(s string) string {
	if utf8.ValidString(s) {
		return strings.TrimSpace(s)
	}
	out, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(strings.TrimSpace(s), "?")
	}
	return strings.TrimSpace(out)
}
