package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Taxonomía de fallos del motor de tomas. Cada *Error lleva uno de estos como Kind,
// de modo que errors.Is(err, domain.ErrStateConflict) funciona a través de los wraps.
var (
	// ErrConnectivity: almacén remoto inaccesible o timeout. Reintentable por el llamador.
	ErrConnectivity = errors.New("sin conexión con el almacén remoto")
	// ErrAuthorization: el operador no tiene derechos sobre la cabecera.
	ErrAuthorization = errors.New("operador sin derechos sobre el documento")
	// ErrIntegrity: transacción remota rechazada (p. ej. filas insertadas != esperadas).
	ErrIntegrity = errors.New("transacción remota rechazada por integridad")
	// ErrStateConflict: confirmación o anulación sobre un documento ya terminal.
	ErrStateConflict = errors.New("el documento ya está cerrado o anulado")
	// ErrPartialSync: un tipo del catálogo falló a mitad del refresco.
	ErrPartialSync = errors.New("sincronización de catálogo incompleta")
)

// Error es el error tipado del motor. Kind es uno de los centinelas de la taxonomía
// (o de los errores de dominio); Err es la causa original, si existe.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap expone tanto el Kind como la causa para errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError construye un *Error con la operación y un mensaje legible.
func NewError(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap envuelve una causa bajo un Kind de la taxonomía. Devuelve nil si err es nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// PartialSyncError informa cuántos tipos del catálogo se reemplazaron antes del fallo.
type PartialSyncError struct {
	Completed int
	Failed    string
	Err       error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("sincronización de catálogo incompleta: %d tipos completados, falló %q: %v",
		e.Completed, e.Failed, e.Err)
}

func (e *PartialSyncError) Unwrap() []error {
	return []error{ErrPartialSync, e.Err}
}

// KindOf devuelve la etiqueta de taxonomía de err, o "" si no es un error del motor.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialSync):
		return "partial_sync"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return ""
	}
}
