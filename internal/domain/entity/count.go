package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CountState ciclo de vida de una entrada del diario de conteos.
type CountState string

const (
	CountPending      CountState = "pending"      // pendiente de consolidar
	CountConsolidated CountState = "consolidated" // consumida por una confirmación
	CountDiscarded    CountState = "discarded"    // superada o de una línea anulada
)

// CountLogEntry registro append-only de un conteo de un operador sobre una línea.
// OrderIndex crece de forma monótona por (documento, línea).
type CountLogEntry struct {
	ID             string
	DocumentNumber int64
	Sequence       int
	Operator       string
	Quantity       decimal.Decimal
	OrderIndex     int64
	CapturedAt     time.Time
	State          CountState
}

// Session operador que actúa en una operación del motor (sustituye al estado global de sesión).
type Session struct {
	Operator string
	Branch   int64
}

// Valid indica si la sesión identifica a un operador.
func (s Session) Valid() bool {
	return s.Operator != ""
}
