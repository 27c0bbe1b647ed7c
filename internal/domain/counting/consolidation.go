// Package counting implementa la consolidación de conteos de varios operadores (servicio de dominio).
package counting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// LineConsolidation resultado de consolidar una línea.
type LineConsolidation struct {
	Sequence    int
	PerOperator map[string]decimal.Decimal // último conteo de cada operador
	Operators   []string                   // operadores distintos, ordenados
	Total       decimal.Decimal            // suma de los últimos conteos por operador
	Winners     []string                   // IDs de las entradas consumidas
	Superseded  []string                   // IDs de entradas reemplazadas por una posterior del mismo operador
}

// Consolidate agrupa las entradas por línea: por cada operador gana la entrada con mayor OrderIndex
// (sobrescritura por operador) y la cantidad consolidada es la suma entre operadores.
// El resultado no depende del orden de las entradas recibidas.
func Consolidate(entries []entity.CountLogEntry) map[int]LineConsolidation {
	type key struct {
		seq int
		op  string
	}
	latest := make(map[key]entity.CountLogEntry)
	superseded := make(map[int][]string)
	for _, e := range entries {
		k := key{seq: e.Sequence, op: e.Operator}
		prev, ok := latest[k]
		if !ok {
			latest[k] = e
			continue
		}
		if newer(e, prev) {
			superseded[e.Sequence] = append(superseded[e.Sequence], prev.ID)
			latest[k] = e
		} else {
			superseded[e.Sequence] = append(superseded[e.Sequence], e.ID)
		}
	}

	out := make(map[int]LineConsolidation)
	for k, e := range latest {
		lc, ok := out[k.seq]
		if !ok {
			lc = LineConsolidation{Sequence: k.seq, PerOperator: make(map[string]decimal.Decimal), Total: decimal.Zero}
		}
		lc.PerOperator[k.op] = e.Quantity
		lc.Operators = append(lc.Operators, k.op)
		lc.Total = lc.Total.Add(e.Quantity)
		lc.Winners = append(lc.Winners, e.ID)
		out[k.seq] = lc
	}
	for seq, lc := range out {
		sort.Strings(lc.Operators)
		sort.Strings(lc.Winners)
		lc.Superseded = superseded[seq]
		sort.Strings(lc.Superseded)
		out[seq] = lc
	}
	return out
}

// newer desempata por OrderIndex y, ante un índice igual, por instante de captura e ID.
func newer(a, b entity.CountLogEntry) bool {
	if a.OrderIndex != b.OrderIndex {
		return a.OrderIndex > b.OrderIndex
	}
	if !a.CapturedAt.Equal(b.CapturedAt) {
		return a.CapturedAt.After(b.CapturedAt)
	}
	return a.ID > b.ID
}

// Operators devuelve los operadores distintos que contribuyeron en el conjunto consolidado.
func Operators(lines map[int]LineConsolidation) []string {
	seen := make(map[string]struct{})
	for _, lc := range lines {
		for _, op := range lc.Operators {
			seen[op] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}
