package counting_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/toma-inventario/internal/domain/counting"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func entry(id string, seq int, op string, qty string, order int64) entity.CountLogEntry {
	return entity.CountLogEntry{
		ID: id, DocumentNumber: 100, Sequence: seq, Operator: op,
		Quantity: decimal.RequireFromString(qty), OrderIndex: order,
		CapturedAt: t0.Add(time.Duration(order) * time.Second), State: entity.CountPending,
	}
}

func TestConsolidate_UltimoPorOperadorSumaEntreOperadores(t *testing.T) {
	entries := []entity.CountLogEntry{
		entry("a1", 2, "ana", "1", 1),
		entry("b1", 2, "bea", "2", 2),
		entry("a2", 2, "ana", "3", 3),
		entry("c1", 1, "ana", "7", 1),
	}
	got := counting.Consolidate(entries)
	require.Len(t, got, 2)

	l2 := got[2]
	assert.Equal(t, "5", l2.Total.String())
	assert.Equal(t, []string{"ana", "bea"}, l2.Operators)
	assert.Equal(t, []string{"a2", "b1"}, l2.Winners)
	assert.Equal(t, []string{"a1"}, l2.Superseded)
	assert.Equal(t, "3", l2.PerOperator["ana"].String())

	assert.Equal(t, "7", got[1].Total.String())
	assert.Empty(t, got[1].Superseded)
	assert.Equal(t, []string{"ana", "bea"}, counting.Operators(got))
}

func TestConsolidate_NoDependeDelOrden(t *testing.T) {
	entries := []entity.CountLogEntry{
		entry("1", 1, "ana", "4", 1),
		entry("2", 1, "ana", "6", 2),
		entry("3", 1, "bea", "1.5", 3),
		entry("4", 2, "ana", "2", 1),
		entry("5", 2, "carla", "8", 2),
		entry("6", 2, "carla", "9", 3),
		entry("7", 3, "bea", "0", 1),
	}
	want := counting.Consolidate(entries)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]entity.CountLogEntry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, counting.Consolidate(shuffled))
	}
	assert.Equal(t, "7.5", want[1].Total.String())
	assert.Equal(t, "11", want[2].Total.String())
}

func TestConsolidate_DesempateConMismoIndice(t *testing.T) {
	a := entry("a", 1, "ana", "1", 5)
	b := entry("b", 1, "ana", "2", 5)
	b.CapturedAt = a.CapturedAt.Add(time.Millisecond)

	got := counting.Consolidate([]entity.CountLogEntry{b, a})
	assert.Equal(t, "2", got[1].Total.String())
	assert.Equal(t, []string{"a"}, got[1].Superseded)
}

func TestConsolidate_Vacio(t *testing.T) {
	assert.Empty(t, counting.Consolidate(nil))
	assert.Empty(t, counting.Operators(nil))
}
