package counting_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/toma-inventario/internal/application/counting"
	"github.com/jhoicas/toma-inventario/internal/application/dto"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/testutil/fixture"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

var (
	ana = entity.Session{Operator: "ana", Branch: 1}
	bea = entity.Session{Operator: "bea", Branch: 1}
)

func newAggregator(env *fixture.Env) *counting.Aggregator {
	return counting.NewAggregator(env.Remote, env.Tx, env.Docs, env.Counts, env.Locks, nil, nil)
}

func submit(t *testing.T, a *counting.Aggregator, s entity.Session, number int64, seq int, qty string) entity.CountLogEntry {
	t.Helper()
	e, err := a.SubmitCount(context.Background(), s, number, dto.SubmitCountRequest{Sequence: seq, Quantity: fixture.Dec(qty)})
	require.NoError(t, err)
	return e
}

func counted(t *testing.T, doc *entity.Document) []string {
	t.Helper()
	require.NotNil(t, doc)
	out := make([]string, len(doc.Lines))
	for i, l := range doc.Lines {
		if l.Counted == nil {
			out[i] = "-"
			continue
		}
		out[i] = l.Counted.String()
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Escenarios
// ──────────────────────────────────────────────────────────────────────────────

func TestConfirm_UnOperadorCuentaYCierra(t *testing.T) {
	env := fixture.New(t, 100)
	ctx := context.Background()

	create := inventory.NewCreateDocumentUseCase(env.Remote, env.Docs, env.Locks, nil, nil)
	res, err := create.CreateDocument(ctx, ana, dto.CreateDocumentRequest{
		Selection: dto.SelectionRequest{Branch: 1, Deposit: 10, Area: 1, Department: 2, Section: 3},
		Articles: []dto.ArticleRequest{
			{ArticleCode: "A", Expected: fixture.Dec("10")},
			{ArticleCode: "B", Expected: fixture.Dec("5")},
			{ArticleCode: "C", Expected: fixture.Dec("0")},
		},
	})
	require.NoError(t, err)

	agg := newAggregator(env)
	submit(t, agg, ana, res.Number, 1, "10")
	submit(t, agg, ana, res.Number, 2, "4")
	submit(t, agg, ana, res.Number, 3, "1")
	commitsBefore := env.Remote.Commits()

	summary, err := agg.Confirm(ctx, ana, res.Number)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, summary.Operators)
	assert.Equal(t, 3, summary.Consolidated)
	assert.Equal(t, commitsBefore+1, env.Remote.Commits())

	remote := env.Remote.Document(res.Number)
	assert.Equal(t, []string{"10", "4", "1"}, counted(t, remote))
	assert.Equal(t, entity.StatusClosed, remote.Header.Status)
	require.NotNil(t, remote.Header.ClosedAt)

	local, err := env.Docs.Get(ctx, res.Number)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusClosed, local.Header.Status)
	assert.Equal(t, []string{"10", "4", "1"}, counted(t, local))

	pending, err := env.Counts.ListByDocument(ctx, res.Number, entity.CountPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	done, err := env.Counts.ListByDocument(ctx, res.Number, entity.CountConsolidated)
	require.NoError(t, err)
	assert.Len(t, done, 3)
}

func TestConfirm_DosOperadoresSumanEnLaMismaLinea(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(100, "ana", entity.StatusActive, "1", "5", "1"))
	agg := newAggregator(env)

	submit(t, agg, ana, 100, 2, "1")
	submit(t, agg, bea, 100, 2, "2")
	submit(t, agg, ana, 100, 2, "3") // reemplaza el 1 de ana

	summary, err := agg.Confirm(context.Background(), bea, 100)
	require.NoError(t, err)
	require.Len(t, summary.Lines, 1)
	assert.Equal(t, "5", summary.Lines[0].Total.String())
	assert.Equal(t, []string{"ana", "bea"}, summary.Lines[0].Operators)
	assert.Equal(t, 2, summary.Consolidated)
	assert.Equal(t, 1, summary.Discarded)

	assert.Equal(t, []string{"-", "5", "-"}, counted(t, env.Remote.Document(100)))
	assert.Equal(t, "bea", env.Remote.Document(100).Header.ClosingOperator)

	discarded, err := env.Counts.ListByDocument(context.Background(), 100, entity.CountDiscarded)
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, "1", discarded[0].Quantity.String())
}

func TestConfirm_ConcurrentesNuncaConfirmanAmbos(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(7, "ana", entity.StatusActive, "1", "1"))
	agg := newAggregator(env)
	submit(t, agg, ana, 7, 1, "1")
	submit(t, agg, bea, 7, 2, "1")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, s := range []entity.Session{ana, bea} {
		wg.Add(1)
		go func(i int, s entity.Session) {
			defer wg.Done()
			_, errs[i] = agg.Confirm(context.Background(), s, 7)
		}(i, s)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrStateConflict):
			conflict++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)
	assert.Equal(t, 1, env.Remote.Commits())
}

func TestConfirm_BloqueoDelDocumentoSerializaLaConfirmacion(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(7, "ana", entity.StatusActive, "1", "1"))
	agg := newAggregator(env)
	submit(t, agg, ana, 7, 1, "1")
	submit(t, agg, bea, 7, 2, "1")

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	env.Remote.Hook("LockHeader", func() {
		once.Do(func() {
			close(entered)
			<-proceed
		})
	})

	var anaErr, beaErr error
	anaDone := make(chan struct{})
	go func() {
		defer close(anaDone)
		_, anaErr = agg.Confirm(context.Background(), ana, 7)
	}()
	<-entered

	// Con ana dentro de la transacción remota el documento sigue bloqueado.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := env.Locks.Lock(ctx, 7)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	beaDone := make(chan struct{})
	go func() {
		defer close(beaDone)
		_, beaErr = agg.Confirm(context.Background(), bea, 7)
	}()
	select {
	case <-beaDone:
		t.Fatal("la segunda confirmación no esperó al bloqueo del documento")
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	<-anaDone
	<-beaDone

	require.NoError(t, anaErr)
	assert.ErrorIs(t, beaErr, domain.ErrStateConflict)
	// bea ve la toma ya cerrada en local y no llega a abrir transacción remota.
	assert.Equal(t, 1, env.Remote.Calls("Begin"))
	assert.Equal(t, 1, env.Remote.Commits())
	assert.Equal(t, 1, env.Remote.Calls("LockHeader"))
}

func TestConfirm_FalloRemotoNoCambiaNadaLocal(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(8, "ana", entity.StatusActive, "1"))
	agg := newAggregator(env)
	submit(t, agg, ana, 8, 1, "4")
	env.Remote.Fail("UpdateLineCounts", domain.Wrap(domain.ErrConnectivity, "actualizar", context.DeadlineExceeded))

	_, err := agg.Confirm(context.Background(), ana, 8)
	assert.True(t, errors.Is(err, domain.ErrConnectivity))

	local, err := env.Docs.Get(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, local.Header.Status)
	assert.Equal(t, []string{"-"}, counted(t, local))
	pending, err := env.Counts.ListByDocument(context.Background(), 8, entity.CountPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, entity.StatusActive, env.Remote.Document(8).Header.Status)

	// Reintento sin fallo.
	_, err = agg.Confirm(context.Background(), ana, 8)
	require.NoError(t, err)
}

func TestConfirm_CerradoEnRemotoEsConflicto(t *testing.T) {
	env := fixture.New(t, 1)
	doc := fixture.Document(9, "ana", entity.StatusActive, "1")
	env.Seed(t, doc)
	agg := newAggregator(env)
	submit(t, agg, ana, 9, 1, "1")

	closed := doc
	closed.Header.Status = entity.StatusClosed
	env.Remote.Seed(closed)

	_, err := agg.Confirm(context.Background(), ana, 9)
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
	local, err := env.Docs.Get(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusActive, local.Header.Status)
}

func TestConfirm_SinConteos(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(11, "ana", entity.StatusActive, "1"))
	_, err := newAggregator(env).Confirm(context.Background(), ana, 11)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, env.Remote.Calls("Begin"))
}

// ──────────────────────────────────────────────────────────────────────────────
// SubmitCount / PendingDocuments
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitCount_Rechazos(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(1, "ana", entity.StatusActive, "1"))
	env.Seed(t, fixture.Document(2, "ana", entity.StatusCancelled, "1"))
	agg := newAggregator(env)
	ctx := context.Background()

	_, err := agg.SubmitCount(ctx, ana, 1, dto.SubmitCountRequest{Sequence: 1, Quantity: fixture.Dec("-1")})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = agg.SubmitCount(ctx, ana, 1, dto.SubmitCountRequest{Sequence: 4, Quantity: fixture.Dec("1")})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = agg.SubmitCount(ctx, ana, 2, dto.SubmitCountRequest{Sequence: 1, Quantity: fixture.Dec("1")})
	assert.True(t, errors.Is(err, domain.ErrStateConflict))
	_, err = agg.SubmitCount(ctx, ana, 3, dto.SubmitCountRequest{Sequence: 1, Quantity: fixture.Dec("1")})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = agg.SubmitCount(ctx, entity.Session{}, 1, dto.SubmitCountRequest{Sequence: 1, Quantity: fixture.Dec("1")})
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestSubmitCount_ParalelosSinPerderEntradas(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(5, "ana", entity.StatusActive, "1", "1", "1"))
	agg := newAggregator(env)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := entity.Session{Operator: fmt.Sprintf("op%d", i%4), Branch: 1}
			_, err := agg.SubmitCount(context.Background(), s, 5,
				dto.SubmitCountRequest{Sequence: i%3 + 1, Quantity: fixture.Dec("1")})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := env.Counts.ListByDocument(context.Background(), 5, entity.CountPending)
	require.NoError(t, err)
	require.Len(t, entries, 12)
	seen := map[[2]int64]bool{}
	for _, e := range entries {
		k := [2]int64{int64(e.Sequence), e.OrderIndex}
		assert.False(t, seen[k], "OrderIndex repetido %v", k)
		seen[k] = true
	}
}

func TestPendingDocuments_Proyeccion(t *testing.T) {
	env := fixture.New(t, 1)
	env.Seed(t, fixture.Document(3, "ana", entity.StatusActive, "1", "1"))
	env.Seed(t, fixture.Document(4, "ana", entity.StatusActive, "1"))
	agg := newAggregator(env)
	submit(t, agg, bea, 4, 1, "2")
	submit(t, agg, ana, 3, 1, "1")
	submit(t, agg, bea, 3, 1, "2.5")

	pending, err := agg.PendingDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.EqualValues(t, 3, pending[0].Header.Number)
	assert.Equal(t, []string{"ana", "bea"}, pending[0].Operators)
	require.Len(t, pending[0].Lines, 1)
	assert.Equal(t, "3.5", pending[0].Lines[0].Total.String())
	assert.Equal(t, "2.5", pending[0].Lines[0].PerOperator["bea"].String())
	assert.Equal(t, []string{"bea"}, pending[1].Operators)
}
