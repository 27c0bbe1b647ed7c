// Package fakeremote es un almacén remoto en memoria para tests: transacciones copy-on-write,
// serializadas, con inyección de fallos por método.
package fakeremote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/internal/wire"
)

var (
	_ repository.RemoteStore = (*Store)(nil)
	_ repository.RemoteTx     = (*tx)(nil)
)

// Verification fila de la tabla remota de verificación.
type Verification struct {
	BatchID  string
	Operator string
	Item     wire.CountBatchItem
}

type state struct {
	seq           int64
	headers       map[int64]entity.InventoryDocument
	lines         map[int64]map[int]entity.InventoryLine
	verifications []Verification
}

func (s *state) clone() *state {
	c := &state{
		seq:           s.seq,
		headers:       make(map[int64]entity.InventoryDocument, len(s.headers)),
		lines:         make(map[int64]map[int]entity.InventoryLine, len(s.lines)),
		verifications: append([]Verification(nil), s.verifications...),
	}
	for k, v := range s.headers {
		c.headers[k] = v
	}
	for k, ls := range s.lines {
		m := make(map[int]entity.InventoryLine, len(ls))
		for seq, l := range ls {
			m[seq] = l
		}
		c.lines[k] = m
	}
	return c
}

// Store implementa repository.RemoteStore en memoria.
type Store struct {
	txMu sync.Mutex // una transacción a la vez (equivale a bloquear la cabecera)

	mu       sync.Mutex
	st       *state
	catalog  map[entity.NodeType][]entity.CatalogNode
	faults   map[string][]error
	hooks    map[string]func()
	calls    map[string]int
	commits  int
	rollback int
}

// New crea un almacén vacío; la secuencia de números empieza en start.
func New(start int64) *Store {
	return &Store{
		st:      &state{seq: start - 1, headers: map[int64]entity.InventoryDocument{}, lines: map[int64]map[int]entity.InventoryLine{}},
		catalog: map[entity.NodeType][]entity.CatalogNode{},
		faults:  map[string][]error{},
		hooks:   map[string]func(){},
		calls:   map[string]int{},
	}
}

// SetCatalog fija los nodos remotos de un tipo.
func (s *Store) SetCatalog(t entity.NodeType, nodes []entity.CatalogNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[t] = append([]entity.CatalogNode(nil), nodes...)
}

// Seed inserta un documento directamente (fuera de transacción).
func (s *Store) Seed(doc entity.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.headers[doc.Header.Number] = doc.Header
	m := make(map[int]entity.InventoryLine, len(doc.Lines))
	for _, l := range doc.Lines {
		l.DocumentNumber = doc.Header.Number
		m[l.Sequence] = l
	}
	s.st.lines[doc.Header.Number] = m
	if doc.Header.Number > s.st.seq {
		s.st.seq = doc.Header.Number
	}
}

// Fail hace que las próximas llamadas a method devuelvan los errores indicados, uno por llamada.
func (s *Store) Fail(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = append(s.faults[method], errs...)
}

// Hook ejecuta fn al entrar en method (p. ej. para sincronizar goroutines en tests).
func (s *Store) Hook(method string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[method] = fn
}

// Calls cantidad de llamadas a method.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Commits cantidad de transacciones confirmadas.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks cantidad de transacciones revertidas.
func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollback
}

// Document devuelve el documento confirmado (cabecera + líneas ordenadas), o nil si no existe.
func (s *Store) Document(number int64) *entity.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.st.headers[number]
	if !ok {
		return nil
	}
	return &entity.Document{Header: h, Lines: sortedLines(s.st.lines[number])}
}

// LineCount filas confirmadas del documento (existan o no la cabecera).
func (s *Store) LineCount(number int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.lines[number])
}

// Verifications filas confirmadas de verificación.
func (s *Store) Verifications() []Verification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Verification(nil), s.st.verifications...)
}

func sortedLines(m map[int]entity.InventoryLine) []entity.InventoryLine {
	out := make([]entity.InventoryLine, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// enter registra la llamada, ejecuta el hook y devuelve el fallo inyectado, si hay.
func (s *Store) enter(ctx context.Context, method string) error {
	s.mu.Lock()
	s.calls[method]++
	hook := s.hooks[method]
	var err error
	if q := s.faults[method]; len(q) > 0 {
		err, s.faults[method] = q[0], q[1:]
	}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Wrap(domain.ErrConnectivity, method, ctxErr)
	}
	return nil
}

func (s *Store) FetchCatalog(ctx context.Context, t entity.NodeType) ([]entity.CatalogNode, error) {
	if err := s.enter(ctx, "FetchCatalog"); err != nil {
		return nil, err
	}
	if err := s.enter(ctx, "FetchCatalog:"+string(t)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.CatalogNode(nil), s.catalog[t]...), nil
}

func (s *Store) FetchOpenDocuments(ctx context.Context, branches []int64) ([]entity.DocumentRow, error) {
	if err := s.enter(ctx, "FetchOpenDocuments"); err != nil {
		return nil, err
	}
	inScope := func(b int64) bool {
		if len(branches) == 0 {
			return true
		}
		for _, x := range branches {
			if x == b {
				return true
			}
		}
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	numbers := make([]int64, 0, len(s.st.headers))
	for n := range s.st.headers {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	var rows []entity.DocumentRow
	for _, n := range numbers {
		h := s.st.headers[n]
		if h.Status.IsTerminal() || !inScope(h.Branch) {
			continue
		}
		for _, l := range sortedLines(s.st.lines[n]) {
			rows = append(rows, entity.DocumentRow{Header: h, Line: l})
		}
	}
	return rows, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(repository.RemoteTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := s.enter(ctx, "Begin"); err != nil {
		return err
	}
	s.mu.Lock()
	work := s.st.clone()
	s.mu.Unlock()

	t := &tx{store: s, st: work}
	if err := fn(t); err != nil {
		s.mu.Lock()
		s.rollback++
		s.mu.Unlock()
		return err
	}
	if err := s.enter(ctx, "Commit"); err != nil {
		s.mu.Lock()
		s.rollback++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.st = work
	s.commits++
	s.mu.Unlock()
	return nil
}

type tx struct {
	store *Store
	st    *state
}

func (t *tx) NextDocumentNumber(ctx context.Context) (int64, error) {
	if err := t.store.enter(ctx, "NextDocumentNumber"); err != nil {
		return 0, err
	}
	// La secuencia no participa del rollback, como nextval.
	t.store.mu.Lock()
	t.store.st.seq++
	n := t.store.st.seq
	t.store.mu.Unlock()
	t.st.seq = n
	return n, nil
}

func (t *tx) InsertHeader(ctx context.Context, h entity.InventoryDocument) error {
	if err := t.store.enter(ctx, "InsertHeader"); err != nil {
		return err
	}
	if _, ok := t.st.headers[h.Number]; ok {
		return domain.NewError(domain.ErrIntegrity, "insertar cabecera", fmt.Sprintf("el número %d ya existe", h.Number))
	}
	t.st.headers[h.Number] = h
	t.st.lines[h.Number] = map[int]entity.InventoryLine{}
	return nil
}

func (t *tx) InsertLines(ctx context.Context, lines []entity.InventoryLine) (int64, error) {
	if err := t.store.enter(ctx, "InsertLines"); err != nil {
		return 0, err
	}
	var n int64
	for _, l := range lines {
		m, ok := t.st.lines[l.DocumentNumber]
		if !ok {
			return n, domain.NewError(domain.ErrIntegrity, "insertar líneas", fmt.Sprintf("cabecera %d inexistente", l.DocumentNumber))
		}
		if _, dup := m[l.Sequence]; dup {
			return n, domain.NewError(domain.ErrIntegrity, "insertar líneas", fmt.Sprintf("línea %d/%d duplicada", l.DocumentNumber, l.Sequence))
		}
		m[l.Sequence] = l
		n++
	}
	return n, nil
}

func (t *tx) LockHeader(ctx context.Context, number int64) (*entity.InventoryDocument, error) {
	if err := t.store.enter(ctx, "LockHeader"); err != nil {
		return nil, err
	}
	h, ok := t.st.headers[number]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (t *tx) UpdateLineCounts(ctx context.Context, number int64, lines []entity.InventoryLine) (int64, error) {
	if err := t.store.enter(ctx, "UpdateLineCounts"); err != nil {
		return 0, err
	}
	var n int64
	for _, l := range lines {
		if l.Counted == nil {
			continue
		}
		cur, ok := t.st.lines[number][l.Sequence]
		if !ok {
			continue
		}
		c := *l.Counted
		cur.Counted = &c
		t.st.lines[number][l.Sequence] = cur
		n++
	}
	return n, nil
}

func (t *tx) SetHeaderStatus(ctx context.Context, number int64, status entity.DocumentStatus, operator string, at time.Time) (int64, error) {
	if err := t.store.enter(ctx, "SetHeaderStatus"); err != nil {
		return 0, err
	}
	return t.setStatus(number, status, operator, at), nil
}

func (t *tx) setStatus(number int64, status entity.DocumentStatus, operator string, at time.Time) int64 {
	h, ok := t.st.headers[number]
	if !ok {
		return 0
	}
	h.Status = status
	if operator != "" {
		h.ClosingOperator = operator
	}
	if status.IsTerminal() {
		ts := at.UTC()
		h.ClosedAt = &ts
	}
	t.st.headers[number] = h
	return 1
}

func (t *tx) authorize(op string, number int64, operator string) error {
	h, ok := t.st.headers[number]
	switch {
	case !ok:
		return domain.NewError(domain.ErrNotFound, op, fmt.Sprintf("documento %d inexistente", number))
	case h.Status.IsTerminal():
		return domain.NewError(domain.ErrStateConflict, op, fmt.Sprintf("documento %d en estado %s", number, h.Status))
	case h.ClosingOperator != operator:
		return domain.NewError(domain.ErrAuthorization, op, fmt.Sprintf("el operador %q no tiene derechos de cierre sobre %d", operator, number))
	}
	return nil
}

func (t *tx) DeleteLines(ctx context.Context, number int64, operator string, sequences []int) (int64, error) {
	if err := t.store.enter(ctx, "DeleteLines"); err != nil {
		return 0, err
	}
	if err := t.authorize("anular líneas", number, operator); err != nil {
		return 0, err
	}
	var n int64
	for _, seq := range sequences {
		if _, ok := t.st.lines[number][seq]; ok {
			delete(t.st.lines[number], seq)
			n++
		}
	}
	return n, nil
}

func (t *tx) CountLines(ctx context.Context, number int64) (int, error) {
	if err := t.store.enter(ctx, "CountLines"); err != nil {
		return 0, err
	}
	return len(t.st.lines[number]), nil
}

func (t *tx) CancelHeader(ctx context.Context, number int64, operator string, at time.Time) (int64, error) {
	if err := t.store.enter(ctx, "CancelHeader"); err != nil {
		return 0, err
	}
	if err := t.authorize("anular documento", number, operator); err != nil {
		return 0, err
	}
	return t.setStatus(number, entity.StatusCancelled, operator, at), nil
}

func (t *tx) InsertVerification(ctx context.Context, batchID, operator string, item wire.CountBatchItem) (int64, error) {
	if err := t.store.enter(ctx, "InsertVerification"); err != nil {
		return 0, err
	}
	t.st.verifications = append(t.st.verifications, Verification{BatchID: batchID, Operator: operator, Item: item})
	return int64(len(item.Lines)), nil
}
