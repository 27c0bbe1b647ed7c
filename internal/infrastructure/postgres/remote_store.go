package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/toma-inventario/internal/domain"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
	"github.com/jhoicas/toma-inventario/internal/wire"
)

var tracer = otel.Tracer("toma-inventario/remote")

var (
	_ repository.RemoteStore = (*RemoteStore)(nil)
	_ repository.RemoteTx     = (*remoteTx)(nil)
)

// RemoteOptions parámetros del almacén remoto.
type RemoteOptions struct {
	Timeout   time.Duration // timeout de cada llamada
	WebStatus string        // estado web de las cabeceras abiertas
}

// RemoteStore almacén central de tomas sobre PostgreSQL.
type RemoteStore struct {
	pool *pgxpool.Pool
	opts RemoteOptions
	now  func() time.Time
}

// NewRemoteStore construye el adaptador con el pool.
func NewRemoteStore(pool *pgxpool.Pool, opts RemoteOptions) *RemoteStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.WebStatus == "" {
		opts.WebStatus = "A"
	}
	return &RemoteStore{pool: pool, opts: opts, now: time.Now}
}

type remoteCatalogRow struct {
	Code           int64  `db:"code"`
	Description    string `db:"description"`
	BranchCode     int64  `db:"branch_code"`
	AreaCode       int64  `db:"area_code"`
	DepartmentCode int64  `db:"department_code"`
	SectionCode    int64  `db:"section_code"`
	FamilyCode     int64  `db:"family_code"`
	GroupCode      int64  `db:"group_code"`
}

type remoteHeaderRow struct {
	Number          int64      `db:"number"`
	BranchCode      int64      `db:"branch_code"`
	DepositCode     int64      `db:"deposit_code"`
	AreaCode        int64      `db:"area_code"`
	DepartmentCode  int64      `db:"department_code"`
	SectionCode     int64      `db:"section_code"`
	FamilyCode      *int64     `db:"family_code"`
	GroupsCSV       string     `db:"groups_csv"`
	Visible         bool       `db:"visible"`
	TakeType        string     `db:"take_type"`
	CreatedBy       string     `db:"created_by"`
	CreatedAt       time.Time  `db:"created_at"`
	Status          string     `db:"status"`
	ClosingOperator string     `db:"closing_operator"`
	ClosedAt        *time.Time `db:"closed_at"`
}

func (r remoteHeaderRow) toEntity() (entity.InventoryDocument, error) {
	groups, err := entity.ParseCodes(r.GroupsCSV)
	if err != nil {
		return entity.InventoryDocument{}, fmt.Errorf("documento %d: grupos %q: %w", r.Number, r.GroupsCSV, err)
	}
	return entity.InventoryDocument{
		Number:          r.Number,
		Branch:          r.BranchCode,
		Deposit:         r.DepositCode,
		Area:            r.AreaCode,
		Department:      r.DepartmentCode,
		Section:         r.SectionCode,
		Family:          r.FamilyCode,
		Groups:          groups,
		Visible:         r.Visible,
		TakeType:        entity.TakeType(r.TakeType),
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt.UTC(),
		Status:          entity.DocumentStatus(r.Status),
		ClosingOperator: r.ClosingOperator,
		ClosedAt:        r.ClosedAt,
	}, nil
}

type openDocumentRow struct {
	remoteHeaderRow
	Sequence           int                 `db:"sequence"`
	ArticleCode        string              `db:"article_code"`
	ArticleDescription string              `db:"article_description"`
	Lot                string              `db:"lot"`
	ExpiryDate         *time.Time          `db:"expiry_date"`
	Expected           decimal.Decimal     `db:"expected"`
	Counted            decimal.NullDecimal `db:"counted"`
	AreaDesc           string              `db:"area_desc"`
	DepartmentDesc     string              `db:"department_desc"`
	SectionDesc        string              `db:"section_desc"`
	FamilyDesc         string              `db:"family_desc"`
	GroupDesc          string              `db:"group_desc"`
}

// call abre un span y aplica el timeout de llamada remota.
func (s *RemoteStore) call(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		cancel()
	}
}

// FetchCatalog lee todos los nodos remotos de un tipo.
func (s *RemoteStore) FetchCatalog(ctx context.Context, t entity.NodeType) (nodes []entity.CatalogNode, err error) {
	ctx, done := s.call(ctx, "remote.fetch_catalog", attribute.String("node_type", string(t)))
	defer done(&err)

	query, args, err := catalogQuery(t)
	if err != nil {
		return nil, err
	}
	var rows []remoteCatalogRow
	if err := pgxscan.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, classify("fetch catálogo "+string(t), err)
	}
	nodes = make([]entity.CatalogNode, len(rows))
	for i, r := range rows {
		nodes[i] = entity.CatalogNode{
			Type:        t,
			Code:        r.Code,
			Description: normalizeText(r.Description),
			Parents: entity.ParentCodes{
				Branch:     r.BranchCode,
				Area:       r.AreaCode,
				Department: r.DepartmentCode,
				Section:    r.SectionCode,
				Family:     r.FamilyCode,
				Group:      r.GroupCode,
			},
		}
	}
	return nodes, nil
}

// FetchOpenDocuments hace la lectura ancha de documentos abiertos del alcance de sucursales.
func (s *RemoteStore) FetchOpenDocuments(ctx context.Context, branches []int64) (out []entity.DocumentRow, err error) {
	ctx, done := s.call(ctx, "remote.fetch_open_documents", attribute.Int64Slice("branches", branches))
	defer done(&err)

	query, args, err := openDocumentsQuery(branches, s.opts.WebStatus)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []openDocumentRow
	if err := pgxscan.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, classify("fetch documentos abiertos", err)
	}
	out = make([]entity.DocumentRow, 0, len(rows))
	for _, r := range rows {
		h, err := r.remoteHeaderRow.toEntity()
		if err != nil {
			return nil, err
		}
		line := entity.InventoryLine{
			DocumentNumber:     r.Number,
			Sequence:           r.Sequence,
			ArticleCode:        r.ArticleCode,
			ArticleDescription: normalizeText(r.ArticleDescription),
			Lot:                r.Lot,
			ExpiryDate:         r.ExpiryDate,
			Expected:           r.Expected,
			AreaDesc:           normalizeText(r.AreaDesc),
			DepartmentDesc:     normalizeText(r.DepartmentDesc),
			SectionDesc:        normalizeText(r.SectionDesc),
			FamilyDesc:         normalizeText(r.FamilyDesc),
			GroupDesc:          normalizeText(r.GroupDesc),
		}
		if r.Counted.Valid {
			c := r.Counted.Decimal
			line.Counted = &c
		}
		out = append(out, entity.DocumentRow{Header: h, Line: line})
	}
	return out, nil
}

// RunInTx ejecuta fn en una transacción remota. Commit si fn devuelve nil; Rollback explícito si no.
func (s *RemoteStore) RunInTx(ctx context.Context, fn func(tx repository.RemoteTx) error) (err error) {
	ctx, span := tracer.Start(ctx, "remote.transaction")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	beginCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	tx, err := s.pool.BeginTx(beginCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	cancel()
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(&remoteTx{store: s, tx: tx}); err != nil {
		// Rollback con contexto propio: ctx puede estar vencido.
		rbCtx, rbCancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer rbCancel()
		_ = tx.Rollback(rbCtx)
		return err
	}

	commitCtx, commitCancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer commitCancel()
	if err := tx.Commit(commitCtx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// remoteTx operaciones atadas a una transacción abierta.
type remoteTx struct {
	store *RemoteStore
	tx    pgx.Tx
}

func (t *remoteTx) NextDocumentNumber(ctx context.Context) (n int64, err error) {
	ctx, done := t.store.call(ctx, "remote.next_document_number")
	defer done(&err)
	if err := t.tx.QueryRow(ctx, "SELECT nextval('"+numberSequence+"')").Scan(&n); err != nil {
		return 0, classify("asignar número", err)
	}
	return n, nil
}

func (t *remoteTx) InsertHeader(ctx context.Context, h entity.InventoryDocument) (err error) {
	ctx, done := t.store.call(ctx, "remote.insert_header", attribute.Int64("document", h.Number))
	defer done(&err)
	query, args, err := insertHeaderQuery(h, t.store.opts.WebStatus)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return &domain.Error{Kind: domain.ErrIntegrity, Op: "insertar cabecera",
				Msg: fmt.Sprintf("el número %d ya existe", h.Number), Err: err}
		}
		return classify("insertar cabecera", err)
	}
	return nil
}

func (t *remoteTx) InsertLines(ctx context.Context, lines []entity.InventoryLine) (written int64, err error) {
	ctx, done := t.store.call(ctx, "remote.insert_lines", attribute.Int("lines", len(lines)))
	defer done(&err)
	for start := 0; start < len(lines); start += lineChunk {
		end := min(start+lineChunk, len(lines))
		query, args, err := insertLinesQuery(lines[start:end])
		if err != nil {
			return written, fmt.Errorf("build query: %w", err)
		}
		tag, err := t.tx.Exec(ctx, query, args...)
		if err != nil {
			return written, classify("insertar líneas", err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

func (t *remoteTx) LockHeader(ctx context.Context, number int64) (h *entity.InventoryDocument, err error) {
	ctx, done := t.store.call(ctx, "remote.lock_header", attribute.Int64("document", number))
	defer done(&err)
	query, args, err := lockHeaderQuery(number)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row remoteHeaderRow
	if err := pgxscan.Get(ctx, t.tx, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, classify("bloquear cabecera", err)
	}
	doc, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (t *remoteTx) UpdateLineCounts(ctx context.Context, number int64, lines []entity.InventoryLine) (updated int64, err error) {
	ctx, done := t.store.call(ctx, "remote.update_line_counts", attribute.Int64("document", number))
	defer done(&err)
	for _, l := range lines {
		if l.Counted == nil {
			continue
		}
		query, args, err := updateCountQuery(number, l.Sequence, *l.Counted)
		if err != nil {
			return updated, fmt.Errorf("build query: %w", err)
		}
		tag, err := t.tx.Exec(ctx, query, args...)
		if err != nil {
			return updated, classify("actualizar conteos", err)
		}
		updated += tag.RowsAffected()
	}
	return updated, nil
}

func (t *remoteTx) SetHeaderStatus(ctx context.Context, number int64, status entity.DocumentStatus, operator string, at time.Time) (n int64, err error) {
	ctx, done := t.store.call(ctx, "remote.set_header_status",
		attribute.Int64("document", number), attribute.String("status", string(status)))
	defer done(&err)
	query, args, err := setStatusQuery(number, status, operator, at)
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify("cambiar estado", err)
	}
	return tag.RowsAffected(), nil
}

// authorize bloquea la cabecera y comprueba que operator tenga derechos de cierre y que no sea terminal.
func (t *remoteTx) authorize(ctx context.Context, op string, number int64, operator string) error {
	h, err := t.LockHeader(ctx, number)
	if err != nil {
		return err
	}
	if h == nil {
		return &domain.Error{Kind: domain.ErrNotFound, Op: op, Msg: fmt.Sprintf("documento %d inexistente", number)}
	}
	if h.Status.IsTerminal() {
		return &domain.Error{Kind: domain.ErrStateConflict, Op: op,
			Msg: fmt.Sprintf("documento %d en estado %s", number, h.Status)}
	}
	if h.ClosingOperator != operator {
		return &domain.Error{Kind: domain.ErrAuthorization, Op: op,
			Msg: fmt.Sprintf("el operador %q no tiene derechos de cierre sobre %d", operator, number)}
	}
	return nil
}

func (t *remoteTx) DeleteLines(ctx context.Context, number int64, operator string, sequences []int) (n int64, err error) {
	if err := t.authorize(ctx, "anular líneas", number, operator); err != nil {
		return 0, err
	}
	ctx, done := t.store.call(ctx, "remote.delete_lines",
		attribute.Int64("document", number), attribute.IntSlice("sequences", sequences))
	defer done(&err)
	if len(sequences) == 0 {
		return 0, nil
	}
	query, args, err := deleteLinesQuery(number, sequences)
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify("anular líneas", err)
	}
	return tag.RowsAffected(), nil
}

func (t *remoteTx) CountLines(ctx context.Context, number int64) (n int, err error) {
	ctx, done := t.store.call(ctx, "remote.count_lines", attribute.Int64("document", number))
	defer done(&err)
	query, args, err := countLinesQuery(number)
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify("contar líneas", err)
	}
	return n, nil
}

func (t *remoteTx) CancelHeader(ctx context.Context, number int64, operator string, at time.Time) (int64, error) {
	if err := t.authorize(ctx, "anular documento", number, operator); err != nil {
		return 0, err
	}
	return t.SetHeaderStatus(ctx, number, entity.StatusCancelled, operator, at)
}

func (t *remoteTx) InsertVerification(ctx context.Context, batchID, operator string, item wire.CountBatchItem) (n int64, err error) {
	ctx, done := t.store.call(ctx, "remote.insert_verification",
		attribute.String("batch", batchID), attribute.Int64("document", item.Header.Number))
	defer done(&err)
	if len(item.Lines) == 0 {
		return 0, nil
	}
	query, args, err := insertVerificationQuery(batchID, operator, t.store.now(), item)
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify("insertar verificación", err)
	}
	return tag.RowsAffected(), nil
}
