package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/domain/repository"
)

var _ repository.CatalogRepository = (*CatalogRepo)(nil)

var catalogColumns = []string{
	"node_type", "code", "description",
	"branch_code", "area_code", "department_code", "section_code", "family_code", "group_code",
	"synced_at",
}

// parentOrder desempate estable entre nodos del mismo tipo y código.
var parentOrder = []string{"branch_code", "area_code", "department_code", "section_code", "family_code", "group_code"}

type catalogRow struct {
	NodeType       string `db:"node_type"`
	Code           int64  `db:"code"`
	Description    string `db:"description"`
	BranchCode     int64  `db:"branch_code"`
	AreaCode       int64  `db:"area_code"`
	DepartmentCode int64  `db:"department_code"`
	SectionCode    int64  `db:"section_code"`
	FamilyCode     int64  `db:"family_code"`
	GroupCode      int64  `db:"group_code"`
	SyncedAt       int64  `db:"synced_at"`
}

func (r catalogRow) toEntity() entity.CatalogNode {
	return entity.CatalogNode{
		Type:        entity.NodeType(r.NodeType),
		Code:        r.Code,
		Description: r.Description,
		Parents: entity.ParentCodes{
			Branch:     r.BranchCode,
			Area:       r.AreaCode,
			Department: r.DepartmentCode,
			Section:    r.SectionCode,
			Family:     r.FamilyCode,
			Group:      r.GroupCode,
		},
		SyncedAt: fromMicros(r.SyncedAt),
	}
}

// CatalogRepo caché local del catálogo jerárquico (usable con db o tx).
type CatalogRepo struct {
	q Querier
}

// NewCatalogRepository construye el adaptador. Pasar db o tx (Querier).
func NewCatalogRepository(q Querier) *CatalogRepo {
	return &CatalogRepo{q: q}
}

// ReplaceAll borra todos los nodos del tipo e inserta los nuevos en una sola transacción local:
// un fallo o una cancelación deja el tipo como estaba.
func (r *CatalogRepo) ReplaceAll(ctx context.Context, t entity.NodeType, nodes []entity.CatalogNode) error {
	if !t.Valid() {
		return fmt.Errorf("tipo de nodo desconocido %q", t)
	}
	return inTx(ctx, r.q, func(q Querier) error {
		if _, err := exec(ctx, q, builder.Delete("catalog_nodes").Where(sq.Eq{"node_type": string(t)})); err != nil {
			return fmt.Errorf("borrar catálogo %s: %w", t, err)
		}
		for start := 0; start < len(nodes); start += insertChunk {
			end := min(start+insertChunk, len(nodes))
			ins := builder.Insert("catalog_nodes").Columns(catalogColumns...)
			for _, n := range nodes[start:end] {
				if n.Type != t {
					return fmt.Errorf("nodo %d de tipo %q en reemplazo de %q", n.Code, n.Type, t)
				}
				p := n.Parents
				ins = ins.Values(string(t), n.Code, n.Description,
					p.Branch, p.Area, p.Department, p.Section, p.Family, p.Group,
					toMicros(n.SyncedAt))
			}
			if _, err := exec(ctx, q, ins); err != nil {
				return fmt.Errorf("insertar catálogo %s: %w", t, err)
			}
		}
		return nil
	})
}

// ListByType lista los nodos de un tipo ordenados por código.
func (r *CatalogRepo) ListByType(ctx context.Context, t entity.NodeType) ([]entity.CatalogNode, error) {
	return r.list(ctx, builder.Select(catalogColumns...).From("catalog_nodes").
		Where(sq.Eq{"node_type": string(t)}).OrderBy(append([]string{"code"}, parentOrder...)...))
}

// ListAll lista el catálogo completo.
func (r *CatalogRepo) ListAll(ctx context.Context) ([]entity.CatalogNode, error) {
	return r.list(ctx, builder.Select(catalogColumns...).From("catalog_nodes").OrderBy(append([]string{"node_type", "code"}, parentOrder...)...))
}

// Get obtiene un nodo por tipo y código. Devuelve nil, nil si no existe.
// Si el código se repite bajo padres distintos devuelve el primero por cadena de ancestros.
func (r *CatalogRepo) Get(ctx context.Context, t entity.NodeType, code int64) (*entity.CatalogNode, error) {
	query, args, err := builder.Select(catalogColumns...).From("catalog_nodes").
		Where(sq.Eq{"node_type": string(t), "code": code}).
		OrderBy(parentOrder...).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row catalogRow
	if err := sqlscan.Get(ctx, r.q, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get catálogo: %w", err)
	}
	n := row.toEntity()
	return &n, nil
}

func (r *CatalogRepo) list(ctx context.Context, b sq.SelectBuilder) ([]entity.CatalogNode, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []catalogRow
	if err := sqlscan.Select(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listar catálogo: %w", err)
	}
	out := make([]entity.CatalogNode, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}
