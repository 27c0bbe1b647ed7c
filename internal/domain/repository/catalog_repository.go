package repository

import (
	"context"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// CatalogRepository define el puerto de la caché local del catálogo.
type CatalogRepository interface {
	// ReplaceAll borra todos los nodos del tipo y los reinserta, de forma atómica para ese tipo.
	ReplaceAll(ctx context.Context, t entity.NodeType, nodes []entity.CatalogNode) error
	ListByType(ctx context.Context, t entity.NodeType) ([]entity.CatalogNode, error)
	ListAll(ctx context.Context) ([]entity.CatalogNode, error)
	Get(ctx context.Context, t entity.NodeType, code int64) (*entity.CatalogNode, error)
}
