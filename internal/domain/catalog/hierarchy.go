// Package catalog contiene la lógica pura sobre la jerarquía del catálogo replicado
// (área → departamento → sección → familia → grupo → subgrupo, sucursal → depósito).
package catalog

import (
	"sort"

	"github.com/jhoicas/toma-inventario/internal/domain/entity"
)

// Orphan nodo cuya tupla de ancestros no corresponde a ningún padre existente.
type Orphan struct {
	Node           entity.CatalogNode
	MissingParent  entity.NodeType
	ParentChainKey string
}

// ValidateHierarchy comprueba a nivel de agregado que cada nodo apunte a una cadena de ancestros
// existente. Se ejecuta cuando la sincronización terminó, nunca fila a fila.
func ValidateHierarchy(nodes []entity.CatalogNode) []Orphan {
	chains := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		chains[n.ChainKey()] = struct{}{}
	}
	var orphans []Orphan
	for _, n := range nodes {
		parentKey := n.ParentChainKey()
		if parentKey == "" {
			continue
		}
		if _, ok := chains[parentKey]; !ok {
			req := n.Type.RequiredParents()
			orphans = append(orphans, Orphan{
				Node:           n,
				MissingParent:  req[len(req)-1],
				ParentChainKey: parentKey,
			})
		}
	}
	return orphans
}

// GroupSelection selección jerárquica usada para resolver subgrupos. Family nil = todas las familias;
// Groups vacío = todos los grupos de la(s) familia(s).
type GroupSelection struct {
	Area       int64
	Department int64
	Section    int64
	Family     *int64
	Groups     []int64
}

// ResolveSubgroups filtra los subgrupos del catálogo cuya tupla de ancestros cae dentro de la selección.
// Es el único recorrido grupo → subgrupo del motor; opera sobre el catálogo en memoria.
func ResolveSubgroups(nodes []entity.CatalogNode, sel GroupSelection) []entity.CatalogNode {
	groups := make(map[int64]struct{}, len(sel.Groups))
	for _, g := range sel.Groups {
		groups[g] = struct{}{}
	}
	var out []entity.CatalogNode
	for _, n := range nodes {
		if n.Type != entity.NodeSubgroup {
			continue
		}
		p := n.Parents
		if p.Area != sel.Area || p.Department != sel.Department || p.Section != sel.Section {
			continue
		}
		if sel.Family != nil && p.Family != *sel.Family {
			continue
		}
		if len(groups) > 0 {
			if _, ok := groups[p.Group]; !ok {
				continue
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parents.Family != out[j].Parents.Family {
			return out[i].Parents.Family < out[j].Parents.Family
		}
		if out[i].Parents.Group != out[j].Parents.Group {
			return out[i].Parents.Group < out[j].Parents.Group
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// Children devuelve los hijos directos de parent dentro de nodes.
func Children(nodes []entity.CatalogNode, parent entity.CatalogNode) []entity.CatalogNode {
	want := parent.ChainKey()
	var out []entity.CatalogNode
	for _, n := range nodes {
		if n.ParentChainKey() == want {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
