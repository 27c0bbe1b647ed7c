package entity

import (
	"fmt"
	"time"
)

// NodeType identifica el tipo de nodo del catálogo jerárquico.
type NodeType string

// Tipos de nodo del catálogo.
const (
	NodeBranch     NodeType = "branch"     // sucursal
	NodeDeposit    NodeType = "deposit"    // depósito
	NodeArea       NodeType = "area"       // área
	NodeDepartment NodeType = "department" // departamento
	NodeSection    NodeType = "section"    // sección
	NodeFamily     NodeType = "family"     // familia
	NodeGroup      NodeType = "group"      // grupo
	NodeSubgroup   NodeType = "subgroup"   // subgrupo
)

// CatalogSyncOrder es el orden de reemplazo del catálogo: los ancestros siempre antes que sus hijos,
// y el mapeo sucursal/depósito al final.
var CatalogSyncOrder = []NodeType{
	NodeArea,
	NodeDepartment,
	NodeSection,
	NodeFamily,
	NodeGroup,
	NodeSubgroup,
	NodeBranch,
	NodeDeposit,
}

// Valid indica si t es uno de los ocho tipos conocidos.
func (t NodeType) Valid() bool {
	switch t {
	case NodeBranch, NodeDeposit, NodeArea, NodeDepartment, NodeSection, NodeFamily, NodeGroup, NodeSubgroup:
		return true
	}
	return false
}

// RequiredParents devuelve los tipos ancestros cuyos códigos debe llevar un nodo de tipo t.
func (t NodeType) RequiredParents() []NodeType {
	switch t {
	case NodeDeposit:
		return []NodeType{NodeBranch}
	case NodeDepartment:
		return []NodeType{NodeArea}
	case NodeSection:
		return []NodeType{NodeArea, NodeDepartment}
	case NodeFamily:
		return []NodeType{NodeArea, NodeDepartment, NodeSection}
	case NodeGroup:
		return []NodeType{NodeArea, NodeDepartment, NodeSection, NodeFamily}
	case NodeSubgroup:
		return []NodeType{NodeArea, NodeDepartment, NodeSection, NodeFamily, NodeGroup}
	default:
		return nil
	}
}

// ParentCodes es la tupla de códigos ancestros de un nodo. Cero = no aplica.
type ParentCodes struct {
	Branch     int64
	Area       int64
	Department int64
	Section    int64
	Family     int64
	Group      int64
}

// Code devuelve el código del ancestro de tipo t.
func (p ParentCodes) Code(t NodeType) int64 {
	switch t {
	case NodeBranch:
		return p.Branch
	case NodeArea:
		return p.Area
	case NodeDepartment:
		return p.Department
	case NodeSection:
		return p.Section
	case NodeFamily:
		return p.Family
	case NodeGroup:
		return p.Group
	default:
		return 0
	}
}

// CatalogNode es un nodo del catálogo replicado localmente. Nunca se modifica individualmente:
// la sincronización reemplaza la tabla completa de su tipo.
type CatalogNode struct {
	Type        NodeType
	Code        int64
	Description string
	Parents     ParentCodes
	SyncedAt    time.Time
}

// Key identifica el nodo dentro de todo el catálogo.
func (n CatalogNode) Key() NodeKey {
	return NodeKey{Type: n.Type, Code: n.Code}
}

// ChainKey es la clave de la cadena de ancestros incluyendo al propio nodo; un hijo válido
// apunta exactamente a la ChainKey de su padre.
func (n CatalogNode) ChainKey() string {
	return chainKey(n.Type, n.Code, n.Parents)
}

// ParentChainKey es la ChainKey que debe existir en el padre inmediato de este nodo.
// Devuelve "" si el tipo no tiene padre.
func (n CatalogNode) ParentChainKey() string {
	req := n.Type.RequiredParents()
	if len(req) == 0 {
		return ""
	}
	parentType := req[len(req)-1]
	var pp ParentCodes
	for _, t := range parentType.RequiredParents() {
		setParent(&pp, t, n.Parents.Code(t))
	}
	return chainKey(parentType, n.Parents.Code(parentType), pp)
}

func chainKey(t NodeType, code int64, p ParentCodes) string {
	key := string(t)
	for _, pt := range t.RequiredParents() {
		key += fmt.Sprintf("/%s=%d", pt, p.Code(pt))
	}
	return fmt.Sprintf("%s/%d", key, code)
}

func setParent(p *ParentCodes, t NodeType, code int64) {
	switch t {
	case NodeBranch:
		p.Branch = code
	case NodeArea:
		p.Area = code
	case NodeDepartment:
		p.Department = code
	case NodeSection:
		p.Section = code
	case NodeFamily:
		p.Family = code
	case NodeGroup:
		p.Group = code
	}
}

// NodeKey identifica un nodo por tipo y código.
type NodeKey struct {
	Type NodeType
	Code int64
}
