package projection

import (
	"github.com/titan-aas/titan/pkg/aas"
)

// ProjectSubmodel applies level and extent to a validated submodel tree and
// returns a new tree. The input is never mutated. The top-level elements
// are the submodel's direct children, so level=core strips their nested
// trees.
func ProjectSubmodel(root *aas.Node, m Modifiers) *aas.Node {
	out := root.Clone()
	if elems := out.Field("submodelElements"); elems != nil && elems.Kind == aas.NodeArray {
		for _, el := range elems.Items {
			projectElementInPlace(el, m, 1)
		}
	}
	return out
}

// ProjectElement applies level and extent to one element subtree and
// returns a new tree.
func ProjectElement(el *aas.Node, m Modifiers) *aas.Node {
	out := el.Clone()
	projectElementInPlace(out, m, 0)
	return out
}

// projectElementInPlace walks a cloned element. depth counts container
// levels below the projection root; level=core cuts children at depth 1.
func projectElementInPlace(el *aas.Node, m Modifiers, depth int) {
	mt := el.ModelTypeOf()

	if m.Extent == ExtentWithoutBlobValue && mt == aas.TypeBlob {
		el.DeleteField("value")
	}

	field := aas.ChildrenField(mt)
	if field == "" {
		return
	}
	children := el.Field(field)
	if children == nil || children.Kind != aas.NodeArray {
		return
	}
	if m.Level == LevelCore && depth >= 1 {
		el.DeleteField(field)
		return
	}
	for _, child := range children.Items {
		projectElementInPlace(child, m, depth+1)
	}
}

// HasBlob reports whether any element in the tree is a Blob. Used to decide
// whether the default extent actually changes the serialization.
func HasBlob(n *aas.Node) bool {
	if n == nil {
		return false
	}
	if n.ModelTypeOf() == aas.TypeBlob {
		return true
	}
	for i := range n.Members {
		if HasBlob(n.Members[i].Value) {
			return true
		}
	}
	for _, it := range n.Items {
		if HasBlob(it) {
			return true
		}
	}
	return false
}
