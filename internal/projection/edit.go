package projection

import (
	"fmt"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
)

// Tree edits for element-level writes. Callers clone the stored tree
// first, edit, then re-validate and re-canonicalize the whole submodel;
// these helpers only move nodes around.

// locate resolves the containing array and index of the element at path.
func locate(root *aas.Node, path string) (*aas.Node, int, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, 0, err
	}

	cur := root
	container := "submodelElements"
	var (
		arr *aas.Node
		idx int
	)
	for _, seg := range segs {
		arr = cur.Field(container)
		if arr == nil || arr.Kind != aas.NodeArray {
			return nil, 0, apierr.New(apierr.NotFound, fmt.Sprintf("element %q not found", path))
		}
		idx = -1
		for i, el := range arr.Items {
			if el.StringField("idShort") == seg.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, 0, apierr.New(apierr.NotFound, fmt.Sprintf("element %q not found", path))
		}
		node := arr.Items[idx]
		for _, j := range seg.indices {
			if node.ModelTypeOf() != aas.TypeSubmodelElementList {
				return nil, 0, apierr.New(apierr.NotFound, fmt.Sprintf("index into non-list at %q", path))
			}
			items := node.Field("value")
			if items == nil || items.Kind != aas.NodeArray || j >= len(items.Items) {
				return nil, 0, apierr.New(apierr.NotFound, fmt.Sprintf("index out of range at %q", path))
			}
			arr = items
			idx = j
			node = items.Items[j]
		}
		cur = node
		container = aas.ChildrenField(cur.ModelTypeOf())
	}
	return arr, idx, nil
}

// ReplaceElementAt swaps the element at path for el.
func ReplaceElementAt(root *aas.Node, path string, el *aas.Node) error {
	arr, idx, err := locate(root, path)
	if err != nil {
		return err
	}
	arr.Items[idx] = el
	return nil
}

// DeleteElementAt removes the element at path.
func DeleteElementAt(root *aas.Node, path string) error {
	arr, idx, err := locate(root, path)
	if err != nil {
		return err
	}
	arr.Items = append(arr.Items[:idx], arr.Items[idx+1:]...)
	return nil
}

// InsertElement appends el under parentPath ("" for the submodel's own
// element array). Duplicate sibling idShorts are rejected here; everything
// else is caught by whole-document revalidation.
func InsertElement(root *aas.Node, parentPath string, el *aas.Node) error {
	var (
		parent *aas.Node
		field  string
	)
	if parentPath == "" {
		parent = root
		field = "submodelElements"
	} else {
		p, err := ElementAt(root, parentPath)
		if err != nil {
			return err
		}
		field = aas.ChildrenField(p.ModelTypeOf())
		if field == "" {
			return apierr.New(apierr.ValidationError,
				fmt.Sprintf("%s cannot contain elements", p.ModelTypeOf()))
		}
		parent = p
	}

	arr := parent.Field(field)
	if arr == nil {
		arr = aas.Array()
		parent.SetField(field, arr)
	}
	if parentPath == "" || parent.ModelTypeOf() != aas.TypeSubmodelElementList {
		if short := el.StringField("idShort"); short != "" {
			for _, sib := range arr.Items {
				if sib.StringField("idShort") == short {
					return apierr.New(apierr.Conflict,
						fmt.Sprintf("idShort %q already present", short))
				}
			}
		}
	}
	arr.Items = append(arr.Items, el)
	return nil
}
