package projection

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
)

// idShort paths address elements inside a submodel: dot-separated idShort
// segments, with [i] indexing into SubmodelElementList items, e.g.
// "Sensors[2].Reading". List items have no idShort of their own; an index
// is the only way to address them.

type pathSegment struct {
	name    string
	indices []int
}

// parsePath splits an idShort path into segments. Rejects empty segments,
// malformed brackets and non-numeric indices.
func parsePath(path string) ([]pathSegment, error) {
	if path == "" {
		return nil, apierr.New(apierr.ValidationError, "empty idShort path")
	}
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		name := part
		var indices []int
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			rest := name[open:]
			name = name[:open]
			for rest != "" {
				if rest[0] != '[' {
					return nil, apierr.New(apierr.ValidationError, fmt.Sprintf("malformed path segment %q", part))
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, apierr.New(apierr.ValidationError, fmt.Sprintf("unterminated index in %q", part))
				}
				idx, err := strconv.Atoi(rest[1:end])
				if err != nil || idx < 0 {
					return nil, apierr.New(apierr.ValidationError, fmt.Sprintf("bad index in %q", part))
				}
				indices = append(indices, idx)
				rest = rest[end+1:]
			}
			break
		}
		if name == "" && len(indices) == 0 {
			return nil, apierr.New(apierr.ValidationError, "empty path segment")
		}
		segs = append(segs, pathSegment{name: name, indices: indices})
	}
	return segs, nil
}

// ElementAt resolves an idShort path inside a submodel tree and returns the
// addressed element node (not a copy). NotFound when any segment misses.
func ElementAt(root *aas.Node, path string) (*aas.Node, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	cur := root
	container := "submodelElements"
	for _, seg := range segs {
		next, err := childByIDShort(cur, container, seg.name, path)
		if err != nil {
			return nil, err
		}
		for _, idx := range seg.indices {
			if next.ModelTypeOf() != aas.TypeSubmodelElementList {
				return nil, apierr.New(apierr.NotFound, fmt.Sprintf("index into non-list at %q", path))
			}
			items := next.Field("value")
			if items == nil || items.Kind != aas.NodeArray || idx >= len(items.Items) {
				return nil, apierr.New(apierr.NotFound, fmt.Sprintf("index out of range at %q", path))
			}
			next = items.Items[idx]
		}
		cur = next
		container = aas.ChildrenField(cur.ModelTypeOf())
	}
	return cur, nil
}

func childByIDShort(parent *aas.Node, container, name, path string) (*aas.Node, error) {
	if container == "" {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("no children at %q", path))
	}
	arr := parent.Field(container)
	if arr == nil || arr.Kind != aas.NodeArray {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("element %q not found", path))
	}
	for _, el := range arr.Items {
		if el.StringField("idShort") == name {
			return el, nil
		}
	}
	return nil, apierr.New(apierr.NotFound, fmt.Sprintf("element %q not found", path))
}

// Paths lists every addressable idShort path in a submodel tree, in
// document order. The $path serialization.
func Paths(root *aas.Node) []string {
	out := []string{}
	if elems := root.Field("submodelElements"); elems != nil && elems.Kind == aas.NodeArray {
		for _, el := range elems.Items {
			collectPaths(el, el.StringField("idShort"), &out)
		}
	}
	return out
}

// ElementPaths lists the addressable paths under one element, the element
// itself included, rooted at its own idShort.
func ElementPaths(el *aas.Node) []string {
	out := []string{}
	collectPaths(el, el.StringField("idShort"), &out)
	return out
}

func collectPaths(el *aas.Node, prefix string, out *[]string) {
	*out = append(*out, prefix)

	mt := el.ModelTypeOf()
	field := aas.ChildrenField(mt)
	if field == "" {
		return
	}
	children := el.Field(field)
	if children == nil || children.Kind != aas.NodeArray {
		return
	}
	if mt == aas.TypeSubmodelElementList {
		for i, child := range children.Items {
			collectPaths(child, fmt.Sprintf("%s[%d]", prefix, i), out)
		}
		return
	}
	for _, child := range children.Items {
		collectPaths(child, prefix+"."+child.StringField("idShort"), out)
	}
}
