package aas

// Node is one value of a parsed JSON document.
//
// The tree keeps everything the canonical form needs and nothing more:
// object member order is preserved as parsed (canonical encoding sorts at
// write time), array order is semantically meaningful and never reordered,
// and numbers are kept as verbatim text so the stored form is lossless.
//
// Null never appears in a stored tree: absent means omitted.

// NodeKind discriminates the JSON value variants.
type NodeKind int

const (
	NodeObject NodeKind = iota
	NodeArray
	NodeString
	NodeNumber
	NodeBool
	NodeNull
)

// Member is a single object member.
type Member struct {
	Key   string
	Value *Node
}

// Node is a tagged JSON value.
type Node struct {
	Kind    NodeKind
	Str     string   // NodeString
	Num     string   // NodeNumber, verbatim text form
	Bool    bool     // NodeBool
	Members []Member // NodeObject
	Items   []*Node  // NodeArray
}

// Object returns an empty object node.
func Object() *Node { return &Node{Kind: NodeObject} }

// Array returns an empty array node.
func Array() *Node { return &Node{Kind: NodeArray} }

// String returns a string node.
func String(s string) *Node { return &Node{Kind: NodeString, Str: s} }

// Number returns a number node carrying the verbatim text form.
func Number(text string) *Node { return &Node{Kind: NodeNumber, Num: text} }

// Boolean returns a bool node.
func Boolean(b bool) *Node { return &Node{Kind: NodeBool, Bool: b} }

// Field returns the value of an object member, or nil when absent or when
// the node is not an object.
func (n *Node) Field(key string) *Node {
	if n == nil || n.Kind != NodeObject {
		return nil
	}
	for i := range n.Members {
		if n.Members[i].Key == key {
			return n.Members[i].Value
		}
	}
	return nil
}

// StringField returns the string value of a member, or "" when the member is
// absent or not a string.
func (n *Node) StringField(key string) string {
	v := n.Field(key)
	if v == nil || v.Kind != NodeString {
		return ""
	}
	return v.Str
}

// SetField replaces or appends an object member.
func (n *Node) SetField(key string, v *Node) {
	if n == nil || n.Kind != NodeObject {
		return
	}
	for i := range n.Members {
		if n.Members[i].Key == key {
			n.Members[i].Value = v
			return
		}
	}
	n.Members = append(n.Members, Member{Key: key, Value: v})
}

// DeleteField removes an object member. Returns whether a member was removed.
func (n *Node) DeleteField(key string) bool {
	if n == nil || n.Kind != NodeObject {
		return false
	}
	for i := range n.Members {
		if n.Members[i].Key == key {
			n.Members = append(n.Members[:i], n.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Str: n.Str, Num: n.Num, Bool: n.Bool}
	if n.Members != nil {
		out.Members = make([]Member, len(n.Members))
		for i := range n.Members {
			out.Members[i] = Member{Key: n.Members[i].Key, Value: n.Members[i].Value.Clone()}
		}
	}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i := range n.Items {
			out.Items[i] = n.Items[i].Clone()
		}
	}
	return out
}

// ModelTypeOf returns the modelType tag of an element object ("" when absent).
func (n *Node) ModelTypeOf() ModelType {
	return ModelType(n.StringField("modelType"))
}
