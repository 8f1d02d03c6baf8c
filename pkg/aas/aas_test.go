package aas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(string(k))
		require.True(t, ok)
		require.Equal(t, k, got)
	}

	_, ok := ParseKind("Shell")
	require.False(t, ok)
	_, ok = ParseKind("")
	require.False(t, ok)

	got, ok := ParseKind("  submodel ")
	require.True(t, ok)
	require.Equal(t, KindSubmodel, got)
}

func TestChildrenField(t *testing.T) {
	require.Equal(t, "value", ChildrenField(TypeSubmodelElementCollection))
	require.Equal(t, "value", ChildrenField(TypeSubmodelElementList))
	require.Equal(t, "statements", ChildrenField(TypeEntity))
	require.Equal(t, "", ChildrenField(TypeProperty))
	require.Equal(t, "", ChildrenField(TypeOperation))

	require.True(t, HasChildren(TypeEntity))
	require.False(t, HasChildren(TypeBlob))
}

func TestNodeFieldAccess(t *testing.T) {
	n := Object()
	n.SetField("a", String("x"))
	n.SetField("b", Number("1.5"))

	require.Equal(t, "x", n.StringField("a"))
	require.Equal(t, "", n.StringField("b")) // not a string
	require.Equal(t, "", n.StringField("missing"))
	require.Nil(t, n.Field("missing"))

	n.SetField("a", String("y"))
	require.Equal(t, "y", n.StringField("a"))
	require.Len(t, n.Members, 2)

	require.True(t, n.DeleteField("a"))
	require.False(t, n.DeleteField("a"))
	require.Nil(t, n.Field("a"))

	// Non-object receivers are inert.
	arr := Array()
	require.Nil(t, arr.Field("a"))
	arr.SetField("a", String("x"))
	require.Nil(t, arr.Field("a"))
	var nilNode *Node
	require.Nil(t, nilNode.Field("a"))
	require.Equal(t, "", nilNode.StringField("a"))
}

func TestCloneIsDeep(t *testing.T) {
	child := Object()
	child.SetField("k", String("v"))
	n := Object()
	n.SetField("obj", child)
	arr := Array()
	arr.Items = append(arr.Items, String("s"))
	n.SetField("arr", arr)

	c := n.Clone()
	c.Field("obj").SetField("k", String("changed"))
	c.Field("arr").Items[0] = String("changed")

	require.Equal(t, "v", n.Field("obj").StringField("k"))
	require.Equal(t, "s", n.Field("arr").Items[0].Str)

	require.Nil(t, (*Node)(nil).Clone())
}

func TestExtractHeaderSubmodel(t *testing.T) {
	root := Object()
	root.SetField("id", String("urn:sm:1"))
	root.SetField("idShort", String("Ops"))
	root.SetField("kind", String("Template"))

	keys := Array()
	key := Object()
	key.SetField("type", String("GlobalReference"))
	key.SetField("value", String("urn:sem:op"))
	keys.Items = append(keys.Items, key)
	sem := Object()
	sem.SetField("type", String("ExternalReference"))
	sem.SetField("keys", keys)
	root.SetField("semanticId", sem)

	d := ExtractHeader(KindSubmodel, root)
	require.Equal(t, "urn:sm:1", d.ID)
	require.Equal(t, "Ops", d.IDShort)
	require.Equal(t, "Template", d.ModellingKind)
	require.Equal(t, "urn:sem:op", d.SemanticID)
	require.Empty(t, d.AssetIDs)
}

func TestExtractHeaderDescriptor(t *testing.T) {
	root := Object()
	root.SetField("id", String("urn:shell:1"))
	root.SetField("idShort", String("Pump"))
	root.SetField("assetKind", String("Instance"))

	d := ExtractHeader(KindShellDescriptor, root)
	require.Equal(t, "urn:shell:1", d.ID)
	require.Equal(t, "Pump", d.IDShort)
	// Descriptors carry no asset index.
	require.Empty(t, d.AssetKind)
	require.Empty(t, d.AssetIDs)
}
