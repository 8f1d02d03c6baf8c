package aas

// Document pairs the parsed tree of a validated entity with the header
// fields the store indexes. The tree is authoritative for serialization;
// the header fields exist only so the store can filter without touching
// the tree.
type Document struct {
	Kind    Kind
	ID      string
	IDShort string

	// Submodel only.
	SemanticID    string
	ModellingKind string

	// Shell only.
	AssetKind     string
	GlobalAssetID string
	AssetIDs      []string // globalAssetId + specificAssetIds values, discovery index

	Root *Node
}

// ExtractHeader fills the indexed header fields from the tree. The tree must
// already be validated; extraction is purely positional.
func ExtractHeader(kind Kind, root *Node) *Document {
	d := &Document{Kind: kind, Root: root}
	d.ID = root.StringField("id")
	d.IDShort = root.StringField("idShort")

	switch kind {
	case KindShell:
		if ai := root.Field("assetInformation"); ai != nil {
			d.AssetKind = ai.StringField("assetKind")
			d.GlobalAssetID = ai.StringField("globalAssetId")
			if d.GlobalAssetID != "" {
				d.AssetIDs = append(d.AssetIDs, d.GlobalAssetID)
			}
			if sa := ai.Field("specificAssetIds"); sa != nil && sa.Kind == NodeArray {
				for _, it := range sa.Items {
					if v := it.StringField("value"); v != "" {
						d.AssetIDs = append(d.AssetIDs, v)
					}
				}
			}
		}
	case KindSubmodel:
		d.ModellingKind = root.StringField("kind")
		if sem := root.Field("semanticId"); sem != nil {
			d.SemanticID = firstKeyValue(sem)
		}
	case KindShellDescriptor, KindSubmodelDescriptor:
		// Descriptors index by id/idShort only.
	}
	return d
}

// firstKeyValue returns the value of the first key of a Reference object.
// References are {"type": ..., "keys": [{"type": ..., "value": ...}, ...]};
// the first key value is what semanticId filters match on.
func firstKeyValue(ref *Node) string {
	keys := ref.Field("keys")
	if keys == nil || keys.Kind != NodeArray || len(keys.Items) == 0 {
		return ""
	}
	return keys.Items[0].StringField("value")
}
