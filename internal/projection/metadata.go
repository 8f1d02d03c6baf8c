package projection

import (
	"github.com/titan-aas/titan/pkg/aas"
)

// MetadataSubmodel serializes a submodel as its metadata form: the document
// without its element tree.
func MetadataSubmodel(root *aas.Node) *aas.Node {
	out := root.Clone()
	out.DeleteField("submodelElements")
	return out
}

// MetadataElement serializes one element as its metadata form: the element
// without its value-carrying fields.
func MetadataElement(el *aas.Node) *aas.Node {
	out := el.Clone()
	stripValueFields(out)
	return out
}

func stripValueFields(el *aas.Node) {
	switch el.ModelTypeOf() {
	case aas.TypeProperty, aas.TypeMultiLanguageProperty,
		aas.TypeReferenceElement, aas.TypeBlob, aas.TypeFile,
		aas.TypeSubmodelElementCollection, aas.TypeSubmodelElementList:
		el.DeleteField("value")
	case aas.TypeRange:
		el.DeleteField("min")
		el.DeleteField("max")
	case aas.TypeRelationshipElement:
		el.DeleteField("first")
		el.DeleteField("second")
	case aas.TypeAnnotatedRelationshipElement:
		el.DeleteField("first")
		el.DeleteField("second")
		el.DeleteField("annotations")
	case aas.TypeEntity:
		el.DeleteField("statements")
		el.DeleteField("globalAssetId")
		el.DeleteField("specificAssetIds")
	case aas.TypeBasicEventElement:
		el.DeleteField("observed")
	}
}
