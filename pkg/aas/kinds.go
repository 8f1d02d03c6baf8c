package aas

import "strings"

// AAS metamodel vocabulary (v0)
//
// This package holds the closed vocabulary of the Asset Administration Shell
// metamodel as served by Titan: entity kinds, element model types, asset and
// submodel kinds, and the xs:* value type set. The sets are CLOSED; parsing
// and validation dispatch on them and reject anything else.
//
// String values follow the IDTA serialization, so they appear verbatim in
// canonical bytes and on the wire.

// Kind identifies the top-level entity family a stored record belongs to.
type Kind string

const (
	KindShell              Kind = "shell"
	KindSubmodel           Kind = "submodel"
	KindConceptDescription Kind = "concept-description"
	KindShellDescriptor    Kind = "shell-descriptor"
	KindSubmodelDescriptor Kind = "submodel-descriptor"
)

var allKinds = []Kind{
	KindShell,
	KindSubmodel,
	KindConceptDescription,
	KindShellDescriptor,
	KindSubmodelDescriptor,
}

// ParseKind validates a kind string. Matching is exact (lower-case, dashed).
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.TrimSpace(s))
	for _, known := range allKinds {
		if k == known {
			return known, true
		}
	}
	return "", false
}

// Kinds returns the closed set of entity kinds in stable order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// AssetKind values allowed in assetInformation.assetKind.
const (
	AssetKindInstance      = "Instance"
	AssetKindTemplate      = "Template"
	AssetKindNotApplicable = "NotApplicable"
)

// ValidAssetKind reports whether s is a member of the assetKind enum.
func ValidAssetKind(s string) bool {
	switch s {
	case AssetKindInstance, AssetKindTemplate, AssetKindNotApplicable:
		return true
	}
	return false
}

// ModellingKind values allowed in a Submodel's kind field.
const (
	ModellingKindInstance = "Instance"
	ModellingKindTemplate = "Template"
)

// ValidModellingKind reports whether s is a member of the submodel kind enum.
func ValidModellingKind(s string) bool {
	return s == ModellingKindInstance || s == ModellingKindTemplate
}

// ModelType is the discriminator tag of a submodel element variant.
type ModelType string

// The closed set of element variants.
const (
	TypeProperty                     ModelType = "Property"
	TypeMultiLanguageProperty        ModelType = "MultiLanguageProperty"
	TypeRange                        ModelType = "Range"
	TypeBlob                         ModelType = "Blob"
	TypeFile                         ModelType = "File"
	TypeReferenceElement             ModelType = "ReferenceElement"
	TypeRelationshipElement          ModelType = "RelationshipElement"
	TypeAnnotatedRelationshipElement ModelType = "AnnotatedRelationshipElement"
	TypeSubmodelElementCollection    ModelType = "SubmodelElementCollection"
	TypeSubmodelElementList          ModelType = "SubmodelElementList"
	TypeEntity                       ModelType = "Entity"
	TypeBasicEventElement            ModelType = "BasicEventElement"
	TypeOperation                    ModelType = "Operation"
	TypeCapability                   ModelType = "Capability"
)

var elementTypes = map[ModelType]struct{}{
	TypeProperty:                     {},
	TypeMultiLanguageProperty:        {},
	TypeRange:                        {},
	TypeBlob:                         {},
	TypeFile:                         {},
	TypeReferenceElement:             {},
	TypeRelationshipElement:          {},
	TypeAnnotatedRelationshipElement: {},
	TypeSubmodelElementCollection:    {},
	TypeSubmodelElementList:          {},
	TypeEntity:                       {},
	TypeBasicEventElement:            {},
	TypeOperation:                    {},
	TypeCapability:                   {},
}

// ValidModelType reports whether t names a known element variant.
func ValidModelType(t ModelType) bool {
	_, ok := elementTypes[t]
	return ok
}

// HasChildren reports whether the variant owns a nested element tree.
func HasChildren(t ModelType) bool {
	switch t {
	case TypeSubmodelElementCollection, TypeSubmodelElementList, TypeEntity:
		return true
	}
	return false
}

// childrenField names the array member holding the nested elements of t.
// Empty for leaf variants.
func ChildrenField(t ModelType) string {
	switch t {
	case TypeSubmodelElementCollection, TypeSubmodelElementList:
		return "value"
	case TypeEntity:
		return "statements"
	}
	return ""
}

// ValueType is the declared xs:* type of a Property/Range value.
type ValueType string

var valueTypes = map[ValueType]struct{}{
	"xs:string":             {},
	"xs:boolean":            {},
	"xs:decimal":            {},
	"xs:integer":            {},
	"xs:double":             {},
	"xs:float":              {},
	"xs:byte":               {},
	"xs:short":              {},
	"xs:int":                {},
	"xs:long":               {},
	"xs:unsignedByte":       {},
	"xs:unsignedShort":      {},
	"xs:unsignedInt":        {},
	"xs:unsignedLong":       {},
	"xs:nonNegativeInteger": {},
	"xs:nonPositiveInteger": {},
	"xs:positiveInteger":    {},
	"xs:negativeInteger":    {},
	"xs:dateTime":           {},
	"xs:date":               {},
	"xs:time":               {},
	"xs:duration":           {},
	"xs:anyURI":             {},
	"xs:base64Binary":       {},
	"xs:hexBinary":          {},
	"xs:gYear":              {},
	"xs:gMonthDay":          {},
}

// ValidValueType reports whether v is a member of the supported xs:* set.
func ValidValueType(v ValueType) bool {
	_, ok := valueTypes[v]
	return ok
}

// EntityType values for Entity elements.
const (
	EntityTypeCoManaged = "CoManagedEntity"
	EntityTypeSelf      = "SelfManagedEntity"
)

// ValidEntityType reports whether s is a member of the entityType enum.
func ValidEntityType(s string) bool {
	return s == EntityTypeCoManaged || s == EntityTypeSelf
}
