package canonical

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/titan-aas/titan/pkg/aas"
)

// Metamodel validation.
//
// The walker is strict: unknown keys anywhere are rejected, enums must match
// the closed sets in pkg/aas, and element trees are checked recursively with
// a configurable depth cap. Validation never mutates the tree.

const (
	// MaxIdentifierBytes caps entity identifiers (and reference key values).
	MaxIdentifierBytes = 2048
	// MaxIDShortLen caps idShort length.
	MaxIDShortLen = 128
	// DefaultRecursionDepthLimit bounds element nesting.
	DefaultRecursionDepthLimit = 64
)

type validator struct {
	depthLimit int
}

// ---- allowed key sets ---------------------------------------------------

func keySet(ks ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ks))
	for _, k := range ks {
		m[k] = struct{}{}
	}
	return m
}

var (
	referableKeys = []string{
		"idShort", "category", "description", "displayName", "semanticId",
		"supplementalSemanticIds", "qualifiers", "extensions",
		"embeddedDataSpecifications", "modelType",
	}

	shellKeys = keySet("id", "idShort", "category", "description", "displayName",
		"administration", "assetInformation", "submodels", "derivedFrom",
		"embeddedDataSpecifications", "extensions", "modelType")

	assetInfoKeys = keySet("assetKind", "globalAssetId", "specificAssetIds",
		"assetType", "defaultThumbnail")

	specificAssetIDKeys = keySet("name", "value", "externalSubjectId",
		"semanticId", "supplementalSemanticIds")

	thumbnailKeys = keySet("path", "contentType")

	submodelKeys = keySet("id", "idShort", "category", "description", "displayName",
		"administration", "kind", "semanticId", "supplementalSemanticIds",
		"qualifiers", "submodelElements", "embeddedDataSpecifications",
		"extensions", "modelType")

	conceptKeys = keySet("id", "idShort", "category", "description", "displayName",
		"administration", "isCaseOf", "embeddedDataSpecifications",
		"extensions", "modelType")

	shellDescriptorKeys = keySet("id", "idShort", "description", "displayName",
		"administration", "globalAssetId", "assetKind", "endpoints", "extensions")

	submodelDescriptorKeys = keySet("id", "idShort", "description", "displayName",
		"administration", "semanticId", "endpoints", "extensions")

	endpointKeys = keySet("interface", "href")

	referenceKeys = keySet("type", "keys", "referredSemanticId")
	refKeyKeys    = keySet("type", "value")

	langStringKeys = keySet("language", "text")

	administrationKeys = keySet("version", "revision", "creator", "templateId",
		"embeddedDataSpecifications")

	qualifierKeys = keySet("kind", "type", "valueType", "value", "valueId",
		"semanticId", "supplementalSemanticIds")

	extensionKeys = keySet("name", "valueType", "value", "refersTo",
		"semanticId", "supplementalSemanticIds")

	edsKeys = keySet("dataSpecification", "dataSpecificationContent")

	operationVariableKeys = keySet("value")

	// Per-variant extra keys on top of referableKeys.
	variantKeys = map[aas.ModelType][]string{
		aas.TypeProperty:                     {"valueType", "value", "valueId"},
		aas.TypeMultiLanguageProperty:        {"value", "valueId"},
		aas.TypeRange:                        {"valueType", "min", "max"},
		aas.TypeBlob:                         {"contentType", "value"},
		aas.TypeFile:                         {"contentType", "value"},
		aas.TypeReferenceElement:             {"value"},
		aas.TypeRelationshipElement:          {"first", "second"},
		aas.TypeAnnotatedRelationshipElement: {"first", "second", "annotations"},
		aas.TypeSubmodelElementCollection:    {"value"},
		aas.TypeSubmodelElementList: {"value", "orderRelevant",
			"semanticIdListElement", "typeValueListElement", "valueTypeListElement"},
		aas.TypeEntity:            {"statements", "entityType", "globalAssetId", "specificAssetIds"},
		aas.TypeBasicEventElement: {"observed", "direction", "state", "messageTopic", "messageBroker", "lastUpdate", "minInterval", "maxInterval"},
		aas.TypeOperation:         {"inputVariables", "outputVariables", "inoutputVariables"},
		aas.TypeCapability:        nil,
	}
)

func elementKeySet(t aas.ModelType) map[string]struct{} {
	m := keySet(referableKeys...)
	for _, k := range variantKeys[t] {
		m[k] = struct{}{}
	}
	return m
}

// ---- walkers -------------------------------------------------------------

func (v *validator) document(kind aas.Kind, root *aas.Node) error {
	if root == nil || root.Kind != aas.NodeObject {
		return fmt.Errorf("%w: document must be a JSON object", ErrValidation)
	}

	switch kind {
	case aas.KindShell:
		return v.shell(root)
	case aas.KindSubmodel:
		return v.submodel(root)
	case aas.KindConceptDescription:
		return v.conceptDescription(root)
	case aas.KindShellDescriptor:
		return v.descriptor(root, shellDescriptorKeys, true)
	case aas.KindSubmodelDescriptor:
		return v.descriptor(root, submodelDescriptorKeys, false)
	}
	return fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
}

func (v *validator) shell(n *aas.Node) error {
	if err := checkKeys(n, "shell", shellKeys); err != nil {
		return err
	}
	if err := checkIdentifier(n.StringField("id")); err != nil {
		return err
	}
	if err := checkModelType(n, "AssetAdministrationShell"); err != nil {
		return err
	}
	if err := v.optIDShort(n, false); err != nil {
		return err
	}
	if err := v.commonMeta(n); err != nil {
		return err
	}

	ai := n.Field("assetInformation")
	if ai == nil {
		return fmt.Errorf("%w: shell: assetInformation is required", ErrValidation)
	}
	if err := v.assetInformation(ai); err != nil {
		return err
	}

	if sub := n.Field("submodels"); sub != nil {
		if sub.Kind != aas.NodeArray {
			return fmt.Errorf("%w: shell: submodels must be an array", ErrValidation)
		}
		for i, ref := range sub.Items {
			if err := v.reference(ref, fmt.Sprintf("submodels[%d]", i)); err != nil {
				return err
			}
		}
	}
	if df := n.Field("derivedFrom"); df != nil {
		if err := v.reference(df, "derivedFrom"); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) assetInformation(n *aas.Node) error {
	if n.Kind != aas.NodeObject {
		return fmt.Errorf("%w: assetInformation must be an object", ErrValidation)
	}
	if err := checkKeys(n, "assetInformation", assetInfoKeys); err != nil {
		return err
	}
	ak := n.StringField("assetKind")
	if ak == "" || !aas.ValidAssetKind(ak) {
		return fmt.Errorf("%w: assetInformation: assetKind must be one of Instance, Template, NotApplicable", ErrValidation)
	}
	if g := n.Field("globalAssetId"); g != nil {
		if g.Kind != aas.NodeString {
			return fmt.Errorf("%w: assetInformation: globalAssetId must be a string", ErrValidation)
		}
		if err := checkIdentifier(g.Str); err != nil {
			return err
		}
	}
	if sa := n.Field("specificAssetIds"); sa != nil {
		if sa.Kind != aas.NodeArray {
			return fmt.Errorf("%w: specificAssetIds must be an array", ErrValidation)
		}
		for i, it := range sa.Items {
			if err := v.specificAssetID(it, i); err != nil {
				return err
			}
		}
	}
	if th := n.Field("defaultThumbnail"); th != nil {
		if err := checkKeys(th, "defaultThumbnail", thumbnailKeys); err != nil {
			return err
		}
		if th.StringField("path") == "" {
			return fmt.Errorf("%w: defaultThumbnail: path is required", ErrValidation)
		}
	}
	return nil
}

func (v *validator) specificAssetID(n *aas.Node, i int) error {
	ctx := fmt.Sprintf("specificAssetIds[%d]", i)
	if n.Kind != aas.NodeObject {
		return fmt.Errorf("%w: %s must be an object", ErrValidation, ctx)
	}
	if err := checkKeys(n, ctx, specificAssetIDKeys); err != nil {
		return err
	}
	if n.StringField("name") == "" {
		return fmt.Errorf("%w: %s: name is required", ErrValidation, ctx)
	}
	val := n.StringField("value")
	if val == "" {
		return fmt.Errorf("%w: %s: value is required", ErrValidation, ctx)
	}
	if err := checkIdentifier(val); err != nil {
		return err
	}
	if ext := n.Field("externalSubjectId"); ext != nil {
		if err := v.reference(ext, ctx+".externalSubjectId"); err != nil {
			return err
		}
	}
	return v.optionalSemantics(n, ctx)
}

func (v *validator) submodel(n *aas.Node) error {
	if err := checkKeys(n, "submodel", submodelKeys); err != nil {
		return err
	}
	if err := checkIdentifier(n.StringField("id")); err != nil {
		return err
	}
	if err := checkModelType(n, "Submodel"); err != nil {
		return err
	}
	if err := v.optIDShort(n, false); err != nil {
		return err
	}
	if k := n.Field("kind"); k != nil {
		if k.Kind != aas.NodeString || !aas.ValidModellingKind(k.Str) {
			return fmt.Errorf("%w: submodel: kind must be Instance or Template", ErrValidation)
		}
	}
	if err := v.commonMeta(n); err != nil {
		return err
	}
	if err := v.optionalSemantics(n, "submodel"); err != nil {
		return err
	}
	if err := v.qualifiers(n, "submodel"); err != nil {
		return err
	}

	if els := n.Field("submodelElements"); els != nil {
		if els.Kind != aas.NodeArray {
			return fmt.Errorf("%w: submodelElements must be an array", ErrValidation)
		}
		if err := v.elementArray(els.Items, "submodelElements", 1, false); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) conceptDescription(n *aas.Node) error {
	if err := checkKeys(n, "conceptDescription", conceptKeys); err != nil {
		return err
	}
	if err := checkIdentifier(n.StringField("id")); err != nil {
		return err
	}
	if err := checkModelType(n, "ConceptDescription"); err != nil {
		return err
	}
	if err := v.optIDShort(n, false); err != nil {
		return err
	}
	if err := v.commonMeta(n); err != nil {
		return err
	}
	if ic := n.Field("isCaseOf"); ic != nil {
		if ic.Kind != aas.NodeArray {
			return fmt.Errorf("%w: isCaseOf must be an array", ErrValidation)
		}
		for i, ref := range ic.Items {
			if err := v.reference(ref, fmt.Sprintf("isCaseOf[%d]", i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) descriptor(n *aas.Node, allowed map[string]struct{}, shell bool) error {
	if err := checkKeys(n, "descriptor", allowed); err != nil {
		return err
	}
	if err := checkIdentifier(n.StringField("id")); err != nil {
		return err
	}
	if err := v.optIDShort(n, false); err != nil {
		return err
	}
	if err := v.commonMeta(n); err != nil {
		return err
	}
	if shell {
		if ak := n.Field("assetKind"); ak != nil {
			if ak.Kind != aas.NodeString || !aas.ValidAssetKind(ak.Str) {
				return fmt.Errorf("%w: descriptor: invalid assetKind", ErrValidation)
			}
		}
	} else if sem := n.Field("semanticId"); sem != nil {
		if err := v.reference(sem, "descriptor.semanticId"); err != nil {
			return err
		}
	}

	eps := n.Field("endpoints")
	if eps == nil || eps.Kind != aas.NodeArray || len(eps.Items) == 0 {
		return fmt.Errorf("%w: descriptor: endpoints must be a non-empty array", ErrValidation)
	}
	for i, ep := range eps.Items {
		ctx := fmt.Sprintf("endpoints[%d]", i)
		if ep.Kind != aas.NodeObject {
			return fmt.Errorf("%w: %s must be an object", ErrValidation, ctx)
		}
		if err := checkKeys(ep, ctx, endpointKeys); err != nil {
			return err
		}
		if ep.StringField("interface") == "" {
			return fmt.Errorf("%w: %s: interface is required", ErrValidation, ctx)
		}
		if ep.StringField("href") == "" {
			return fmt.Errorf("%w: %s: href is required", ErrValidation, ctx)
		}
	}
	return nil
}

// elementArray validates an ordered set of elements at one tree level and
// enforces sibling idShort uniqueness (list items carry positions instead).
func (v *validator) elementArray(items []*aas.Node, ctx string, depth int, inList bool) error {
	if depth > v.depthLimit {
		return fmt.Errorf("%w: %s: element nesting exceeds depth limit %d", ErrValidation, ctx, v.depthLimit)
	}
	seen := map[string]struct{}{}
	for i, el := range items {
		elCtx := fmt.Sprintf("%s[%d]", ctx, i)
		if err := v.element(el, elCtx, depth, inList); err != nil {
			return err
		}
		if !inList {
			short := el.StringField("idShort")
			if _, dup := seen[short]; dup {
				return fmt.Errorf("%w: %s: duplicate sibling idShort %q", ErrValidation, ctx, short)
			}
			seen[short] = struct{}{}
		}
	}
	return nil
}

func (v *validator) element(n *aas.Node, ctx string, depth int, inList bool) error {
	if n == nil || n.Kind != aas.NodeObject {
		return fmt.Errorf("%w: %s: element must be an object", ErrValidation, ctx)
	}
	mt := n.ModelTypeOf()
	if mt == "" {
		return fmt.Errorf("%w: %s: modelType is required", ErrValidation, ctx)
	}
	if !aas.ValidModelType(mt) {
		return fmt.Errorf("%w: %s: unknown modelType %q", ErrValidation, ctx, mt)
	}
	if err := checkKeys(n, ctx, elementKeySet(mt)); err != nil {
		return err
	}
	if err := v.optIDShort(n, inList); err != nil {
		return fmt.Errorf("%s: %w", ctx, err)
	}
	if err := v.commonMeta(n); err != nil {
		return err
	}
	if err := v.optionalSemantics(n, ctx); err != nil {
		return err
	}
	if err := v.qualifiers(n, ctx); err != nil {
		return err
	}

	switch mt {
	case aas.TypeProperty:
		vt, err := v.requiredValueType(n, ctx)
		if err != nil {
			return err
		}
		if val := n.Field("value"); val != nil {
			if val.Kind != aas.NodeString {
				return fmt.Errorf("%w: %s: value must be a string", ErrValidation, ctx)
			}
			if err := validateValueText(vt, val.Str); err != nil {
				return fmt.Errorf("%s: %w", ctx, err)
			}
		}
		return v.optReference(n, "valueId", ctx)

	case aas.TypeMultiLanguageProperty:
		if val := n.Field("value"); val != nil {
			if err := v.langStrings(val, ctx+".value"); err != nil {
				return err
			}
		}
		return v.optReference(n, "valueId", ctx)

	case aas.TypeRange:
		vt, err := v.requiredValueType(n, ctx)
		if err != nil {
			return err
		}
		for _, bound := range []string{"min", "max"} {
			if b := n.Field(bound); b != nil {
				if b.Kind != aas.NodeString {
					return fmt.Errorf("%w: %s: %s must be a string", ErrValidation, ctx, bound)
				}
				if err := validateValueText(vt, b.Str); err != nil {
					return fmt.Errorf("%s.%s: %w", ctx, bound, err)
				}
			}
		}
		return nil

	case aas.TypeBlob:
		if err := v.requiredContentType(n, ctx); err != nil {
			return err
		}
		if val := n.Field("value"); val != nil {
			if val.Kind != aas.NodeString {
				return fmt.Errorf("%w: %s: blob value must be a base64 string", ErrValidation, ctx)
			}
			if err := validateValueText("xs:base64Binary", val.Str); err != nil {
				return fmt.Errorf("%s: %w", ctx, err)
			}
		}
		return nil

	case aas.TypeFile:
		if err := v.requiredContentType(n, ctx); err != nil {
			return err
		}
		if val := n.Field("value"); val != nil && val.Kind != aas.NodeString {
			return fmt.Errorf("%w: %s: file value must be a string path", ErrValidation, ctx)
		}
		return nil

	case aas.TypeReferenceElement:
		return v.optReference(n, "value", ctx)

	case aas.TypeRelationshipElement, aas.TypeAnnotatedRelationshipElement:
		for _, side := range []string{"first", "second"} {
			ref := n.Field(side)
			if ref == nil {
				return fmt.Errorf("%w: %s: %s is required", ErrValidation, ctx, side)
			}
			if err := v.reference(ref, ctx+"."+side); err != nil {
				return err
			}
		}
		if mt == aas.TypeAnnotatedRelationshipElement {
			if ann := n.Field("annotations"); ann != nil {
				if ann.Kind != aas.NodeArray {
					return fmt.Errorf("%w: %s: annotations must be an array", ErrValidation, ctx)
				}
				return v.elementArray(ann.Items, ctx+".annotations", depth+1, false)
			}
		}
		return nil

	case aas.TypeSubmodelElementCollection:
		if val := n.Field("value"); val != nil {
			if val.Kind != aas.NodeArray {
				return fmt.Errorf("%w: %s: collection value must be an array", ErrValidation, ctx)
			}
			return v.elementArray(val.Items, ctx+".value", depth+1, false)
		}
		return nil

	case aas.TypeSubmodelElementList:
		if or := n.Field("orderRelevant"); or != nil && or.Kind != aas.NodeBool {
			return fmt.Errorf("%w: %s: orderRelevant must be a boolean", ErrValidation, ctx)
		}
		if tv := n.Field("typeValueListElement"); tv != nil {
			if tv.Kind != aas.NodeString || !aas.ValidModelType(aas.ModelType(tv.Str)) {
				return fmt.Errorf("%w: %s: invalid typeValueListElement", ErrValidation, ctx)
			}
		}
		if vt := n.Field("valueTypeListElement"); vt != nil {
			if vt.Kind != aas.NodeString || !aas.ValidValueType(aas.ValueType(vt.Str)) {
				return fmt.Errorf("%w: %s: invalid valueTypeListElement", ErrValidation, ctx)
			}
		}
		if err := v.optReference(n, "semanticIdListElement", ctx); err != nil {
			return err
		}
		if val := n.Field("value"); val != nil {
			if val.Kind != aas.NodeArray {
				return fmt.Errorf("%w: %s: list value must be an array", ErrValidation, ctx)
			}
			return v.elementArray(val.Items, ctx+".value", depth+1, true)
		}
		return nil

	case aas.TypeEntity:
		et := n.StringField("entityType")
		if et == "" || !aas.ValidEntityType(et) {
			return fmt.Errorf("%w: %s: entityType must be CoManagedEntity or SelfManagedEntity", ErrValidation, ctx)
		}
		if g := n.Field("globalAssetId"); g != nil {
			if g.Kind != aas.NodeString {
				return fmt.Errorf("%w: %s: globalAssetId must be a string", ErrValidation, ctx)
			}
			if err := checkIdentifier(g.Str); err != nil {
				return err
			}
		}
		if sa := n.Field("specificAssetIds"); sa != nil {
			if sa.Kind != aas.NodeArray {
				return fmt.Errorf("%w: %s: specificAssetIds must be an array", ErrValidation, ctx)
			}
			for i, it := range sa.Items {
				if err := v.specificAssetID(it, i); err != nil {
					return err
				}
			}
		}
		if st := n.Field("statements"); st != nil {
			if st.Kind != aas.NodeArray {
				return fmt.Errorf("%w: %s: statements must be an array", ErrValidation, ctx)
			}
			return v.elementArray(st.Items, ctx+".statements", depth+1, false)
		}
		return nil

	case aas.TypeBasicEventElement:
		obs := n.Field("observed")
		if obs == nil {
			return fmt.Errorf("%w: %s: observed is required", ErrValidation, ctx)
		}
		if err := v.reference(obs, ctx+".observed"); err != nil {
			return err
		}
		dir := n.StringField("direction")
		if dir != "input" && dir != "output" {
			return fmt.Errorf("%w: %s: direction must be input or output", ErrValidation, ctx)
		}
		st := n.StringField("state")
		if st != "on" && st != "off" {
			return fmt.Errorf("%w: %s: state must be on or off", ErrValidation, ctx)
		}
		if err := v.optReference(n, "messageBroker", ctx); err != nil {
			return err
		}
		if lu := n.Field("lastUpdate"); lu != nil {
			if lu.Kind != aas.NodeString {
				return fmt.Errorf("%w: %s: lastUpdate must be a string", ErrValidation, ctx)
			}
			if err := validateValueText("xs:dateTime", lu.Str); err != nil {
				return fmt.Errorf("%s.lastUpdate: %w", ctx, err)
			}
		}
		for _, f := range []string{"minInterval", "maxInterval"} {
			if iv := n.Field(f); iv != nil {
				if iv.Kind != aas.NodeString {
					return fmt.Errorf("%w: %s: %s must be a string", ErrValidation, ctx, f)
				}
				if err := validateValueText("xs:duration", iv.Str); err != nil {
					return fmt.Errorf("%s.%s: %w", ctx, f, err)
				}
			}
		}
		return nil

	case aas.TypeOperation:
		for _, f := range []string{"inputVariables", "outputVariables", "inoutputVariables"} {
			vars := n.Field(f)
			if vars == nil {
				continue
			}
			if vars.Kind != aas.NodeArray {
				return fmt.Errorf("%w: %s: %s must be an array", ErrValidation, ctx, f)
			}
			for i, ov := range vars.Items {
				ovCtx := fmt.Sprintf("%s.%s[%d]", ctx, f, i)
				if ov.Kind != aas.NodeObject {
					return fmt.Errorf("%w: %s must be an object", ErrValidation, ovCtx)
				}
				if err := checkKeys(ov, ovCtx, operationVariableKeys); err != nil {
					return err
				}
				el := ov.Field("value")
				if el == nil {
					return fmt.Errorf("%w: %s: value is required", ErrValidation, ovCtx)
				}
				if err := v.element(el, ovCtx+".value", depth+1, false); err != nil {
					return err
				}
			}
		}
		return nil

	case aas.TypeCapability:
		return nil
	}
	return fmt.Errorf("%w: %s: unhandled modelType %q", ErrValidation, ctx, mt)
}

// ---- shared fragments ----------------------------------------------------

func (v *validator) commonMeta(n *aas.Node) error {
	for _, f := range []string{"description", "displayName"} {
		if d := n.Field(f); d != nil {
			if err := v.langStrings(d, f); err != nil {
				return err
			}
		}
	}
	if adm := n.Field("administration"); adm != nil {
		if adm.Kind != aas.NodeObject {
			return fmt.Errorf("%w: administration must be an object", ErrValidation)
		}
		if err := checkKeys(adm, "administration", administrationKeys); err != nil {
			return err
		}
	}
	if ext := n.Field("extensions"); ext != nil {
		if ext.Kind != aas.NodeArray {
			return fmt.Errorf("%w: extensions must be an array", ErrValidation)
		}
		for i, e := range ext.Items {
			ctx := fmt.Sprintf("extensions[%d]", i)
			if e.Kind != aas.NodeObject {
				return fmt.Errorf("%w: %s must be an object", ErrValidation, ctx)
			}
			if err := checkKeys(e, ctx, extensionKeys); err != nil {
				return err
			}
			if e.StringField("name") == "" {
				return fmt.Errorf("%w: %s: name is required", ErrValidation, ctx)
			}
		}
	}
	if eds := n.Field("embeddedDataSpecifications"); eds != nil {
		if eds.Kind != aas.NodeArray {
			return fmt.Errorf("%w: embeddedDataSpecifications must be an array", ErrValidation)
		}
		for i, e := range eds.Items {
			ctx := fmt.Sprintf("embeddedDataSpecifications[%d]", i)
			if e.Kind != aas.NodeObject {
				return fmt.Errorf("%w: %s must be an object", ErrValidation, ctx)
			}
			if err := checkKeys(e, ctx, edsKeys); err != nil {
				return err
			}
			if ds := e.Field("dataSpecification"); ds != nil {
				if err := v.reference(ds, ctx+".dataSpecification"); err != nil {
					return err
				}
			}
			// dataSpecificationContent is template-defined; shape is not
			// constrained beyond being an object.
			if dc := e.Field("dataSpecificationContent"); dc != nil && dc.Kind != aas.NodeObject {
				return fmt.Errorf("%w: %s: dataSpecificationContent must be an object", ErrValidation, ctx)
			}
		}
	}
	return nil
}

func (v *validator) optionalSemantics(n *aas.Node, ctx string) error {
	if err := v.optReference(n, "semanticId", ctx); err != nil {
		return err
	}
	if sup := n.Field("supplementalSemanticIds"); sup != nil {
		if sup.Kind != aas.NodeArray {
			return fmt.Errorf("%w: %s: supplementalSemanticIds must be an array", ErrValidation, ctx)
		}
		for i, ref := range sup.Items {
			if err := v.reference(ref, fmt.Sprintf("%s.supplementalSemanticIds[%d]", ctx, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) qualifiers(n *aas.Node, ctx string) error {
	qs := n.Field("qualifiers")
	if qs == nil {
		return nil
	}
	if qs.Kind != aas.NodeArray {
		return fmt.Errorf("%w: %s: qualifiers must be an array", ErrValidation, ctx)
	}
	for i, q := range qs.Items {
		qCtx := fmt.Sprintf("%s.qualifiers[%d]", ctx, i)
		if q.Kind != aas.NodeObject {
			return fmt.Errorf("%w: %s must be an object", ErrValidation, qCtx)
		}
		if err := checkKeys(q, qCtx, qualifierKeys); err != nil {
			return err
		}
		if q.StringField("type") == "" {
			return fmt.Errorf("%w: %s: type is required", ErrValidation, qCtx)
		}
		vt := aas.ValueType(q.StringField("valueType"))
		if vt == "" || !aas.ValidValueType(vt) {
			return fmt.Errorf("%w: %s: invalid valueType", ErrValidation, qCtx)
		}
		if val := q.Field("value"); val != nil {
			if val.Kind != aas.NodeString {
				return fmt.Errorf("%w: %s: value must be a string", ErrValidation, qCtx)
			}
			if err := validateValueText(vt, val.Str); err != nil {
				return fmt.Errorf("%s: %w", qCtx, err)
			}
		}
		if err := v.optReference(q, "valueId", qCtx); err != nil {
			return err
		}
		if err := v.optReference(q, "semanticId", qCtx); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) langStrings(n *aas.Node, ctx string) error {
	if n.Kind != aas.NodeArray {
		return fmt.Errorf("%w: %s must be an array of language strings", ErrValidation, ctx)
	}
	for i, ls := range n.Items {
		lCtx := fmt.Sprintf("%s[%d]", ctx, i)
		if ls.Kind != aas.NodeObject {
			return fmt.Errorf("%w: %s must be an object", ErrValidation, lCtx)
		}
		if err := checkKeys(ls, lCtx, langStringKeys); err != nil {
			return err
		}
		lang := ls.StringField("language")
		if lang == "" || !validLanguageTag(lang) {
			return fmt.Errorf("%w: %s: invalid language tag %q", ErrValidation, lCtx, lang)
		}
		if txt := ls.Field("text"); txt == nil || txt.Kind != aas.NodeString {
			return fmt.Errorf("%w: %s: text is required", ErrValidation, lCtx)
		}
	}
	return nil
}

func (v *validator) reference(n *aas.Node, ctx string) error {
	if n == nil || n.Kind != aas.NodeObject {
		return fmt.Errorf("%w: %s must be a Reference object", ErrValidation, ctx)
	}
	if err := checkKeys(n, ctx, referenceKeys); err != nil {
		return err
	}
	rt := n.StringField("type")
	if rt != "ExternalReference" && rt != "ModelReference" {
		return fmt.Errorf("%w: %s: type must be ExternalReference or ModelReference", ErrValidation, ctx)
	}
	keys := n.Field("keys")
	if keys == nil || keys.Kind != aas.NodeArray || len(keys.Items) == 0 {
		return fmt.Errorf("%w: %s: keys must be a non-empty array", ErrValidation, ctx)
	}
	for i, k := range keys.Items {
		kCtx := fmt.Sprintf("%s.keys[%d]", ctx, i)
		if k.Kind != aas.NodeObject {
			return fmt.Errorf("%w: %s must be an object", ErrValidation, kCtx)
		}
		if err := checkKeys(k, kCtx, refKeyKeys); err != nil {
			return err
		}
		if k.StringField("type") == "" {
			return fmt.Errorf("%w: %s: type is required", ErrValidation, kCtx)
		}
		val := k.StringField("value")
		if val == "" {
			return fmt.Errorf("%w: %s: value is required", ErrValidation, kCtx)
		}
		if err := checkIdentifier(val); err != nil {
			return err
		}
	}
	if rsi := n.Field("referredSemanticId"); rsi != nil {
		if err := v.reference(rsi, ctx+".referredSemanticId"); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) optReference(n *aas.Node, field, ctx string) error {
	if ref := n.Field(field); ref != nil {
		return v.reference(ref, ctx+"."+field)
	}
	return nil
}

func (v *validator) requiredValueType(n *aas.Node, ctx string) (aas.ValueType, error) {
	vt := aas.ValueType(n.StringField("valueType"))
	if vt == "" {
		return "", fmt.Errorf("%w: %s: valueType is required", ErrValidation, ctx)
	}
	if !aas.ValidValueType(vt) {
		return "", fmt.Errorf("%w: %s: unknown valueType %q", ErrValidation, ctx, vt)
	}
	return vt, nil
}

func (v *validator) requiredContentType(n *aas.Node, ctx string) error {
	ct := n.StringField("contentType")
	if ct == "" {
		return fmt.Errorf("%w: %s: contentType is required", ErrValidation, ctx)
	}
	if !strings.Contains(ct, "/") {
		return fmt.Errorf("%w: %s: invalid contentType %q", ErrValidation, ctx, ct)
	}
	return nil
}

// optIDShort checks the idShort field. Inside SubmodelElementList items the
// field must be absent (positions address list items); everywhere else it is
// optional but pattern-checked when present.
func (v *validator) optIDShort(n *aas.Node, inList bool) error {
	f := n.Field("idShort")
	if f == nil {
		return nil
	}
	if inList {
		return fmt.Errorf("%w: idShort is not allowed on list items", ErrValidation)
	}
	if f.Kind != aas.NodeString {
		return fmt.Errorf("%w: idShort must be a string", ErrValidation)
	}
	return checkIDShort(f.Str)
}

// ---- field checks ----------------------------------------------------------

func checkKeys(n *aas.Node, ctx string, allowed map[string]struct{}) error {
	for i := range n.Members {
		if _, ok := allowed[n.Members[i].Key]; !ok {
			return fmt.Errorf("%w: %s: unknown key %q", ErrValidation, ctx, n.Members[i].Key)
		}
	}
	return nil
}

func checkModelType(n *aas.Node, want string) error {
	if mt := n.Field("modelType"); mt != nil {
		if mt.Kind != aas.NodeString || mt.Str != want {
			return fmt.Errorf("%w: modelType must be %q", ErrValidation, want)
		}
	}
	return nil
}

func checkIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if len(id) > MaxIdentifierBytes {
		return fmt.Errorf("%w: id exceeds %d bytes", ErrValidation, MaxIdentifierBytes)
	}
	if !norm.NFC.IsNormalString(id) {
		return fmt.Errorf("%w: id must be NFC-normalized", ErrValidation)
	}
	return nil
}

func checkIDShort(s string) error {
	if s == "" {
		return fmt.Errorf("%w: idShort must not be empty", ErrValidation)
	}
	if len(s) > MaxIDShortLen {
		return fmt.Errorf("%w: idShort exceeds %d characters", ErrValidation, MaxIDShortLen)
	}
	for i, r := range s {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '_'
		if !ok || (i == 0 && r >= '0' && r <= '9') {
			return fmt.Errorf("%w: invalid idShort %q", ErrValidation, s)
		}
	}
	return nil
}

func validLanguageTag(s string) bool {
	if len(s) > 35 {
		return false
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-') {
			return false
		}
	}
	return true
}
