package projection

import (
	"fmt"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
)

// ValueOnlySubmodel serializes a submodel as the value-only form: an object
// mapping each top-level element idShort to its value. Operation and
// Capability elements carry no value and are omitted from containers.
func ValueOnlySubmodel(root *aas.Node) (*aas.Node, error) {
	out := aas.Object()
	elems := root.Field("submodelElements")
	if elems == nil || elems.Kind != aas.NodeArray {
		return out, nil
	}
	for _, el := range elems.Items {
		if !hasValueForm(el.ModelTypeOf()) {
			continue
		}
		v, err := valueOf(el)
		if err != nil {
			return nil, err
		}
		out.SetField(el.StringField("idShort"), v)
	}
	return out, nil
}

// ValueOnlyElement serializes one element as its value-only form.
// Requesting the value of an element variant that has none is a modifier
// error.
func ValueOnlyElement(el *aas.Node) (*aas.Node, error) {
	mt := el.ModelTypeOf()
	if !hasValueForm(mt) {
		return nil, apierr.New(apierr.BadModifier, fmt.Sprintf("%s has no value form", mt))
	}
	return valueOf(el)
}

func hasValueForm(mt aas.ModelType) bool {
	switch mt {
	case aas.TypeOperation, aas.TypeCapability:
		return false
	}
	return true
}

func valueOf(el *aas.Node) (*aas.Node, error) {
	switch mt := el.ModelTypeOf(); mt {
	case aas.TypeProperty:
		if v := el.Field("value"); v != nil {
			return v.Clone(), nil
		}
		return &aas.Node{Kind: aas.NodeNull}, nil

	case aas.TypeMultiLanguageProperty:
		// Array of single-member objects {language: text}.
		out := aas.Array()
		if v := el.Field("value"); v != nil && v.Kind == aas.NodeArray {
			for _, ls := range v.Items {
				entry := aas.Object()
				entry.SetField(ls.StringField("language"), aas.String(ls.StringField("text")))
				out.Items = append(out.Items, entry)
			}
		}
		return out, nil

	case aas.TypeRange:
		out := aas.Object()
		if v := el.Field("min"); v != nil {
			out.SetField("min", v.Clone())
		}
		if v := el.Field("max"); v != nil {
			out.SetField("max", v.Clone())
		}
		return out, nil

	case aas.TypeBlob, aas.TypeFile:
		out := aas.Object()
		if v := el.Field("contentType"); v != nil {
			out.SetField("contentType", v.Clone())
		}
		if v := el.Field("value"); v != nil {
			out.SetField("value", v.Clone())
		}
		return out, nil

	case aas.TypeReferenceElement:
		if v := el.Field("value"); v != nil {
			return v.Clone(), nil
		}
		return &aas.Node{Kind: aas.NodeNull}, nil

	case aas.TypeRelationshipElement:
		out := aas.Object()
		if v := el.Field("first"); v != nil {
			out.SetField("first", v.Clone())
		}
		if v := el.Field("second"); v != nil {
			out.SetField("second", v.Clone())
		}
		return out, nil

	case aas.TypeAnnotatedRelationshipElement:
		out := aas.Object()
		if v := el.Field("first"); v != nil {
			out.SetField("first", v.Clone())
		}
		if v := el.Field("second"); v != nil {
			out.SetField("second", v.Clone())
		}
		ann := aas.Array()
		if v := el.Field("annotations"); v != nil && v.Kind == aas.NodeArray {
			for _, a := range v.Items {
				if !hasValueForm(a.ModelTypeOf()) {
					continue
				}
				entry := aas.Object()
				av, err := valueOf(a)
				if err != nil {
					return nil, err
				}
				entry.SetField(a.StringField("idShort"), av)
				ann.Items = append(ann.Items, entry)
			}
		}
		out.SetField("annotations", ann)
		return out, nil

	case aas.TypeSubmodelElementCollection:
		out := aas.Object()
		if v := el.Field("value"); v != nil && v.Kind == aas.NodeArray {
			for _, child := range v.Items {
				if !hasValueForm(child.ModelTypeOf()) {
					continue
				}
				cv, err := valueOf(child)
				if err != nil {
					return nil, err
				}
				out.SetField(child.StringField("idShort"), cv)
			}
		}
		return out, nil

	case aas.TypeSubmodelElementList:
		out := aas.Array()
		if v := el.Field("value"); v != nil && v.Kind == aas.NodeArray {
			for _, child := range v.Items {
				if !hasValueForm(child.ModelTypeOf()) {
					continue
				}
				cv, err := valueOf(child)
				if err != nil {
					return nil, err
				}
				out.Items = append(out.Items, cv)
			}
		}
		return out, nil

	case aas.TypeEntity:
		out := aas.Object()
		stmts := aas.Object()
		if v := el.Field("statements"); v != nil && v.Kind == aas.NodeArray {
			for _, child := range v.Items {
				if !hasValueForm(child.ModelTypeOf()) {
					continue
				}
				cv, err := valueOf(child)
				if err != nil {
					return nil, err
				}
				stmts.SetField(child.StringField("idShort"), cv)
			}
		}
		out.SetField("statements", stmts)
		out.SetField("entityType", aas.String(el.StringField("entityType")))
		if g := el.Field("globalAssetId"); g != nil {
			out.SetField("globalAssetId", g.Clone())
		}
		return out, nil

	case aas.TypeBasicEventElement:
		out := aas.Object()
		if v := el.Field("observed"); v != nil {
			out.SetField("observed", v.Clone())
		}
		return out, nil
	}
	return nil, apierr.New(apierr.BadModifier, fmt.Sprintf("%s has no value form", el.ModelTypeOf()))
}
