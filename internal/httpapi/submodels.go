package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/internal/projection"
	"github.com/titan-aas/titan/internal/writer"
	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
	"github.com/titan-aas/titan/pkg/canonical"
)

// Submodel-specific surface: the $value/$metadata/$path serialization
// forms and element-level operations addressed by idShort path.

func (s *Server) mountSubmodelRoutes(r *mux.Router) {
	// $-forms and element routes must precede the greedy path matcher.
	r.HandleFunc("/submodels/{id}/$value", s.getSubmodelValue).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/$metadata", s.getSubmodelMetadata).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/$path", s.getSubmodelPaths).Methods(http.MethodGet)

	r.HandleFunc("/submodels/{id}/submodel-elements", s.listElements).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/submodel-elements", s.postElement).Methods(http.MethodPost)

	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}/$value", s.getElementValue).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}/$metadata", s.getElementMetadata).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}/$path", s.getElementPaths).Methods(http.MethodGet)

	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}", s.getElement).Methods(http.MethodGet)
	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}", s.putElement).Methods(http.MethodPut)
	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}", s.postElementUnder).Methods(http.MethodPost)
	r.HandleFunc("/submodels/{id}/submodel-elements/{path:.+}", s.deleteElement).Methods(http.MethodDelete)
}

// loadSubmodel fetches the parsed tree, or writes the error.
func (s *Server) loadSubmodel(w http.ResponseWriter, r *http.Request) (*aas.Document, string, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}
	doc, etag, err := s.store.GetParsed(r.Context(), aas.KindSubmodel, id)
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}
	return doc, etag, true
}

// ---- submodel $-forms ----

func (s *Server) getSubmodelValue(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	v, err := projection.ValueOnlySubmodel(doc.Root)
	if err != nil {
		writeError(w, err)
		return
	}
	body, _ := canonical.Recanonicalize(v)
	writeCanonical(w, http.StatusOK, body, "")
}

func (s *Server) getSubmodelMetadata(w http.ResponseWriter, r *http.Request) {
	doc, etag, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	body, _ := canonical.Recanonicalize(projection.MetadataSubmodel(doc.Root))
	// Metadata is a stable function of the entity; the entity etag still
	// identifies the revision it derives from.
	writeCanonical(w, http.StatusOK, body, etag)
}

func (s *Server) getSubmodelPaths(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, projection.Paths(doc.Root))
}

// ---- element reads ----

func (s *Server) listElements(w http.ResponseWriter, r *http.Request) {
	mods, err := projection.ParseModifiers(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	if mods.Content != projection.ContentNormal {
		writeError(w, apierr.New(apierr.BadModifier, "content not supported on element lists"))
		return
	}
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}

	out := aas.Object()
	items := aas.Array()
	if elems := doc.Root.Field("submodelElements"); elems != nil && elems.Kind == aas.NodeArray {
		for _, el := range elems.Items {
			items.Items = append(items.Items, projection.ProjectElement(el, mods))
		}
	}
	out.SetField("paging_metadata", aas.Object())
	out.SetField("result", items)
	body, _ := canonical.Recanonicalize(out)
	writeCanonical(w, http.StatusOK, body, "")
}

func (s *Server) getElement(w http.ResponseWriter, r *http.Request) {
	mods, err := projection.ParseModifiers(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	el, err := projection.ElementAt(doc.Root, mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	switch mods.Content {
	case projection.ContentValue:
		v, err := projection.ValueOnlyElement(el)
		if err != nil {
			writeError(w, err)
			return
		}
		body, _ := canonical.Recanonicalize(v)
		writeCanonical(w, http.StatusOK, body, "")
	case projection.ContentMetadata:
		body, _ := canonical.Recanonicalize(projection.MetadataElement(el))
		writeCanonical(w, http.StatusOK, body, "")
	case projection.ContentPath:
		writeJSON(w, http.StatusOK, projection.ElementPaths(el))
	default:
		body, _ := canonical.Recanonicalize(projection.ProjectElement(el, mods))
		writeCanonical(w, http.StatusOK, body, "")
	}
}

func (s *Server) getElementValue(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	el, err := projection.ElementAt(doc.Root, mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := projection.ValueOnlyElement(el)
	if err != nil {
		writeError(w, err)
		return
	}
	body, _ := canonical.Recanonicalize(v)
	writeCanonical(w, http.StatusOK, body, "")
}

func (s *Server) getElementMetadata(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	el, err := projection.ElementAt(doc.Root, mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	body, _ := canonical.Recanonicalize(projection.MetadataElement(el))
	writeCanonical(w, http.StatusOK, body, "")
}

func (s *Server) getElementPaths(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := s.loadSubmodel(w, r)
	if !ok {
		return
	}
	el, err := projection.ElementAt(doc.Root, mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection.ElementPaths(el))
}

// ---- element writes ----

// readElementBody parses a request body as one submodel element tree.
// Structural validation happens when the whole mutated submodel is
// revalidated; this only guards the obvious.
func (s *Server) readElementBody(w http.ResponseWriter, r *http.Request) (*aas.Node, error) {
	raw, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}
	el, err := canonical.Decode(raw, canonical.DecodeDepthFor(s.depthLimit))
	if err != nil {
		return nil, translate(err)
	}
	if !aas.ValidModelType(el.ModelTypeOf()) {
		return nil, apierr.New(apierr.ValidationError, "unknown or missing modelType")
	}
	return el, nil
}

// mutateSubmodel runs a read-modify-write cycle on one submodel: clone the
// stored tree, apply edit, revalidate the whole document, and append an
// update conditional on the etag the edit was computed from. A concurrent
// writer surfaces as a conflict rather than a lost update.
func (s *Server) mutateSubmodel(w http.ResponseWriter, r *http.Request, edit func(root *aas.Node) error) (changed bool, ok bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return false, false
	}
	doc, curETag, err := s.store.GetParsed(r.Context(), aas.KindSubmodel, id)
	if err != nil {
		writeError(w, err)
		return false, false
	}

	root := doc.Root.Clone()
	if err := edit(root); err != nil {
		writeError(w, err)
		return false, false
	}

	raw, _ := canonical.Recanonicalize(root)
	_, body, newETag, err := canonical.ParseAndValidate(raw, aas.KindSubmodel, canonical.Options{RecursionDepthLimit: s.depthLimit})
	if err != nil {
		writeError(w, translate(err))
		return false, false
	}
	if newETag == curETag {
		return false, true
	}

	ev := eventlog.NewEvent(eventlog.EventUpdated, aas.KindSubmodel, id)
	ev.ETagBefore = curETag
	ev.ETagAfter = newETag
	ev.Payload = body
	ev.CorrelationID = r.Header.Get(requestIDHeader)

	result, err := s.submit.Submit(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return false, false
	}
	switch result.Status {
	case writer.StatusApplied, writer.StatusNoOp:
		return true, true
	case writer.StatusConflict:
		writeError(w, apierr.New(apierr.Conflict, "concurrent modification, retry"))
		return false, false
	default:
		writeError(w, apierr.New(apierr.Internal, "write not applied"))
		return false, false
	}
}

func (s *Server) postElement(w http.ResponseWriter, r *http.Request) {
	s.insertElement(w, r, "")
}

func (s *Server) postElementUnder(w http.ResponseWriter, r *http.Request) {
	s.insertElement(w, r, mux.Vars(r)["path"])
}

func (s *Server) insertElement(w http.ResponseWriter, r *http.Request, parentPath string) {
	el, err := s.readElementBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.mutateSubmodel(w, r, func(root *aas.Node) error {
		return projection.InsertElement(root, parentPath, el)
	}); !ok {
		return
	}
	body, _ := canonical.Recanonicalize(el)
	writeCanonical(w, http.StatusCreated, body, "")
}

func (s *Server) putElement(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	el, err := s.readElementBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.mutateSubmodel(w, r, func(root *aas.Node) error {
		return projection.ReplaceElementAt(root, path, el)
	}); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteElement(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if _, ok := s.mutateSubmodel(w, r, func(root *aas.Node) error {
		return projection.DeleteElementAt(root, path)
	}); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
