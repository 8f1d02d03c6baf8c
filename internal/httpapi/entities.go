package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/titan-aas/titan/internal/cache"
	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/internal/projection"
	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/internal/writer"
	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/apierr"
	"github.com/titan-aas/titan/pkg/canonical"
	"github.com/titan-aas/titan/pkg/idcodec"
)

// resource binds an entity kind to its collection path and the list
// filters it supports.
type resource struct {
	kind aas.Kind
	path string

	filterSemanticID bool
	filterAssetID    bool
	// projectable kinds accept level/extent and the $-forms.
	projectable bool
}

var resources = []resource{
	{kind: aas.KindShell, path: "/shells", filterAssetID: true},
	{kind: aas.KindSubmodel, path: "/submodels", filterSemanticID: true, projectable: true},
	{kind: aas.KindConceptDescription, path: "/concept-descriptions"},
	{kind: aas.KindShellDescriptor, path: "/shell-descriptors"},
	{kind: aas.KindSubmodelDescriptor, path: "/submodel-descriptors"},
}

func (s *Server) mountEntityRoutes(r *mux.Router) {
	for _, res := range resources {
		res := res
		r.HandleFunc(res.path, s.listHandler(res)).Methods(http.MethodGet)
		r.HandleFunc(res.path, s.createHandler(res)).Methods(http.MethodPost)
		r.HandleFunc(res.path+"/{id}", s.getHandler(res)).Methods(http.MethodGet, http.MethodHead)
		r.HandleFunc(res.path+"/{id}", s.putHandler(res)).Methods(http.MethodPut)
		r.HandleFunc(res.path+"/{id}", s.deleteHandler(res)).Methods(http.MethodDelete)
	}
}

// pathID decodes the base64url identifier token from the route.
func pathID(r *http.Request) (string, error) {
	token := mux.Vars(r)["id"]
	id, err := idcodec.Decode(token)
	if err != nil {
		return "", apierr.Wrap(apierr.BadIdentifier, "identifier token is malformed", err)
	}
	return id, nil
}

// ---- single entity reads ----

func (s *Server) getHandler(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		q := r.URL.Query()
		if !res.projectable && (q.Has("level") || q.Has("extent") || q.Has("content")) {
			writeError(w, apierr.New(apierr.BadModifier, "modifiers not supported here"))
			return
		}

		if res.projectable {
			mods, err := projection.ParseModifiers(q)
			if err != nil {
				writeError(w, err)
				return
			}
			if !mods.IsDefault() {
				s.serveProjected(w, r, res.kind, id, mods)
				return
			}
		}

		s.serveStored(w, r, res.kind, id)
	}
}

// serveStored is the fast path: cached or stored canonical bytes, streamed
// without parsing.
func (s *Server) serveStored(w http.ResponseWriter, r *http.Request, kind aas.Kind, id string) {
	token := idcodec.Encode(id)

	if s.cache != nil {
		if entry, ok := s.cache.GetEntity(r.Context(), kind, token); ok {
			if !entry.UpdatedAt.IsZero() {
				w.Header().Set("Last-Modified", entry.UpdatedAt.Format(http.TimeFormat))
			}
			if notModified(r, entry.ETag) {
				w.Header().Set("ETag", quoteETag(entry.ETag))
				w.WriteHeader(http.StatusNotModified)
				return
			}
			s.writeEntity(w, r, entry.Bytes, entry.ETag)
			return
		}
	}

	body, etag, updated, err := s.store.Get(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.cache != nil {
		s.cache.SetEntity(r.Context(), kind, token, cache.Entry{ETag: etag, Bytes: body, UpdatedAt: updated})
	}
	w.Header().Set("Last-Modified", updated.Format(http.TimeFormat))
	if notModified(r, etag) {
		w.Header().Set("ETag", quoteETag(etag))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeEntity(w, r, body, etag)
}

// serveProjected is the slow path: parse, transform, re-serialize. The
// response is a derived view, so it carries no entity ETag.
func (s *Server) serveProjected(w http.ResponseWriter, r *http.Request, kind aas.Kind, id string, mods projection.Modifiers) {
	doc, _, err := s.store.GetParsed(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch mods.Content {
	case projection.ContentValue:
		v, err := projection.ValueOnlySubmodel(doc.Root)
		if err != nil {
			writeError(w, err)
			return
		}
		body, _ := canonical.Recanonicalize(v)
		s.writeEntity(w, r, body, "")
	case projection.ContentMetadata:
		body, _ := canonical.Recanonicalize(projection.MetadataSubmodel(doc.Root))
		s.writeEntity(w, r, body, "")
	case projection.ContentPath:
		writeJSON(w, http.StatusOK, projection.Paths(doc.Root))
	default:
		out := projection.ProjectSubmodel(doc.Root, mods)
		body, _ := canonical.Recanonicalize(out)
		s.writeEntity(w, r, body, "")
	}
}

// writeEntity streams a body, honoring HEAD.
func (s *Server) writeEntity(w http.ResponseWriter, r *http.Request, body []byte, etag string) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", contentTypeJSON)
		if etag != "" {
			w.Header().Set("ETag", quoteETag(etag))
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		return
	}
	writeCanonical(w, http.StatusOK, body, etag)
}

// ---- lists ----

func (s *Server) listHandler(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := 100
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, apierr.New(apierr.ValidationError, "limit must be a positive integer"))
				return
			}
			limit = n
		}
		if limit > s.maxPageLimit {
			limit = s.maxPageLimit
		}

		f := store.Filter{IDShort: q.Get("idShort")}
		if v := q.Get("semanticId"); v != "" {
			if !res.filterSemanticID {
				writeError(w, apierr.New(apierr.BadModifier, "semanticId filter not supported here"))
				return
			}
			f.SemanticID = v
		}
		if v := q.Get("kind"); v != "" {
			if res.kind != aas.KindSubmodel {
				writeError(w, apierr.New(apierr.BadModifier, "kind filter not supported here"))
				return
			}
			if !aas.ValidModellingKind(v) {
				writeError(w, apierr.New(apierr.ValidationError, "kind must be Instance or Template"))
				return
			}
			f.ModellingKind = v
		}
		if v := q.Get("assetIds"); v != "" {
			if !res.filterAssetID {
				writeError(w, apierr.New(apierr.BadModifier, "assetIds filter not supported here"))
				return
			}
			assetID, err := idcodec.Decode(v)
			if err != nil {
				writeError(w, apierr.Wrap(apierr.BadIdentifier, "malformed assetIds token", err))
				return
			}
			f.AssetID = assetID
		}
		cursorToken := q.Get("cursor")

		key := cache.ListKey(res.kind, f.Key(), limit, cursorToken)
		if s.cache != nil {
			if body, ok := s.cache.GetList(r.Context(), key); ok {
				writeCanonical(w, http.StatusOK, body, "")
				return
			}
		}

		page, err := s.store.List(r.Context(), res.kind, f, cursorToken, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		body := encodePage(page)
		if s.cache != nil {
			s.cache.SetList(r.Context(), key, body)
		}
		writeCanonical(w, http.StatusOK, body, "")
	}
}

// encodePage assembles the list envelope by splicing stored canonical item
// bytes; items are never re-parsed on the read path.
func encodePage(page store.Page) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"paging_metadata":{`)
	if page.NextCursor != "" {
		buf.WriteString(`"cursor":`)
		buf.WriteString(strconv.Quote(page.NextCursor))
	}
	buf.WriteString(`},"result":[`)
	for i, it := range page.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(it.Bytes)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// ---- writes ----

// readBody reads a capped request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, apierr.New(apierr.PayloadTooLarge, "body exceeds configured cap")
		}
		return nil, apierr.Wrap(apierr.ValidationError, "unreadable body", err)
	}
	return raw, nil
}

func (s *Server) parseBody(w http.ResponseWriter, r *http.Request, kind aas.Kind) (*aas.Document, []byte, string, error) {
	raw, err := s.readBody(w, r)
	if err != nil {
		return nil, nil, "", err
	}
	doc, body, etag, err := canonical.ParseAndValidate(raw, kind, canonical.Options{RecursionDepthLimit: s.depthLimit})
	if err != nil {
		return nil, nil, "", translate(err)
	}
	return doc, body, etag, nil
}

func (s *Server) createHandler(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, body, etag, err := s.parseBody(w, r, res.kind)
		if err != nil {
			writeError(w, err)
			return
		}

		// Cheap duplicate check before burning an event; the writer
		// re-verifies under serialization.
		if _, exists, err := s.store.CurrentETag(r.Context(), res.kind, doc.ID); err != nil {
			writeError(w, err)
			return
		} else if exists {
			writeError(w, apierr.New(apierr.Conflict, "id already exists"))
			return
		}

		ev := eventlog.NewEvent(eventlog.EventCreated, res.kind, doc.ID)
		ev.CreateOnly = true
		ev.Payload = body
		ev.ETagAfter = etag
		ev.CorrelationID = r.Header.Get(requestIDHeader)

		result, err := s.submit.Submit(r.Context(), ev)
		if err != nil {
			writeError(w, err)
			return
		}
		switch result.Status {
		case writer.StatusApplied:
			w.Header().Set("Location", res.path+"/"+idcodec.Encode(doc.ID))
			writeCanonical(w, http.StatusCreated, body, etag)
		case writer.StatusConflict:
			writeError(w, apierr.New(apierr.Conflict, "id already exists"))
		default:
			writeError(w, apierr.New(apierr.Internal, "write not applied"))
		}
	}
}

func (s *Server) putHandler(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		doc, body, etag, err := s.parseBody(w, r, res.kind)
		if err != nil {
			writeError(w, err)
			return
		}
		if doc.ID != id {
			writeError(w, apierr.New(apierr.ValidationError, "body id does not match the path"))
			return
		}

		im := ifMatch(r)
		requireAbsent := ifNoneMatch(r) == "*"

		current, exists, err := s.store.CurrentETag(r.Context(), res.kind, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if requireAbsent && exists {
			writeError(w, apierr.New(apierr.PreconditionFailed, "entity already exists"))
			return
		}
		if im != "" {
			if !exists {
				writeError(w, apierr.New(apierr.PreconditionFailed, "entity absent"))
				return
			}
			if im != "*" && im != current {
				writeError(w, apierr.New(apierr.PreconditionFailed, "stale etag"))
				return
			}
		}
		// Byte-identical replay: nothing to write.
		if exists && current == etag {
			w.Header().Set("ETag", quoteETag(etag))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		var ev eventlog.Event
		if exists {
			ev = eventlog.NewEvent(eventlog.EventUpdated, res.kind, id)
			if im != "" && im != "*" {
				ev.ETagBefore = im
			}
		} else {
			ev = eventlog.NewEvent(eventlog.EventCreated, res.kind, id)
			ev.CreateOnly = true
		}
		ev.Payload = body
		ev.ETagAfter = etag
		ev.CorrelationID = r.Header.Get(requestIDHeader)

		result, err := s.submit.Submit(r.Context(), ev)
		if err != nil {
			writeError(w, err)
			return
		}
		switch result.Status {
		case writer.StatusApplied, writer.StatusNoOp:
			w.Header().Set("ETag", quoteETag(etag))
			if exists {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.Header().Set("Location", res.path+"/"+idcodec.Encode(id))
				writeCanonical(w, http.StatusCreated, body, etag)
			}
		case writer.StatusConflict:
			if ev.CreateOnly {
				writeError(w, apierr.New(apierr.Conflict, "id already exists"))
			} else {
				writeError(w, apierr.New(apierr.PreconditionFailed, "stale etag"))
			}
		default:
			writeError(w, apierr.New(apierr.Internal, "write not applied"))
		}
	}
}

func (s *Server) deleteHandler(res resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		current, exists, err := s.store.CurrentETag(r.Context(), res.kind, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !exists {
			writeError(w, apierr.New(apierr.NotFound, "entity absent"))
			return
		}

		im := ifMatch(r)
		if im != "" && im != "*" && im != current {
			writeError(w, apierr.New(apierr.PreconditionFailed, "stale etag"))
			return
		}

		ev := eventlog.NewEvent(eventlog.EventDeleted, res.kind, id)
		if im != "" && im != "*" {
			ev.ETagBefore = im
		}
		ev.CorrelationID = r.Header.Get(requestIDHeader)

		result, err := s.submit.Submit(r.Context(), ev)
		if err != nil {
			writeError(w, err)
			return
		}
		switch result.Status {
		case writer.StatusApplied, writer.StatusNoOp:
			w.WriteHeader(http.StatusNoContent)
		case writer.StatusConflict:
			writeError(w, apierr.New(apierr.PreconditionFailed, "stale etag"))
		default:
			writeError(w, apierr.New(apierr.Internal, "write not applied"))
		}
	}
}
