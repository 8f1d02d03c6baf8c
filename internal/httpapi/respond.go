package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/pkg/apierr"
	"github.com/titan-aas/titan/pkg/canonical"
)

const contentTypeJSON = "application/json"

// writeJSON marshals v. Used for structural responses (health, lookup,
// paging envelopes built from parts); entity bodies go through
// writeCanonical instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCanonical streams pre-serialized canonical bytes with the entity
// ETag. The fast path and cache hits both land here.
func writeCanonical(w http.ResponseWriter, status int, body []byte, etag string) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if etag != "" {
		w.Header().Set("ETag", quoteETag(etag))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError translates any error into the taxonomy wire shape. Dependency
// outages carry a Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	err = translate(err)
	code := apierr.CodeOf(err)
	status := apierr.HTTPStatus(code)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierr.BodyFor(err, time.Now()))
}

// writeErrorStatus emits a taxonomy-shaped body for adapter-level statuses
// that have no component error behind them.
func writeErrorStatus(w http.ResponseWriter, status int, code, text string) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierr.Body{Messages: []apierr.Message{{
		Code:        code,
		MessageType: "Error",
		Text:        text,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}})
}

// translate maps component sentinels onto the taxonomy. Taxonomy errors
// pass through untouched.
func translate(err error) error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierr.Wrap(apierr.NotFound, "entity absent", err)
	case errors.Is(err, store.ErrConflict):
		return apierr.Wrap(apierr.Conflict, "conflicting write", err)
	case errors.Is(err, store.ErrBadCursor):
		return apierr.Wrap(apierr.BadCursor, "cursor not recognized", err)
	case errors.Is(err, store.ErrUnavailable):
		return apierr.Wrap(apierr.StoreUnavailable, "store unavailable", err)
	case errors.Is(err, canonical.ErrValidation):
		return apierr.Wrap(apierr.ValidationError, err.Error(), err)
	}
	return apierr.Wrap(apierr.Internal, "internal error", err)
}

// quoteETag renders the strong validator form used on the wire.
func quoteETag(etag string) string {
	return `"` + etag + `"`
}

// unquoteETag accepts quoted, weak-prefixed and bare validator forms.
func unquoteETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

// ifMatch extracts the If-Match validator. Returns the bare etag, or ""
// when the header is absent. "*" means "entity must exist" and is returned
// verbatim.
func ifMatch(r *http.Request) string {
	return unquoteETag(r.Header.Get("If-Match"))
}

// ifNoneMatch extracts If-None-Match the same way.
func ifNoneMatch(r *http.Request) string {
	return unquoteETag(r.Header.Get("If-None-Match"))
}

// notModified reports whether a read with the given current etag should
// short-circuit to 304.
func notModified(r *http.Request, etag string) bool {
	raw := strings.TrimSpace(r.Header.Get("If-None-Match"))
	if raw == "" {
		return false
	}
	if raw == "*" {
		return true
	}
	for _, cand := range strings.Split(raw, ",") {
		if unquoteETag(cand) == etag {
			return true
		}
	}
	return false
}
