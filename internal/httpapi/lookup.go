package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/titan-aas/titan/pkg/apierr"
	"github.com/titan-aas/titan/pkg/idcodec"
)

// Discovery: asset id to shell id resolution, backed by the asset-links
// index the writer maintains alongside each shell.

func (s *Server) mountLookupRoutes(r *mux.Router) {
	r.HandleFunc("/lookup/shells", s.lookupShells).Methods(http.MethodGet)
}

func (s *Server) lookupShells(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("assetIds")
	if token == "" {
		writeError(w, apierr.New(apierr.ValidationError, "assetIds query parameter required"))
		return
	}
	assetID, err := idcodec.Decode(token)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.BadIdentifier, "malformed assetIds token", err))
		return
	}

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

	ids, err := s.store.LookupShellsByAssetID(r.Context(), assetID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": ids})
}
