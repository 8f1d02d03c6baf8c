package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/titan-aas/titan/internal/broadcast"
	"github.com/titan-aas/titan/internal/cache"
	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/internal/writer"
	"github.com/titan-aas/titan/pkg/idcodec"
	"github.com/titan-aas/titan/pkg/telemetry"
)

type env struct {
	router *mux.Router
	bcast  *broadcast.Broadcaster
}

func newEnv(t *testing.T, tweak func(*Options)) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	metrics := telemetry.NewTestMetrics()

	st, err := store.Open("sqlite://:memory:", 0)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(context.Background()))

	ch, err := cache.New(cache.Options{URL: url, Metrics: metrics})
	require.NoError(t, err)

	events, err := eventlog.New(eventlog.Options{URL: url, Partitions: 2})
	require.NoError(t, err)

	bus, err := writer.NewBus(url, nil)
	require.NoError(t, err)

	bcast := broadcast.New(64, metrics)

	w := writer.New(writer.Options{
		Events:      events,
		Store:       st,
		Cache:       ch,
		Broadcaster: bcast,
		Bus:         bus,
		Consumer:    "test-1",
		Metrics:     metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = events.Close()
		_ = bus.Close()
		_ = ch.Close()
		_ = st.Close()
	})

	opts := Options{
		Store:       st,
		Cache:       ch,
		Submitter:   writer.NewSubmitter(events, bus, 5*time.Second, metrics),
		Broadcaster: bcast,
		Metrics:     metrics,
	}
	if tweak != nil {
		tweak(&opts)
	}
	srv := NewServer(opts)
	return &env{router: srv.Router(), bcast: bcast}
}

func (e *env) do(method, path string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func shellJSON(id, idShort, assetID string) string {
	return fmt.Sprintf(`{
	  "id": %q,
	  "idShort": %q,
	  "modelType": "AssetAdministrationShell",
	  "assetInformation": {"assetKind": "Instance", "globalAssetId": %q}
	}`, id, idShort, assetID)
}

func submodelJSON(id string) string {
	return fmt.Sprintf(`{
	  "id": %q,
	  "idShort": "Machine",
	  "modelType": "Submodel",
	  "submodelElements": [
	    {"idShort": "Temp", "modelType": "Property", "valueType": "xs:double", "value": "21.5"},
	    {"idShort": "Unit", "modelType": "SubmodelElementCollection", "value": [
	      {"idShort": "Name", "modelType": "Property", "valueType": "xs:string", "value": "pump"}
	    ]}
	  ]
	}`, id)
}

func token(id string) string { return idcodec.Encode(id) }

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Messages []struct {
			Code string `json:"code"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Messages)
	return body.Messages[0].Code
}

func TestShellLifecycle(t *testing.T) {
	e := newEnv(t, nil)

	// Create.
	w := e.do(http.MethodPost, "/shells", shellJSON("urn:shell:1", "Pump", "urn:asset:1"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "/shells/"+token("urn:shell:1"), w.Header().Get("Location"))
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	require.True(t, strings.HasPrefix(etag, `"`))

	// Duplicate create conflicts.
	w = e.do(http.MethodPost, "/shells", shellJSON("urn:shell:1", "Pump", "urn:asset:1"), nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "entity.conflict", errorCode(t, w))

	// Read back: canonical body, same etag, Last-Modified set.
	w = e.do(http.MethodGet, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, etag, w.Header().Get("ETag"))
	require.NotEmpty(t, w.Header().Get("Last-Modified"))
	require.JSONEq(t, shellJSON("urn:shell:1", "Pump", "urn:asset:1"), w.Body.String())

	// Second read is served from the cache and keeps the headers.
	w = e.do(http.MethodGet, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, etag, w.Header().Get("ETag"))
	require.NotEmpty(t, w.Header().Get("Last-Modified"))

	// Conditional read.
	w = e.do(http.MethodGet, "/shells/"+token("urn:shell:1"), "", map[string]string{"If-None-Match": etag})
	require.Equal(t, http.StatusNotModified, w.Code)
	require.Empty(t, w.Body.String())

	// HEAD carries headers only.
	w = e.do(http.MethodHead, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, etag, w.Header().Get("ETag"))
	require.Empty(t, w.Body.String())

	// Conditional replace.
	w = e.do(http.MethodPut, "/shells/"+token("urn:shell:1"),
		shellJSON("urn:shell:1", "PumpV2", "urn:asset:1"),
		map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusNoContent, w.Code)
	newETag := w.Header().Get("ETag")
	require.NotEqual(t, etag, newETag)

	// Stale etag loses.
	w = e.do(http.MethodPut, "/shells/"+token("urn:shell:1"),
		shellJSON("urn:shell:1", "PumpV3", "urn:asset:1"),
		map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	require.Equal(t, "precondition.failed", errorCode(t, w))

	// Delete, then the entity is gone.
	w = e.do(http.MethodDelete, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodGet, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "entity.not_found", errorCode(t, w))
	w = e.do(http.MethodDelete, "/shells/"+token("urn:shell:1"), "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutCreatesWhenAbsent(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPut, "/shells/"+token("urn:shell:9"),
		shellJSON("urn:shell:9", "New", "urn:asset:9"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// If-None-Match: * rejects replacing an existing entity.
	w = e.do(http.MethodPut, "/shells/"+token("urn:shell:9"),
		shellJSON("urn:shell:9", "Other", "urn:asset:9"),
		map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestPutBodyPathMismatch(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPut, "/shells/"+token("urn:shell:1"),
		shellJSON("urn:shell:2", "Pump", "urn:asset:1"), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation.invalid", errorCode(t, w))
}

func TestBadIdentifierToken(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodGet, "/shells/%21%21not-base64url%21%21", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "identifier.invalid", errorCode(t, w))
}

func TestValidationRejected(t *testing.T) {
	e := newEnv(t, nil)
	// Unknown key.
	w := e.do(http.MethodPost, "/shells",
		`{"id":"urn:shell:1","bogus":1,"assetInformation":{"assetKind":"Instance"}}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "validation.invalid", errorCode(t, w))

	// Duplicate key.
	w = e.do(http.MethodPost, "/shells",
		`{"id":"urn:shell:1","id":"urn:shell:1","assetInformation":{"assetKind":"Instance"}}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayloadTooLarge(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.MaxBodyBytes = 64 })
	w := e.do(http.MethodPost, "/shells", shellJSON("urn:shell:1", "Pump", "urn:asset:1"), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "payload.too_large", errorCode(t, w))
}

func TestListPagingAndFilters(t *testing.T) {
	e := newEnv(t, nil)
	for i := 1; i <= 3; i++ {
		w := e.do(http.MethodPost, "/shells",
			shellJSON(fmt.Sprintf("urn:shell:%d", i), fmt.Sprintf("Pump%d", i), fmt.Sprintf("urn:asset:%d", i)), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	type listPage struct {
		Result         []json.RawMessage `json:"result"`
		PagingMetadata struct {
			Cursor string `json:"cursor"`
		} `json:"paging_metadata"`
	}
	var page listPage

	w := e.do(http.MethodGet, "/shells?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Result, 2)
	require.NotEmpty(t, page.PagingMetadata.Cursor)

	w = e.do(http.MethodGet, "/shells?limit=2&cursor="+page.PagingMetadata.Cursor, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = listPage{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Result, 1)
	require.Empty(t, page.PagingMetadata.Cursor)

	// idShort filter.
	w = e.do(http.MethodGet, "/shells?idShort=Pump2", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Result, 1)

	// assetIds filter takes an identifier token.
	w = e.do(http.MethodGet, "/shells?assetIds="+token("urn:asset:3"), "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Result, 1)

	// Bad cursor.
	w = e.do(http.MethodGet, "/shells?cursor=@@@", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "cursor.invalid", errorCode(t, w))

	// Modifiers are a submodel thing.
	w = e.do(http.MethodGet, "/shells/"+token("urn:shell:1")+"?level=core", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "modifier.invalid", errorCode(t, w))

	// kind filter applies to submodels only.
	w = e.do(http.MethodGet, "/shells?kind=Instance", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodGet, "/submodels?kind=Bogus", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodGet, "/submodels?kind=Template", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Empty(t, page.Result)
}

func TestSubmodelProjectionsAndElements(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPost, "/submodels", submodelJSON("urn:sm:1"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/submodels/" + token("urn:sm:1")

	// level=core strips grandchildren.
	w = e.do(http.MethodGet, base+"?level=core", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "pump")
	require.Contains(t, w.Body.String(), "Unit")

	// Unknown modifier value.
	w = e.do(http.MethodGet, base+"?level=everything", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "modifier.invalid", errorCode(t, w))

	// $value.
	w = e.do(http.MethodGet, base+"/$value", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"Temp":"21.5","Unit":{"Name":"pump"}}`, w.Body.String())

	// content=value is the query spelling of $value.
	w = e.do(http.MethodGet, base+"?content=value", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"Temp":"21.5","Unit":{"Name":"pump"}}`, w.Body.String())

	// content=metadata strips the element tree.
	w = e.do(http.MethodGet, base+"?content=metadata", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "submodelElements")

	// content is a submodel modifier too.
	w = e.do(http.MethodGet, base+"?content=reference", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "modifier.invalid", errorCode(t, w))

	// $metadata has no element tree.
	w = e.do(http.MethodGet, base+"/$metadata", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "submodelElements")

	// $path lists addressable paths.
	w = e.do(http.MethodGet, base+"/$path", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paths []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paths))
	require.Equal(t, []string{"Temp", "Unit", "Unit.Name"}, paths)

	// Element read.
	w = e.do(http.MethodGet, base+"/submodel-elements/Unit.Name", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"idShort":"Name","modelType":"Property","valueType":"xs:string","value":"pump"}`, w.Body.String())

	// Element $value.
	w = e.do(http.MethodGet, base+"/submodel-elements/Temp/$value", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"21.5"`, strings.TrimSpace(w.Body.String()))

	// Replace an element.
	w = e.do(http.MethodPut, base+"/submodel-elements/Temp",
		`{"idShort":"Temp","modelType":"Property","valueType":"xs:double","value":"25.0"}`, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodGet, base+"/submodel-elements/Temp/$value", "", nil)
	require.Equal(t, `"25.0"`, strings.TrimSpace(w.Body.String()))

	// Add an element under the collection.
	w = e.do(http.MethodPost, base+"/submodel-elements/Unit",
		`{"idShort":"Serial","modelType":"Property","valueType":"xs:string","value":"X-1"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = e.do(http.MethodGet, base+"/submodel-elements/Unit.Serial", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Duplicate sibling idShort conflicts.
	w = e.do(http.MethodPost, base+"/submodel-elements/Unit",
		`{"idShort":"Serial","modelType":"Property","valueType":"xs:string","value":"X-2"}`, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// Delete an element.
	w = e.do(http.MethodDelete, base+"/submodel-elements/Unit.Serial", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(http.MethodGet, base+"/submodel-elements/Unit.Serial", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Missing element.
	w = e.do(http.MethodGet, base+"/submodel-elements/Nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookupShells(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPost, "/shells", shellJSON("urn:shell:1", "Pump", "urn:asset:shared"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = e.do(http.MethodPost, "/shells", shellJSON("urn:shell:2", "Valve", "urn:asset:shared"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(http.MethodGet, "/lookup/shells?assetIds="+token("urn:asset:shared"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Result []string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, []string{"urn:shell:1", "urn:shell:2"}, out.Result)

	// Missing parameter.
	w = e.do(http.MethodGet, "/lookup/shells", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed token.
	w = e.do(http.MethodGet, "/lookup/shells?assetIds=@@@", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "identifier.invalid", errorCode(t, w))
}

func TestHealthEndpoints(t *testing.T) {
	h := telemetry.NewHealth()
	h.SetLive(true)
	h.Register("store", false, func(ctx context.Context) error { return nil })

	e := newEnv(t, func(o *Options) { o.Health = h })

	w := e.do(http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"ready":true`)
}

func TestRequestIDEcho(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodGet, "/health/live", "", map[string]string{"X-Request-Id": "req-7"})
	require.Equal(t, "req-7", w.Header().Get("X-Request-Id"))

	w = e.do(http.MethodGet, "/health/live", "", nil)
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
