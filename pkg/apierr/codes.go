package apierr

// Code is a stable error code shared across all Titan components.
// Once published, codes are treated as API-stable.
type Code string

// CodeMeta provides metadata for HTTP mapping and retry decisions.
type CodeMeta struct {
	HTTPStatus  int    `json:"http_status"`
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"`        // client|server|dependency
	Description string `json:"description"` // human description
}

// ---- CLIENT ----
const (
	ValidationError    Code = "validation.invalid"
	BadModifier        Code = "modifier.invalid"
	NotFound           Code = "entity.not_found"
	Conflict           Code = "entity.conflict"
	PreconditionFailed Code = "precondition.failed"
	PayloadTooLarge    Code = "payload.too_large"
	TooManyRequests    Code = "rate_limit.exceeded"
	BadIdentifier      Code = "identifier.invalid"
	BadCursor          Code = "cursor.invalid"
)

// ---- DEPENDENCY ----
const (
	StoreUnavailable    Code = "store.unavailable"
	EventLogUnavailable Code = "event_log.unavailable"
	CacheUnavailable    Code = "cache.unavailable"
)

// ---- SERVER ----
const (
	Internal        Code = "internal"
	InternalTimeout Code = "internal.timeout"
)

// registry is intentionally unexported; use Meta/Known/List.
var registry = map[Code]CodeMeta{
	ValidationError:    {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "input violates the metamodel or canonical form"},
	BadModifier:        {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "unknown or illegal query modifier"},
	BadIdentifier:      {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "identifier token is malformed"},
	BadCursor:          {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "pagination cursor is malformed"},
	NotFound:           {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "entity absent"},
	Conflict:           {HTTPStatus: 409, Retryable: false, Kind: "client", Description: "duplicate id on create"},
	PreconditionFailed: {HTTPStatus: 412, Retryable: false, Kind: "client", Description: "ETag precondition not met"},
	PayloadTooLarge:    {HTTPStatus: 413, Retryable: false, Kind: "client", Description: "body exceeds configured cap"},
	TooManyRequests:    {HTTPStatus: 429, Retryable: true, Kind: "client", Description: "rate limited"},

	StoreUnavailable:    {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "store unavailable"},
	EventLogUnavailable: {HTTPStatus: 503, Retryable: true, Kind: "dependency", Description: "cannot durably log the write"},
	CacheUnavailable:    {HTTPStatus: 0, Retryable: true, Kind: "dependency", Description: "cache fail-open; request continues"},

	Internal:        {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "internal error"},
	InternalTimeout: {HTTPStatus: 504, Retryable: true, Kind: "server", Description: "internal timeout"},
}

// Meta returns metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// Known reports whether code is registered.
func Known(code Code) bool {
	_, ok := registry[code]
	return ok
}

// HTTPStatus maps a code to its HTTP status, defaulting to 500 for unknown
// codes so nothing internal leaks as a success.
func HTTPStatus(code Code) int {
	if m, ok := registry[code]; ok && m.HTTPStatus != 0 {
		return m.HTTPStatus
	}
	return 500
}
