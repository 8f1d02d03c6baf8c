// Package store is the durable persistence layer.
//
// Every entity row carries two representations updated in one atomic
// statement: the indexed header columns the list filters run on, and the
// canonical byte form the fast read path streams untouched. Only the
// single-writer worker calls the mutating methods; readers never lock.
//
// The layer speaks database/sql and runs on PostgreSQL (lib/pq) in
// production and SQLite (mattn/go-sqlite3) for development and tests.
// Queries are written with ? placeholders and rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/canonical"
	"github.com/titan-aas/titan/pkg/idcodec"
)

var (
	// ErrNotFound indicates the entity row is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a conditional write lost (stale etag or
	// create-only on an existing row).
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable indicates a database fault.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrInvalid indicates caller input was rejected before touching the db.
	ErrInvalid = errors.New("store: invalid input")
)

// Record is the stored shape of one entity.
type Record struct {
	Kind          aas.Kind
	ID            string
	IDToken       string
	IDShort       string
	SemanticID    string
	ModellingKind string
	AssetIDs      []string
	Bytes         []byte
	ETag          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RecordOf builds a Record from a validated document and its canonical form.
func RecordOf(doc *aas.Document, canonicalBytes []byte, etag string) Record {
	return Record{
		Kind:          doc.Kind,
		ID:            doc.ID,
		IDToken:       idcodec.Encode(doc.ID),
		IDShort:       doc.IDShort,
		SemanticID:    doc.SemanticID,
		ModellingKind: doc.ModellingKind,
		AssetIDs:      doc.AssetIDs,
		Bytes:         canonicalBytes,
		ETag:          etag,
	}
}

// Condition guards a write.
type Condition struct {
	// CreateOnly fails with ErrConflict when the row already exists.
	CreateOnly bool
	// ETagBefore, when non-empty, requires the current row etag to match.
	// A replay (row already at the target etag) is reported as a no-op.
	ETagBefore string
}

// Outcome reports what a conditional write did.
type Outcome struct {
	Applied   bool // row inserted or updated
	NoOp      bool // replay: row already carried the target etag
	ETag      string
	UpdatedAt time.Time
}

// Store wraps the database handle and dialect.
type Store struct {
	db         *sql.DB
	bindTyp    int
	depthLimit int
}

// Open connects using the store URL scheme: postgres:// or postgresql://
// route to lib/pq; sqlite:// routes to go-sqlite3 (path follows the scheme,
// ":memory:" supported). depthLimit is the element depth cap the stored
// documents were validated under (0 means the default); GetParsed sizes its
// decode bound from it.
func Open(storeURL string, depthLimit int) (*Store, error) {
	u := strings.TrimSpace(storeURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		db, err := sql.Open("postgres", u)
		if err != nil {
			return nil, fmt.Errorf("%w: open postgres: %v", ErrUnavailable, err)
		}
		return &Store{db: db, bindTyp: sqlx.DOLLAR, depthLimit: depthLimit}, nil
	case strings.HasPrefix(u, "sqlite://"):
		dsn := strings.TrimPrefix(u, "sqlite://")
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
		}
		// SQLite handles one writer; keep the pool at a single conn so
		// in-memory databases see a consistent schema.
		db.SetMaxOpenConns(1)
		return &Store{db: db, bindTyp: sqlx.QUESTION, depthLimit: depthLimit}, nil
	}
	return nil, fmt.Errorf("%w: unsupported store url %q", ErrInvalid, storeURL)
}

func (s *Store) rebind(q string) string {
	return sqlx.Rebind(s.bindTyp, q)
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping probes connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}

// EnsureSchema creates tables and indexes. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS titan_entities (
  kind           TEXT   NOT NULL,
  id             TEXT   NOT NULL,
  id_token       TEXT   NOT NULL,
  id_short       TEXT   NOT NULL DEFAULT '',
  semantic_id    TEXT   NOT NULL DEFAULT '',
  modelling_kind TEXT   NOT NULL DEFAULT '',
  doc_bytes      TEXT   NOT NULL,
  etag           TEXT   NOT NULL,
  created_ns     BIGINT NOT NULL,
  updated_ns     BIGINT NOT NULL,
  PRIMARY KEY (kind, id)
)`,
		`CREATE INDEX IF NOT EXISTS titan_entities_page ON titan_entities (kind, updated_ns, id)`,
		`CREATE INDEX IF NOT EXISTS titan_entities_id_short ON titan_entities (kind, id_short)`,
		`CREATE INDEX IF NOT EXISTS titan_entities_semantic ON titan_entities (kind, semantic_id)`,
		`CREATE INDEX IF NOT EXISTS titan_entities_mkind ON titan_entities (kind, modelling_kind)`,
		`CREATE TABLE IF NOT EXISTS titan_asset_links (
  shell_id TEXT NOT NULL,
  asset_id TEXT NOT NULL,
  PRIMARY KEY (shell_id, asset_id)
)`,
		`CREATE INDEX IF NOT EXISTS titan_asset_links_asset ON titan_asset_links (asset_id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Get returns the canonical bytes and etag of an entity. Fast read path:
// no parsing happens here or downstream.
func (s *Store) Get(ctx context.Context, kind aas.Kind, id string) ([]byte, string, time.Time, error) {
	q := s.rebind(`SELECT doc_bytes, etag, updated_ns FROM titan_entities WHERE kind = ? AND id = ?`)
	var (
		body      []byte
		etag      string
		updatedNS int64
	)
	err := s.db.QueryRowContext(ctx, q, string(kind), id).Scan(&body, &etag, &updatedNS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", time.Time{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		return nil, "", time.Time{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	return body, etag, time.Unix(0, updatedNS).UTC(), nil
}

// GetParsed returns the parsed document and etag. Slow read path.
func (s *Store) GetParsed(ctx context.Context, kind aas.Kind, id string) (*aas.Document, string, error) {
	body, etag, _, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, "", err
	}
	root, err := canonical.Decode(body, canonical.DecodeDepthFor(s.depthLimit))
	if err != nil {
		// Stored bytes are canonical by construction; a parse failure here
		// is corruption, not client error.
		return nil, "", fmt.Errorf("%w: stored bytes unparseable: %v", ErrUnavailable, err)
	}
	return aas.ExtractHeader(kind, root), etag, nil
}

// CurrentETag returns the etag of an entity without the body, and whether
// the row exists at all.
func (s *Store) CurrentETag(ctx context.Context, kind aas.Kind, id string) (string, bool, error) {
	q := s.rebind(`SELECT etag FROM titan_entities WHERE kind = ? AND id = ?`)
	var etag string
	err := s.db.QueryRowContext(ctx, q, string(kind), id).Scan(&etag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: etag: %v", ErrUnavailable, err)
	}
	return etag, true, nil
}

// Upsert writes the record under cond. The entity row and its asset links
// move in one transaction; updated_ns is strictly monotonic per entity even
// when the wall clock stalls.
func (s *Store) Upsert(ctx context.Context, rec Record, cond Condition) (Outcome, error) {
	if rec.ID == "" || rec.Kind == "" || rec.ETag == "" || len(rec.Bytes) == 0 {
		return Outcome{}, fmt.Errorf("%w: incomplete record", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		curETag  string
		curUpdNS int64
		exists   = true
	)
	q := s.rebind(`SELECT etag, updated_ns FROM titan_entities WHERE kind = ? AND id = ?`)
	err = tx.QueryRowContext(ctx, q, string(rec.Kind), rec.ID).Scan(&curETag, &curUpdNS)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return Outcome{}, fmt.Errorf("%w: upsert read: %v", ErrUnavailable, err)
	}

	if exists && cond.CreateOnly {
		return Outcome{}, fmt.Errorf("%w: %s/%s already exists", ErrConflict, rec.Kind, rec.ID)
	}
	if cond.ETagBefore != "" {
		if exists && curETag == rec.ETag {
			// Replay of an already-applied event.
			if err := tx.Commit(); err != nil {
				return Outcome{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
			}
			return Outcome{NoOp: true, ETag: curETag, UpdatedAt: time.Unix(0, curUpdNS).UTC()}, nil
		}
		if !exists || curETag != cond.ETagBefore {
			return Outcome{}, fmt.Errorf("%w: stale etag precondition", ErrConflict)
		}
	}

	nowNS := time.Now().UTC().UnixNano()
	updNS := nowNS
	if exists && updNS <= curUpdNS {
		updNS = curUpdNS + 1
	}
	createdNS := updNS
	if exists {
		q = s.rebind(`UPDATE titan_entities
SET id_token = ?, id_short = ?, semantic_id = ?, modelling_kind = ?,
    doc_bytes = ?, etag = ?, updated_ns = ?
WHERE kind = ? AND id = ?`)
		if _, err := tx.ExecContext(ctx, q,
			rec.IDToken, rec.IDShort, rec.SemanticID, rec.ModellingKind,
			string(rec.Bytes), rec.ETag, updNS, string(rec.Kind), rec.ID); err != nil {
			return Outcome{}, fmt.Errorf("%w: update: %v", ErrUnavailable, err)
		}
	} else {
		q = s.rebind(`INSERT INTO titan_entities
  (kind, id, id_token, id_short, semantic_id, modelling_kind, doc_bytes, etag, created_ns, updated_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q,
			string(rec.Kind), rec.ID, rec.IDToken, rec.IDShort, rec.SemanticID,
			rec.ModellingKind, string(rec.Bytes), rec.ETag, createdNS, updNS); err != nil {
			return Outcome{}, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
		}
	}

	if rec.Kind == aas.KindShell {
		if err := s.replaceAssetLinks(ctx, tx, rec.ID, rec.AssetIDs); err != nil {
			return Outcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return Outcome{Applied: true, ETag: rec.ETag, UpdatedAt: time.Unix(0, updNS).UTC()}, nil
}

// Delete removes an entity row. Returns whether a row was removed; deleting
// an absent row is not an error (redelivered delete events are no-ops).
func (s *Store) Delete(ctx context.Context, kind aas.Kind, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.rebind(`DELETE FROM titan_entities WHERE kind = ? AND id = ?`)
	res, err := tx.ExecContext(ctx, q, string(kind), id)
	if err != nil {
		return false, fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	n, _ := res.RowsAffected()

	if kind == aas.KindShell {
		q = s.rebind(`DELETE FROM titan_asset_links WHERE shell_id = ?`)
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return false, fmt.Errorf("%w: delete links: %v", ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *Store) replaceAssetLinks(ctx context.Context, tx *sql.Tx, shellID string, assetIDs []string) error {
	q := s.rebind(`DELETE FROM titan_asset_links WHERE shell_id = ?`)
	if _, err := tx.ExecContext(ctx, q, shellID); err != nil {
		return fmt.Errorf("%w: links clear: %v", ErrUnavailable, err)
	}
	seen := map[string]struct{}{}
	ins := s.rebind(`INSERT INTO titan_asset_links (shell_id, asset_id) VALUES (?, ?)`)
	for _, a := range assetIDs {
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if _, err := tx.ExecContext(ctx, ins, shellID, a); err != nil {
			return fmt.Errorf("%w: links insert: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// LookupShellsByAssetID returns shell ids linked to an asset id, in stable
// order. Discovery index; bounded by the result size.
func (s *Store) LookupShellsByAssetID(ctx context.Context, assetID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.rebind(`SELECT shell_id FROM titan_asset_links WHERE asset_id = ? ORDER BY shell_id LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: lookup scan: %v", ErrUnavailable, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: lookup rows: %v", ErrUnavailable, err)
	}
	return out, nil
}
