package store

import (
	"context"
	"fmt"
	"time"

	"github.com/titan-aas/titan/pkg/aas"
)

// Filter narrows a list. Empty fields match everything.
type Filter struct {
	IDShort       string
	SemanticID    string
	ModellingKind string
	// AssetID restricts shells to those linked to the asset id.
	AssetID string
}

// Key is the cache-key discriminator for the filter. Stable across field
// order; empty for the unfiltered list.
func (f Filter) Key() string {
	if f == (Filter{}) {
		return ""
	}
	return fmt.Sprintf("s=%s;m=%s;k=%s;a=%s", f.IDShort, f.SemanticID, f.ModellingKind, f.AssetID)
}

// Item is one entry of a page: the canonical bytes plus the header fields
// list responses and cache keys need.
type Item struct {
	ID        string
	IDToken   string
	ETag      string
	UpdatedAt time.Time
	Bytes     []byte
}

// Page is one list result.
type Page struct {
	Items []Item
	// NextCursor is non-empty when more items may follow.
	NextCursor string
}

// List returns one page of entities of a kind, ordered by (updated_ns, id)
// ascending. cursorToken resumes a previous page; limit is already clamped
// by the caller.
func (s *Store) List(ctx context.Context, kind aas.Kind, f Filter, cursorToken string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT e.id, e.id_token, e.etag, e.updated_ns, e.doc_bytes
FROM titan_entities e`
	var (
		where []string
		args  []any
	)
	if f.AssetID != "" {
		q += ` JOIN titan_asset_links l ON l.shell_id = e.id`
		where = append(where, `l.asset_id = ?`)
		args = append(args, f.AssetID)
	}
	where = append(where, `e.kind = ?`)
	args = append(args, string(kind))
	if f.IDShort != "" {
		where = append(where, `e.id_short = ?`)
		args = append(args, f.IDShort)
	}
	if f.SemanticID != "" {
		where = append(where, `e.semantic_id = ?`)
		args = append(args, f.SemanticID)
	}
	if f.ModellingKind != "" {
		where = append(where, `e.modelling_kind = ?`)
		args = append(args, f.ModellingKind)
	}
	if cursorToken != "" {
		c, err := decodeCursor(cursorToken)
		if err != nil {
			return Page{}, err
		}
		where = append(where, `(e.updated_ns > ? OR (e.updated_ns = ? AND e.id > ?))`)
		args = append(args, c.updatedNS, c.updatedNS, c.id)
	}

	q += ` WHERE ` + where[0]
	for _, w := range where[1:] {
		q += ` AND ` + w
	}
	// Fetch one extra row to learn whether a next page exists.
	q += ` ORDER BY e.updated_ns, e.id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return Page{}, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		var (
			it        Item
			updatedNS int64
			body      []byte
		)
		if err := rows.Scan(&it.ID, &it.IDToken, &it.ETag, &updatedNS, &body); err != nil {
			return Page{}, fmt.Errorf("%w: list scan: %v", ErrUnavailable, err)
		}
		it.UpdatedAt = time.Unix(0, updatedNS).UTC()
		it.Bytes = body
		page.Items = append(page.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("%w: list rows: %v", ErrUnavailable, err)
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(cursor{updatedNS: last.UpdatedAt.UnixNano(), id: last.ID})
	}
	return page, nil
}
