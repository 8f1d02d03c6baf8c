package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/canonical"
	"github.com/titan-aas/titan/pkg/idcodec"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://:memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func shellRecord(id, idShort, etag string, assetIDs ...string) Record {
	body := fmt.Sprintf(`{"id":%q,"idShort":%q,"modelType":"AssetAdministrationShell"}`, id, idShort)
	return Record{
		Kind:     aas.KindShell,
		ID:       id,
		IDToken:  idcodec.Encode(id),
		IDShort:  idShort,
		AssetIDs: assetIDs,
		Bytes:    []byte(body),
		ETag:     etag,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := shellRecord("urn:shell:1", "pump", "etag-1")
	out, err := s.Upsert(ctx, rec, Condition{})
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Equal(t, "etag-1", out.ETag)

	body, etag, updated, err := s.Get(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.Equal(t, rec.Bytes, body)
	require.Equal(t, "etag-1", etag)
	require.False(t, updated.IsZero())
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, _, _, err := s.Get(context.Background(), aas.KindShell, "urn:none")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOnlyConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e1"), Condition{CreateOnly: true})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e2"), Condition{CreateOnly: true})
	require.ErrorIs(t, err, ErrConflict)
}

func TestConditionalUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e1"), Condition{})
	require.NoError(t, err)

	// Matching precondition applies.
	out, err := s.Upsert(ctx, shellRecord("urn:shell:1", "b", "e2"), Condition{ETagBefore: "e1"})
	require.NoError(t, err)
	require.True(t, out.Applied)

	// Stale precondition conflicts.
	_, err = s.Upsert(ctx, shellRecord("urn:shell:1", "c", "e3"), Condition{ETagBefore: "e1"})
	require.ErrorIs(t, err, ErrConflict)

	// Redelivery of the applied write is a no-op, not a conflict.
	out, err = s.Upsert(ctx, shellRecord("urn:shell:1", "b", "e2"), Condition{ETagBefore: "e1"})
	require.NoError(t, err)
	require.True(t, out.NoOp)
	require.Equal(t, "e2", out.ETag)
}

func TestUpdatedAtMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 5; i++ {
		out, err := s.Upsert(ctx, shellRecord("urn:shell:1", "a", fmt.Sprintf("e%d", i)), Condition{})
		require.NoError(t, err)
		require.True(t, out.UpdatedAt.After(prev))
		prev = out.UpdatedAt
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e1", "asset-9"), Condition{})
	require.NoError(t, err)

	removed, err := s.Delete(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.True(t, removed)

	_, _, _, err = s.Get(ctx, aas.KindShell, "urn:shell:1")
	require.ErrorIs(t, err, ErrNotFound)

	// Asset links go with the shell.
	ids, err := s.LookupShellsByAssetID(ctx, "asset-9", 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	// Deleting again is a no-op.
	removed, err = s.Delete(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestLookupShellsByAssetID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, shellRecord("urn:shell:2", "b", "e1", "asset-1"), Condition{})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e1", "asset-1", "asset-2"), Condition{})
	require.NoError(t, err)

	ids, err := s.LookupShellsByAssetID(ctx, "asset-1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"urn:shell:1", "urn:shell:2"}, ids)

	ids, err = s.LookupShellsByAssetID(ctx, "asset-2", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"urn:shell:1"}, ids)

	// Re-upserting the shell replaces its link set.
	_, err = s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e2", "asset-3"), Condition{})
	require.NoError(t, err)
	ids, err = s.LookupShellsByAssetID(ctx, "asset-2", 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestListPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := s.Upsert(ctx, shellRecord(fmt.Sprintf("urn:shell:%d", i), "x", "e1"), Condition{})
		require.NoError(t, err)
	}

	var seen []string
	token := ""
	for {
		page, err := s.List(ctx, aas.KindShell, Filter{}, token, 3)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 3)
		for _, it := range page.Items {
			seen = append(seen, it.ID)
		}
		if page.NextCursor == "" {
			break
		}
		token = page.NextCursor
	}
	require.Len(t, seen, 7)

	// No duplicates across pages.
	uniq := map[string]struct{}{}
	for _, id := range seen {
		uniq[id] = struct{}{}
	}
	require.Len(t, uniq, 7)
}

func TestListFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := shellRecord("urn:shell:a", "pump", "e1", "asset-1")
	a.SemanticID = "urn:sem:1"
	b := shellRecord("urn:shell:b", "valve", "e1")
	b.SemanticID = "urn:sem:2"
	_, err := s.Upsert(ctx, a, Condition{})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, b, Condition{})
	require.NoError(t, err)

	page, err := s.List(ctx, aas.KindShell, Filter{IDShort: "pump"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "urn:shell:a", page.Items[0].ID)

	page, err = s.List(ctx, aas.KindShell, Filter{SemanticID: "urn:sem:2"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "urn:shell:b", page.Items[0].ID)

	page, err = s.List(ctx, aas.KindShell, Filter{AssetID: "asset-1"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "urn:shell:a", page.Items[0].ID)

	page, err = s.List(ctx, aas.KindShell, Filter{IDShort: "nothing"}, "", 10)
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestListBadCursor(t *testing.T) {
	s := openTestStore(t)
	_, err := s.List(context.Background(), aas.KindShell, Filter{}, "not-a-cursor!!", 10)
	require.ErrorIs(t, err, ErrBadCursor)
}

func TestCurrentETag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CurrentETag(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Upsert(ctx, shellRecord("urn:shell:1", "a", "e1"), Condition{})
	require.NoError(t, err)

	etag, ok, err := s.CurrentETag(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e1", etag)
}

func TestGetParsed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, shellRecord("urn:shell:1", "pump", "e1"), Condition{})
	require.NoError(t, err)

	doc, etag, err := s.GetParsed(ctx, aas.KindShell, "urn:shell:1")
	require.NoError(t, err)
	require.Equal(t, "e1", etag)
	require.Equal(t, "urn:shell:1", doc.ID)
	require.Equal(t, "pump", doc.IDShort)
}

func TestGetParsedDeepDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Deep nesting accepted at the default limit must stay readable on the
	// slow path.
	inner := `{"idShort":"P","modelType":"Property","valueType":"xs:int","value":"1"}`
	for i := 0; i < 40; i++ {
		inner = fmt.Sprintf(`{"idShort":"C%d","modelType":"SubmodelElementCollection","value":[%s]}`, i, inner)
	}
	raw := `{"id":"urn:sm:deep","submodelElements":[` + inner + `]}`

	doc, body, etag, err := canonical.ParseAndValidate([]byte(raw), aas.KindSubmodel, canonical.Options{})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, RecordOf(doc, body, etag), Condition{})
	require.NoError(t, err)

	got, gotETag, err := s.GetParsed(ctx, aas.KindSubmodel, "urn:sm:deep")
	require.NoError(t, err)
	require.Equal(t, etag, gotETag)
	require.Equal(t, "urn:sm:deep", got.ID)
}
