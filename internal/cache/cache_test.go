package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/idcodec"
	"github.com/titan-aas/titan/pkg/telemetry"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Options{
		URL:       "redis://" + mr.Addr(),
		EntityTTL: 10 * time.Minute,
		ListTTL:   time.Minute,
		Metrics:   telemetry.NewTestMetrics(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestEntityRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetEntity(ctx, aas.KindShell, "tok1")
	require.False(t, ok)

	updated := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c.SetEntity(ctx, aas.KindShell, "tok1", Entry{ETag: "e1", Bytes: []byte(`{"id":"x"}`), UpdatedAt: updated})

	got, ok := c.GetEntity(ctx, aas.KindShell, "tok1")
	require.True(t, ok)
	require.Equal(t, "e1", got.ETag)
	require.Equal(t, []byte(`{"id":"x"}`), got.Bytes)
	require.Equal(t, updated, got.UpdatedAt)

	require.NoError(t, c.DeleteEntity(ctx, aas.KindShell, "tok1"))
	_, ok = c.GetEntity(ctx, aas.KindShell, "tok1")
	require.False(t, ok)
}

func TestEntityBodyMayContainNewlines(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	body := []byte("{\"id\":\"line\\nbreak\"}\n")
	c.SetEntity(ctx, aas.KindSubmodel, "tok2", Entry{ETag: "e2", Bytes: body})

	got, ok := c.GetEntity(ctx, aas.KindSubmodel, "tok2")
	require.True(t, ok)
	require.Equal(t, "e2", got.ETag)
	require.Equal(t, body, got.Bytes)
}

func TestListRoundTripAndInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	k1 := ListKey(aas.KindShell, "s=pump", 50, "")
	k2 := ListKey(aas.KindShell, "", 100, "abc")
	other := ListKey(aas.KindSubmodel, "", 100, "")

	c.SetList(ctx, k1, []byte(`{"result":[]}`))
	c.SetList(ctx, k2, []byte(`{"result":[]}`))
	c.SetList(ctx, other, []byte(`{"result":[]}`))

	_, ok := c.GetList(ctx, k1)
	require.True(t, ok)

	require.NoError(t, c.InvalidateLists(ctx, aas.KindShell))

	_, ok = c.GetList(ctx, k1)
	require.False(t, ok)
	_, ok = c.GetList(ctx, k2)
	require.False(t, ok)

	// Other kinds are untouched.
	_, ok = c.GetList(ctx, other)
	require.True(t, ok)
}

func TestListKeyStable(t *testing.T) {
	a := ListKey(aas.KindShell, "s=pump", 50, "cur")
	b := ListKey(aas.KindShell, "s=pump", 50, "cur")
	require.Equal(t, a, b)
	require.NotEqual(t, a, ListKey(aas.KindShell, "s=pump", 51, "cur"))
	require.NotEqual(t, a, ListKey(aas.KindShell, "s=valve", 50, "cur"))
}

func TestSweepEntities(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	live := map[string]string{
		"urn:shell:fresh": "e-fresh",
		"urn:shell:stale": "e-new",
	}
	current := func(ctx context.Context, kind aas.Kind, id string) (string, bool, error) {
		etag, ok := live[id]
		return etag, ok, nil
	}

	c.SetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:fresh"), Entry{ETag: "e-fresh", Bytes: []byte(`{}`)})
	c.SetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:stale"), Entry{ETag: "e-old", Bytes: []byte(`{}`)})
	c.SetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:gone"), Entry{ETag: "e-x", Bytes: []byte(`{}`)})
	// List keys are outside the sweep.
	c.SetList(ctx, ListKey(aas.KindShell, "", 100, ""), []byte(`{"result":[]}`))

	removed, err := c.SweepEntities(ctx, current)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, ok := c.GetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:fresh"))
	require.True(t, ok)
	_, ok = c.GetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:stale"))
	require.False(t, ok)
	_, ok = c.GetEntity(ctx, aas.KindShell, idcodec.Encode("urn:shell:gone"))
	require.False(t, ok)
	_, ok = c.GetList(ctx, ListKey(aas.KindShell, "", 100, ""))
	require.True(t, ok)
}

func TestFailOpenOnOutage(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.SetEntity(ctx, aas.KindShell, "tok1", Entry{ETag: "e1", Bytes: []byte(`{}`)})
	mr.Close()

	// Reads degrade to misses, writes are swallowed.
	_, ok := c.GetEntity(ctx, aas.KindShell, "tok1")
	require.False(t, ok)
	c.SetEntity(ctx, aas.KindShell, "tok1", Entry{ETag: "e2", Bytes: []byte(`{}`)})
	require.Error(t, c.DeleteEntity(ctx, aas.KindShell, "tok1"))
}
