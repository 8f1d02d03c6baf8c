package apierr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	require.Equal(t, NotFound, CodeOf(New(NotFound, "gone")))
	require.Equal(t, Internal, CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", New(Conflict, "dup"))
	require.Equal(t, Conflict, CodeOf(wrapped))
	require.True(t, IsCode(wrapped, Conflict))
	require.False(t, IsCode(wrapped, NotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(StoreUnavailable, "store unavailable", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "store.unavailable")
	require.Contains(t, err.Error(), "db down")
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, 404, HTTPStatus(NotFound))
	require.Equal(t, 412, HTTPStatus(PreconditionFailed))
	require.Equal(t, 503, HTTPStatus(EventLogUnavailable))
	// Unknown and zero-status codes fall back to 500.
	require.Equal(t, 500, HTTPStatus(Code("nope")))
	require.Equal(t, 500, HTTPStatus(CacheUnavailable))
}

func TestBodyFor(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	b := BodyFor(New(ValidationError, "bad input"), now)
	require.Len(t, b.Messages, 1)
	require.Equal(t, "validation.invalid", b.Messages[0].Code)
	require.Equal(t, "Error", b.Messages[0].MessageType)
	require.Equal(t, "bad input", b.Messages[0].Text)
	require.Equal(t, "2026-08-24T10:00:00Z", b.Messages[0].Timestamp)

	// Plain errors never leak their text.
	b = BodyFor(errors.New("secret detail"), now)
	require.Equal(t, "internal", b.Messages[0].Code)
	require.Equal(t, "internal error", b.Messages[0].Text)
}

func TestRegistryCoversAllCodes(t *testing.T) {
	for _, c := range []Code{
		ValidationError, BadModifier, NotFound, Conflict, PreconditionFailed,
		PayloadTooLarge, TooManyRequests, BadIdentifier, BadCursor,
		StoreUnavailable, EventLogUnavailable, CacheUnavailable,
		Internal, InternalTimeout,
	} {
		m, ok := Meta(c)
		require.True(t, ok, string(c))
		require.True(t, Known(c))
		require.NotEmpty(t, m.Kind)
	}
}
