package idcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, id := range []string{
		"urn:example:shell:1",
		"https://example.com/ids/sm/4711?rev=2",
		"a",
		"Bäcker Straße 1",
	} {
		tok := Encode(id)
		require.NotContains(t, tok, "=")
		got, err := Decode(tok)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestDecodeAcceptsPadding(t *testing.T) {
	// "urn:x" encodes to dXJuOng, padded dXJuOng=.
	got, err := Decode("dXJuOng=")
	require.NoError(t, err)
	require.Equal(t, "urn:x", got)

	got, err = Decode("dXJuOng")
	require.NoError(t, err)
	require.Equal(t, "urn:x", got)
}

func TestDecodeRejections(t *testing.T) {
	_, err := Decode("")
	require.ErrorIs(t, err, ErrEmpty)

	_, err = Decode("   ")
	require.ErrorIs(t, err, ErrEmpty)

	// Standard (non-URL) alphabet.
	_, err = Decode("a+b/c")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Decode("%%%")
	require.ErrorIs(t, err, ErrInvalidToken)

	// Valid base64 of invalid UTF-8 bytes.
	_, err = Decode("_w") // 0xff
	require.ErrorIs(t, err, ErrInvalidToken)

	// Token longer than any legal identifier can produce.
	_, err = Decode(strings.Repeat("A", 4000))
	require.ErrorIs(t, err, ErrOversize)

	// Token within the bound but decoding past the identifier cap.
	big := Encode(strings.Repeat("x", MaxIdentifierBytes+1))
	_, err = Decode(big)
	require.ErrorIs(t, err, ErrOversize)
}

func TestMaxSizeIdentifier(t *testing.T) {
	id := strings.Repeat("x", MaxIdentifierBytes)
	got, err := Decode(Encode(id))
	require.NoError(t, err)
	require.Equal(t, id, got)
}
