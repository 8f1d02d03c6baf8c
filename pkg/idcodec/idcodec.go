// Package idcodec converts opaque entity identifiers (typically URIs) to
// and from the URL-safe tokens used in request paths.
//
// Encoding is URL-safe base64 without padding. Decoding is tolerant of
// padding but strict about everything else: the decoded bytes must be valid
// UTF-8 and within the identifier size cap.
package idcodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxIdentifierBytes mirrors the canonical validator's identifier cap.
const MaxIdentifierBytes = 2048

var (
	ErrInvalidToken = errors.New("idcodec: invalid token")
	ErrOversize     = errors.New("idcodec: identifier too large")
	ErrEmpty        = errors.New("idcodec: empty identifier")
)

// Encode returns the URL-safe token for an identifier.
func Encode(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Decode parses a token back into an identifier. Accepts both padded and
// unpadded forms.
func Decode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmpty
	}
	// Bound before decoding: 2048 id bytes encode to ceil(2048/3)*4 = 2732
	// token bytes, 2736 with padding.
	if len(token) > ((MaxIdentifierBytes+2)/3)*4+4 {
		return "", ErrOversize
	}

	enc := base64.RawURLEncoding
	if strings.HasSuffix(token, "=") {
		enc = base64.URLEncoding
	}
	raw, err := enc.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(raw) == 0 {
		return "", ErrEmpty
	}
	if len(raw) > MaxIdentifierBytes {
		return "", ErrOversize
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: decoded bytes are not UTF-8", ErrInvalidToken)
	}
	return string(raw), nil
}
