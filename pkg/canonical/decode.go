package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/titan-aas/titan/pkg/aas"
)

// Strict JSON decoding into an aas.Node tree.
//
// Differences from encoding/json defaults, all required by the canonical
// form contract:
//   - duplicate keys within one object are rejected,
//   - numbers keep their verbatim text form (json.Number),
//   - input must be valid UTF-8 (no U+FFFD substitution),
//   - trailing content after the top-level value is rejected,
//   - nesting depth is bounded.

var (
	// ErrValidation is the root of every input rejection in this package.
	ErrValidation = errors.New("canonical: validation failed")
)

// Decode parses data into a node tree. maxDepth bounds total JSON nesting.
func Decode(data []byte, maxDepth int) (*aas.Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrValidation)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrValidation)
	}
	if maxDepth <= 0 {
		maxDepth = 64
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decodeValue(dec, maxDepth)
	if err != nil {
		return nil, err
	}

	// Reject trailing content after the top-level value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing content after document", ErrValidation)
	}
	return n, nil
}

func decodeValue(dec *json.Decoder, depth int) (*aas.Node, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: nesting too deep", ErrValidation)
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return decodeToken(dec, tok, depth)
}

func decodeToken(dec *json.Decoder, tok json.Token, depth int) (*aas.Node, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec, depth)
		case '[':
			return decodeArray(dec, depth)
		}
		return nil, fmt.Errorf("%w: unexpected delimiter %q", ErrValidation, t.String())
	case string:
		return aas.String(t), nil
	case json.Number:
		return aas.Number(t.String()), nil
	case bool:
		return aas.Boolean(t), nil
	case nil:
		return &aas.Node{Kind: aas.NodeNull}, nil
	}
	return nil, fmt.Errorf("%w: unexpected token %v", ErrValidation, tok)
}

func decodeObject(dec *json.Decoder, depth int) (*aas.Node, error) {
	obj := aas.Object()
	seen := map[string]struct{}{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key is not a string", ErrValidation)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrValidation, key)
		}
		seen[key] = struct{}{}

		val, err := decodeValue(dec, depth-1)
		if err != nil {
			return nil, err
		}
		obj.Members = append(obj.Members, aas.Member{Key: key, Value: val})
	}

	// Consume '}'.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder, depth int) (*aas.Node, error) {
	arr := aas.Array()
	for dec.More() {
		val, err := decodeValue(dec, depth-1)
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, val)
	}

	// Consume ']'.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return arr, nil
}
