// Package canonical validates raw AAS documents against the metamodel and
// produces the canonical byte form every other component relies on.
//
// The pairing is the core storage contract: a validated document yields
// exactly one canonical serialization, and the content hash of those bytes
// is the entity's ETag. Reads stream the stored bytes untouched; only
// projection re-enters the tree.
package canonical

import (
	"github.com/titan-aas/titan/pkg/aas"
)

// Options bound validation work.
type Options struct {
	// RecursionDepthLimit caps element nesting. Defaults to 64.
	RecursionDepthLimit int
}

func (o Options) depthLimit() int {
	if o.RecursionDepthLimit <= 0 {
		return DefaultRecursionDepthLimit
	}
	return o.RecursionDepthLimit
}

// DecodeDepthFor returns the JSON nesting bound that admits every document
// accepted under the given element depth limit (0 means the default). Each
// element level spends several JSON levels (object, value array), so the
// bound leaves headroom over the element limit. Anything re-decoding stored
// canonical bytes must use at least this bound or valid deep documents
// become unreadable.
func DecodeDepthFor(elementLimit int) int {
	if elementLimit <= 0 {
		elementLimit = DefaultRecursionDepthLimit
	}
	return elementLimit*4 + 8
}

// ParseAndValidate parses raw JSON, validates it against the metamodel for
// the given kind, and returns the parsed document together with its
// canonical bytes and ETag. Errors wrap ErrValidation.
func ParseAndValidate(raw []byte, kind aas.Kind, opts Options) (*aas.Document, []byte, string, error) {
	limit := opts.depthLimit()

	root, err := Decode(raw, DecodeDepthFor(limit))
	if err != nil {
		return nil, nil, "", err
	}

	v := &validator{depthLimit: limit}
	if err := v.document(kind, root); err != nil {
		return nil, nil, "", err
	}

	doc := aas.ExtractHeader(kind, root)
	b := Encode(root)
	return doc, b, ETagOf(b), nil
}

// Recanonicalize re-serializes an already validated tree. Used on the slow
// path after projection.
func Recanonicalize(root *aas.Node) ([]byte, string) {
	b := Encode(root)
	return b, ETagOf(b)
}
