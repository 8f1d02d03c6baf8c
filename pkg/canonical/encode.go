package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/titan-aas/titan/pkg/aas"
)

// Canonical JSON encoding.
//
// Rules (the byte-stability contract every stored document satisfies):
//   - object keys sorted ascending by codepoint,
//   - no insignificant whitespace,
//   - strings escape only what JSON requires; non-ASCII is emitted as UTF-8,
//   - numbers are written verbatim from their validated text form,
//   - null members are never emitted (absent means omitted),
//   - output is UTF-8 without BOM.

// Encode renders the canonical byte form of a node tree. The tree is not
// mutated; member sorting happens on a scratch index.
func Encode(n *aas.Node) []byte {
	var buf bytes.Buffer
	encodeNode(&buf, n)
	return buf.Bytes()
}

// ETagOf returns the lowercase hex sha256 of canonical bytes.
func ETagOf(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}

func encodeNode(buf *bytes.Buffer, n *aas.Node) {
	if n == nil {
		buf.WriteString("null")
		return
	}
	switch n.Kind {
	case aas.NodeObject:
		encodeObject(buf, n)
	case aas.NodeArray:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeNode(buf, it)
		}
		buf.WriteByte(']')
	case aas.NodeString:
		encodeString(buf, n.Str)
	case aas.NodeNumber:
		buf.WriteString(n.Num)
	case aas.NodeBool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case aas.NodeNull:
		buf.WriteString("null")
	}
}

func encodeObject(buf *bytes.Buffer, n *aas.Node) {
	idx := make([]int, 0, len(n.Members))
	for i := range n.Members {
		// Absent means omitted: nulls are dropped from objects.
		if n.Members[i].Value != nil && n.Members[i].Value.Kind == aas.NodeNull {
			continue
		}
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool {
		return n.Members[idx[a]].Key < n.Members[idx[b]].Key
	})

	buf.WriteByte('{')
	for j, i := range idx {
		if j > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, n.Members[i].Key)
		buf.WriteByte(':')
		encodeNode(buf, n.Members[i].Value)
	}
	buf.WriteByte('}')
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			// Valid UTF-8 is guaranteed by Decode; bytes pass through.
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
