package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadCursor indicates a cursor token that did not come from this server.
var ErrBadCursor = errors.New("store: bad cursor")

// cursor is the resume position of a paged list: the (updated_ns, id) pair
// of the last item on the previous page. Pages order by that pair ascending,
// so an entity that is updated mid-iteration moves behind the cursor and
// reappears on a later page rather than vanishing.
type cursor struct {
	updatedNS int64
	id        string
}

func encodeCursor(c cursor) string {
	raw := strconv.FormatInt(c.updatedNS, 10) + "|" + c.id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	ns, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return cursor{}, fmt.Errorf("%w: malformed token", ErrBadCursor)
	}
	n, err := strconv.ParseInt(ns, 10, 64)
	if err != nil || n < 0 {
		return cursor{}, fmt.Errorf("%w: malformed position", ErrBadCursor)
	}
	return cursor{updatedNS: n, id: id}, nil
}
