// Package projection implements the read-side output modifiers: the level
// and extent query parameters, the $value, $metadata and $path serialization
// variants, and idShort-path navigation into submodel element trees.
//
// Every transform clones before mutating. Stored trees are shared with the
// fast read path and must never change shape after validation.
package projection

import (
	"fmt"
	"net/url"

	"github.com/titan-aas/titan/pkg/apierr"
)

// Level controls how deep nested element trees serialize.
type Level int

const (
	// LevelDeep returns the full tree. Default.
	LevelDeep Level = iota
	// LevelCore keeps direct children but strips their descendants.
	LevelCore
)

// Extent controls whether Blob payloads serialize.
type Extent int

const (
	// ExtentWithBlobValue keeps Blob value fields. Default: an absent
	// extent parameter serves the stored form verbatim, which is what lets
	// the fast read path stream bytes without parsing.
	ExtentWithBlobValue Extent = iota
	// ExtentWithoutBlobValue strips Blob value fields.
	ExtentWithoutBlobValue
)

// Content selects an alternate serialization form: the query-parameter
// spelling of the $value, $metadata and $path path suffixes.
type Content int

const (
	ContentNormal Content = iota
	ContentValue
	ContentMetadata
	ContentPath
)

// Modifiers is the parsed read-modifier set of one request.
type Modifiers struct {
	Level   Level
	Extent  Extent
	Content Content
}

// ParseModifiers reads level, extent and content from the query. Unknown
// values are rejected; absence means the defaults.
func ParseModifiers(q url.Values) (Modifiers, error) {
	var m Modifiers
	switch v := q.Get("level"); v {
	case "", "deep":
		m.Level = LevelDeep
	case "core":
		m.Level = LevelCore
	default:
		return Modifiers{}, apierr.New(apierr.BadModifier, fmt.Sprintf("unknown level %q", v))
	}
	switch v := q.Get("extent"); v {
	case "", "withBlobValue":
		m.Extent = ExtentWithBlobValue
	case "withoutBlobValue":
		m.Extent = ExtentWithoutBlobValue
	default:
		return Modifiers{}, apierr.New(apierr.BadModifier, fmt.Sprintf("unknown extent %q", v))
	}
	switch v := q.Get("content"); v {
	case "", "normal":
		m.Content = ContentNormal
	case "value":
		m.Content = ContentValue
	case "metadata":
		m.Content = ContentMetadata
	case "path":
		m.Content = ContentPath
	default:
		return Modifiers{}, apierr.New(apierr.BadModifier, fmt.Sprintf("unknown content %q", v))
	}
	return m, nil
}

// IsDefault reports whether the modifier set leaves the stored form
// untouched, in which case the fast read path can stream bytes verbatim.
func (m Modifiers) IsDefault() bool {
	return m.Level == LevelDeep && m.Extent == ExtentWithBlobValue && m.Content == ContentNormal
}
