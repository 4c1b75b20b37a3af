package metadata

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// MaxNameLen is the maximum length in bytes of a single name component,
// xattr name or stream name.
const MaxNameLen = 255

// CaseSensitivity controls how names are compared and stored.
type CaseSensitivity string

const (
	// CaseSensitive compares names byte for byte.
	CaseSensitive CaseSensitivity = "sensitive"

	// CaseInsensitive compares names after Unicode case folding and stores
	// them folded.
	CaseInsensitive CaseSensitivity = "insensitive"

	// CaseInsensitivePreserving compares names after Unicode case folding
	// and stores them with the spelling used at creation.
	CaseInsensitivePreserving CaseSensitivity = "insensitive-preserving"
)

// ParseCaseSensitivity validates s. An empty string selects
// CaseInsensitivePreserving.
func ParseCaseSensitivity(s string) (CaseSensitivity, error) {
	switch CaseSensitivity(strings.ToLower(s)) {
	case "", CaseInsensitivePreserving:
		return CaseInsensitivePreserving, nil
	case CaseSensitive:
		return CaseSensitive, nil
	case CaseInsensitive:
		return CaseInsensitive, nil
	default:
		return "", fmt.Errorf("unknown case sensitivity %q", s)
	}
}

var folder = cases.Fold()

func fold(name string) string {
	return folder.String(name)
}

// Key returns the lookup key for name under mode.
func (m CaseSensitivity) Key(name string) string {
	if m == CaseSensitive {
		return name
	}
	return fold(name)
}

// Stored returns the spelling under which a newly created name is kept.
func (m CaseSensitivity) Stored(name string) string {
	if m == CaseInsensitive {
		return fold(name)
	}
	return name
}

// Less orders two stored names for directory listings.
func (m CaseSensitivity) Less(a, b string) bool {
	ka, kb := m.Key(a), m.Key(b)
	if ka != kb {
		return ka < kb
	}
	return a < b
}

// NameFromBytes converts a raw name handed over by an adapter. Valid UTF-8
// is used as is; anything else is percent-encoded, keeping only ASCII
// letters, digits, '-', '_' and '.' literal.
func NameFromBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "%%%02X", c)
		}
	}
	return sb.String()
}

// ValidateName checks a single name component. When streams is true, ':'
// is reserved as the stream separator.
func ValidateName(name string, streams bool) error {
	switch {
	case name == "":
		return NewError(ErrInvalidName, name, "empty name")
	case name == "." || name == "..":
		return NewError(ErrInvalidName, name, "reserved name")
	case len(name) > MaxNameLen:
		return NewError(ErrNameTooLong, name, "name exceeds %d bytes", MaxNameLen)
	case strings.ContainsAny(name, "/\x00"):
		return NewError(ErrInvalidName, name, "name contains '/' or NUL")
	case streams && strings.ContainsRune(name, ':'):
		return NewError(ErrInvalidName, name, "name contains stream separator")
	}
	return nil
}
