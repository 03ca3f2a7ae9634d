// Package logcodec interprets the compact six-character log identifier
// scheme and renders log entries through a template set.
//
// Identifier layout:
//
//	[0:2] category    e.g. "GC" ground control, "NW" network, "MP" mission plan
//	[2]   severity    '0' info, '1' warning, '2' error
//	[3]   importance  '0' minor, '1' normal, '2' major
//	[4:6] sequence    selects the template within the category
package logcodec

import (
	"errors"
	"fmt"
)

// IdentifierLen is the length of a well-formed identifier.
const IdentifierLen = 6

// ErrMalformedIdentifier is returned by Parse for identifiers shorter than
// IdentifierLen.
var ErrMalformedIdentifier = errors.New("malformed log identifier")

// Severity is the severity axis of an identifier.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityUnknown Severity = "unknown"
)

// Importance is the importance axis of an identifier.
type Importance string

const (
	ImportanceMinor   Importance = "minor"
	ImportanceNormal  Importance = "normal"
	ImportanceMajor   Importance = "major"
	ImportanceUnknown Importance = "unknown"
)

// Identifier is a decoded log identifier.
type Identifier struct {
	Raw        string     `json:"raw"`
	Category   string     `json:"category"`
	Severity   Severity   `json:"severity"`
	Importance Importance `json:"importance"`
	Sequence   string     `json:"sequence"`
}

// Parse decodes id. A short identifier returns ErrMalformedIdentifier along
// with an Identifier holding whatever positions were present.
func Parse(id string) (Identifier, error) {
	out := Identifier{
		Raw:        id,
		Category:   slice(id, 0, 2),
		Severity:   severityOf(charAt(id, 2)),
		Importance: importanceOf(charAt(id, 3)),
		Sequence:   slice(id, 4, 6),
	}
	if len(id) < IdentifierLen {
		return out, fmt.Errorf("%w: %q", ErrMalformedIdentifier, id)
	}
	return out, nil
}

// SeverityChar returns the raw severity character, or 0 if absent.
func SeverityChar(id string) byte { return charAt(id, 2) }

// ImportanceChar returns the raw importance character, or 0 if absent.
func ImportanceChar(id string) byte { return charAt(id, 3) }

func severityOf(c byte) Severity {
	switch c {
	case '0':
		return SeverityInfo
	case '1':
		return SeverityWarning
	case '2':
		return SeverityError
	default:
		return SeverityUnknown
	}
}

func importanceOf(c byte) Importance {
	switch c {
	case '0':
		return ImportanceMinor
	case '1':
		return ImportanceNormal
	case '2':
		return ImportanceMajor
	default:
		return ImportanceUnknown
	}
}

func charAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func slice(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}
