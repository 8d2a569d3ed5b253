package op

import (
	"strings"

	"github.com/roach88/accord/internal/field"
)

// ContentFields lists the payload keys treated as content-bearing: the
// free-text body of a statement, argument, or note. Composition and
// conflict classification use these to tell "prose edits" apart from
// attribute twiddling.
var ContentFields = []string{"content", "text", "body"}

// ContentBearing reports whether a payload carries at least one
// content-bearing string field.
func ContentBearing(p field.Object) bool {
	for _, k := range ContentFields {
		if _, ok := p[k].(field.String); ok {
			return true
		}
	}
	return false
}

// SharedContentDiverges reports whether two payloads disagree on a
// content-bearing field in a way that has no mechanical merge: both
// carry the field as strings, the values differ, and neither contains
// the other.
func SharedContentDiverges(a, b field.Object) bool {
	for _, k := range ContentFields {
		av, aok := a[k].(field.String)
		bv, bok := b[k].(field.String)
		if !aok || !bok || av == bv {
			continue
		}
		if strings.Contains(string(av), string(bv)) || strings.Contains(string(bv), string(av)) {
			continue
		}
		return true
	}
	return false
}
