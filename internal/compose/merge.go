package compose

import (
	"strings"

	"github.com/roach88/accord/internal/field"
	"github.com/roach88/accord/internal/op"
)

// mergedPayload unions two payloads field by field for MERGE_CONTENT.
func (c *Composer) mergedPayload(first, second op.Operation) field.Object {
	return c.MergeObjects(first.Payload, second.Payload)
}

// MergeObjects merges two payload objects field by field under the
// composer's limits. Fields present on one side only carry over;
// shared fields merge with mergeValue. Also used by conflict
// resolution to build merged payloads outside composition.
func (c *Composer) MergeObjects(earlier, later field.Object) field.Object {
	out := earlier.Copy()
	if out == nil {
		out = field.Object{}
	}
	for key, value := range later {
		existing, ok := out[key]
		if !ok {
			out[key] = field.Copy(value)
			continue
		}
		out[key] = c.mergeValue(existing, value)
	}
	return out
}

// mergeValue merges one shared field. Equal values keep the first
// copy. Text merges by containment, then concatenation up to the
// content length cap. Everything else takes the later value: the
// device wrote it second and has seen both.
func (c *Composer) mergeValue(earlier, later field.Value) field.Value {
	if field.Equal(earlier, later) {
		return earlier
	}
	es, eok := earlier.(field.String)
	ls, lok := later.(field.String)
	if eok && lok {
		return c.mergeText(es, ls)
	}
	return field.Copy(later)
}

// mergeText keeps whichever string contains the other, joins divergent
// strings on a newline, and falls back to the later string once the
// joined form would exceed the cap.
func (c *Composer) mergeText(earlier, later field.String) field.Value {
	if strings.Contains(string(earlier), string(later)) {
		return earlier
	}
	if strings.Contains(string(later), string(earlier)) {
		return later
	}
	joined := string(earlier) + "\n" + string(later)
	if len(joined) > c.maxContentLen {
		return later
	}
	return field.String(joined)
}
