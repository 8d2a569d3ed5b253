package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/accord/internal/clock"
	"github.com/roach88/accord/internal/engine"
	"github.com/roach88/accord/internal/field"
)

// marshalPayload converts a payload object to canonical JSON TEXT for
// storage. Uses RFC 8785 canonical JSON so the stored bytes match the
// bytes the operation ID was derived from.
func marshalPayload(payload field.Object) (string, error) {
	data, err := field.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// marshalClock converts a vector clock to JSON TEXT for storage.
// VectorClock.MarshalJSON emits lexicographically sorted device keys,
// so the stored text is byte-stable across replicas.
func marshalClock(c clock.VectorClock) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal clock: %w", err)
	}
	return string(data), nil
}

// marshalResolution converts a resolution record to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so stored text matches
// canonical trace output. A nil resolution stores as the empty string.
func marshalResolution(res *engine.Resolution) (string, error) {
	if res == nil {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return "", fmt.Errorf("marshal resolution: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalPayload parses canonical JSON TEXT to a payload object.
// Uses field.UnmarshalObject which rejects floats and nulls, the same
// rules applied when the operation was constructed.
func unmarshalPayload(data string) (field.Object, error) {
	if data == "" || data == "{}" {
		return field.Object{}, nil
	}
	obj, err := field.UnmarshalObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// unmarshalClock parses JSON TEXT to a vector clock.
func unmarshalClock(data string) (clock.VectorClock, error) {
	if data == "" || data == "{}" {
		return clock.New(), nil
	}
	var c clock.VectorClock
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return clock.VectorClock{}, fmt.Errorf("unmarshal clock: %w", err)
	}
	return c, nil
}

// unmarshalResolution parses JSON TEXT to a resolution record.
// The empty string parses to nil (no resolution).
func unmarshalResolution(data string) (*engine.Resolution, error) {
	if data == "" {
		return nil, nil
	}
	var res engine.Resolution
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal resolution: %w", err)
	}
	return &res, nil
}
