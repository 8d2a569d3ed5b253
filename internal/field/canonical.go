package field

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for a payload value.
// CRITICAL: this is the ONLY serialization that may feed content-addressed
// identity computation. Identical values produce identical bytes on every
// replica, platform, and Go version.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & appear literally)
//  3. Strings NFC-normalized at the serialization boundary
//  4. U+2028 and U+2029 are not escaped
func MarshalCanonical(v Value) ([]byte, error) {
	switch val := v.(type) {
	case String:
		return canonicalString(string(val))
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case List:
		return canonicalList(val)
	case Object:
		return canonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// MustMarshalCanonical is like MarshalCanonical but panics on error.
// Use only in tests or when the value is known to be well-formed.
func MustMarshalCanonical(v Value) []byte {
	data, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return data
}

// canonicalString produces a canonical JSON string with NFC normalization.
// RFC 8785 requires:
//   - no HTML escaping (<, >, & stay literal)
//   - U+2028 and U+2029 stay literal
//   - only control characters, backslash, and quote are escaped
func canonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder appends a trailing newline.
	result := buf.Bytes()
	if n := len(result); n > 0 && result[n-1] == '\n' {
		result = result[:n-1]
	}

	// Go's encoder escapes U+2028/U+2029 for JavaScript embedding, which
	// RFC 8785 forbids. Undo those escapes, leaving \\u2028 (a literal
	// backslash followed by the text "u2028") untouched.
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators replaces   and   escape sequences with
// the literal characters. A sequence only counts as an escape when the
// backslash that opens it is not itself escaped, i.e. when an even number
// of backslashes immediately precede it.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	run := 0 // consecutive backslashes emitted immediately before position i
	for i := 0; i < len(data); {
		b := data[i]
		if b == '\\' && run%2 == 0 && i+6 <= len(data) &&
			data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, " "...)
			} else {
				out = append(out, " "...)
			}
			run = 0
			i += 6
			continue
		}
		out = append(out, b)
		if b == '\\' {
			run++
		} else {
			run = 0
		}
		i++
	}
	return out
}

// canonicalList marshals a list to canonical JSON.
func canonicalList(l List) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// canonicalObject marshals an object to canonical JSON with RFC 8785 key
// ordering. Keys are NFC-normalized and sorted by UTF-16 code units.
func canonicalObject(o Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := canonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := MarshalCanonical(o[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
