package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"zero", Int(0), "0"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty list", List{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"list of ints", List{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonical_NestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{
			"b": Int(1),
			"a": Int(2),
		},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonical_UTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000: the surrogate pair for U+10000 starts at 0xD800,
	// which sorts BEFORE 0xE000 in UTF-16 but after it in UTF-8 bytes.
	obj := Object{
		"": Int(1),
		"𐀀":      Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	expected := `{"𐀀":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<merge> a & b </merge>"))
	require.NoError(t, err)
	assert.Equal(t, `"<merge> a & b </merge>"`, string(result))
	assert.NotContains(t, string(result), `\u003c`)
	assert.NotContains(t, string(result), `\u0026`)
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "é" as e + combining acute (NFD) must serialize identically to the
	// precomposed form, or the same edit hashed on two platforms diverges.
	composed := String("é")
	decomposed := String("é")

	a, err := MarshalCanonical(composed)
	require.NoError(t, err)
	b, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalCanonical_LineSeparatorsNotEscaped(t *testing.T) {
	result, err := MarshalCanonical(String("a b c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(result))
	assert.NotContains(t, string(result), `\u2028`)
	assert.NotContains(t, string(result), `\u2029`)
}

func TestMarshalCanonical_LiteralBackslashU2028Preserved(t *testing.T) {
	// A literal backslash followed by the text "u2028" must stay escaped:
	// the backslash serializes as \\ and the text follows untouched.
	result, err := MarshalCanonical(String(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonical_BackslashThenLineSeparator(t *testing.T) {
	// One literal backslash then an actual U+2028: the backslash stays
	// escaped, the separator is unescaped.
	result, err := MarshalCanonical(String("\\ "))
	require.NoError(t, err)
	assert.Equal(t, "\"\\\\ \"", string(result))
}

func TestMarshalCanonical_ControlCharactersEscaped(t *testing.T) {
	result, err := MarshalCanonical(String("line1\nline2\ttab"))
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab"`, string(result))
}

func TestMarshalCanonical_DeterministicAcrossConstruction(t *testing.T) {
	// Same logical object built in different insertion orders must
	// produce identical bytes.
	a := Object{"x": Int(1), "y": String("s"), "z": List{Bool(true)}}
	b := Object{}
	b["z"] = List{Bool(true)}
	b["y"] = String("s")
	b["x"] = Int(1)

	ab, err := MarshalCanonical(a)
	require.NoError(t, err)
	bb, err := MarshalCanonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ab), string(bb))
}

func TestMustMarshalCanonical_PanicsOnBadValue(t *testing.T) {
	assert.Panics(t, func() {
		MustMarshalCanonical(nil)
	})
}
