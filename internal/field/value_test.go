package field

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_SortedKeys(t *testing.T) {
	obj := Object{"b": Int(1), "a": Int(2), "c": Int(3)}
	assert.Equal(t, []string{"a", "b", "c"}, obj.SortedKeys())
}

func TestObject_Copy_Deep(t *testing.T) {
	obj := Object{
		"scalar": String("s"),
		"nested": Object{"inner": Int(1)},
		"list":   List{Int(1), Object{"k": Bool(true)}},
	}

	cp := obj.Copy()
	cp["scalar"] = String("changed")
	cp["nested"].(Object)["inner"] = Int(99)
	cp["list"].(List)[0] = Int(99)

	assert.Equal(t, String("s"), obj["scalar"])
	assert.Equal(t, Int(1), obj["nested"].(Object)["inner"])
	assert.Equal(t, Int(1), obj["list"].(List)[0])
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("x"), String("x"), true},
		{"different strings", String("x"), String("y"), false},
		{"equal ints", Int(1), Int(1), true},
		{"int vs string", Int(1), String("1"), false},
		{"equal bools", Bool(true), Bool(true), true},
		{"equal lists", List{Int(1), String("a")}, List{Int(1), String("a")}, true},
		{"different list length", List{Int(1)}, List{Int(1), Int(2)}, false},
		{"equal objects", Object{"a": Int(1)}, Object{"a": Int(1)}, true},
		{"different object keys", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
		{"nested equal", Object{"a": List{Object{"b": Int(2)}}}, Object{"a": List{Object{"b": Int(2)}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestUnmarshal_StrictTypes(t *testing.T) {
	v, err := Unmarshal([]byte(`{"name":"cart","count":5,"open":true,"tags":["a","b"]}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("cart"), obj["name"])
	assert.Equal(t, Int(5), obj["count"])
	assert.Equal(t, Bool(true), obj["open"])
	assert.Equal(t, List{String("a"), String("b")}, obj["tags"])
}

func TestUnmarshal_RejectsFloats(t *testing.T) {
	_, err := Unmarshal([]byte(`{"price":1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestUnmarshal_RejectsScientificNotation(t *testing.T) {
	_, err := Unmarshal([]byte(`{"n":1e3}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestUnmarshal_RejectsNull(t *testing.T) {
	_, err := Unmarshal([]byte(`{"gone":null}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestUnmarshal_RejectsNestedFloat(t *testing.T) {
	_, err := Unmarshal([]byte(`{"a":{"b":[1,2,3.14]}}`))
	require.Error(t, err)
}

func TestUnmarshalObject_RejectsNonObject(t *testing.T) {
	_, err := UnmarshalObject([]byte(`[1,2,3]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestFromAny_YAMLShapes(t *testing.T) {
	// yaml.v3 hands back map[string]any with plain ints.
	v, err := FromAny(map[string]any{
		"content": "All men are mortal",
		"order":   2,
		"pinned":  false,
		"refs":    []any{"s1", "s2"},
	})
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, String("All men are mortal"), obj["content"])
	assert.Equal(t, Int(2), obj["order"])
	assert.Equal(t, Bool(false), obj["pinned"])
	assert.Equal(t, List{String("s1"), String("s2")}, obj["refs"])
}

func TestFromAny_RejectsFloat64(t *testing.T) {
	_, err := FromAny(map[string]any{"x": 2.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestFromAny_RejectsNil(t *testing.T) {
	_, err := FromAny(nil)
	require.Error(t, err)
}

func TestObject_MarshalJSON_SortedRoundTrip(t *testing.T) {
	obj := Object{"b": Int(2), "a": String("x")}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}
