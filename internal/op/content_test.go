package op

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/accord/internal/field"
)

func TestContentBearing(t *testing.T) {
	assert.True(t, ContentBearing(field.Object{"content": field.String("x")}))
	assert.True(t, ContentBearing(field.Object{"text": field.String("x")}))
	assert.True(t, ContentBearing(field.Object{"body": field.String("x")}))
	assert.False(t, ContentBearing(field.Object{"theme": field.String("dark")}))
	assert.False(t, ContentBearing(field.Object{"content": field.Int(5)}), "non-string content field does not count")
	assert.False(t, ContentBearing(nil))
}

func TestSharedContentDiverges(t *testing.T) {
	tests := []struct {
		name string
		a, b field.Object
		want bool
	}{
		{
			"different prose",
			field.Object{"content": field.String("All men are mortal")},
			field.Object{"content": field.String("Socrates is a man")},
			true,
		},
		{
			"identical prose",
			field.Object{"content": field.String("same")},
			field.Object{"content": field.String("same")},
			false,
		},
		{
			"one extends the other",
			field.Object{"content": field.String("All men are mortal")},
			field.Object{"content": field.String("All men are mortal, without exception")},
			false,
		},
		{
			"content only on one side",
			field.Object{"content": field.String("x")},
			field.Object{"order": field.Int(1)},
			false,
		},
		{
			"divergence on a secondary content field",
			field.Object{"content": field.String("same"), "body": field.String("left")},
			field.Object{"content": field.String("same"), "body": field.String("right")},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SharedContentDiverges(tt.a, tt.b))
		})
	}
}
