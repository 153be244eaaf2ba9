package apptype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeField(t *testing.T) {
	assert.Equal(t, FieldEntityType, NormalizeField("entity_type"))
	assert.Equal(t, "content", NormalizeField("content"))
	assert.Equal(t, "metadata.tag", NormalizeField("metadata.tag"))
}

func TestValidUpdateField(t *testing.T) {
	for _, name := range []string{"content", "entityType", "metadata", "metadata.tag"} {
		assert.True(t, ValidUpdateField(name), name)
	}
	for _, name := range []string{"id", "version", "embedding", "metadata.", ""} {
		assert.False(t, ValidUpdateField(name), name)
	}
}

func TestFieldValue(t *testing.T) {
	e := &KnowledgeEntity{
		Content:    "text",
		EntityType: "fact",
		Metadata:   map[string]any{"tag": "x"},
	}

	v, ok := FieldValue(e, "content")
	assert.True(t, ok)
	assert.Equal(t, "text", v)

	v, ok = FieldValue(e, "metadata.tag")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = FieldValue(e, "metadata.absent")
	assert.False(t, ok)

	_, ok = FieldValue(&KnowledgeEntity{}, "metadata.tag")
	assert.False(t, ok)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual("a", "a"))
	// JSON round-trips turn ints into float64; comparison must not care.
	assert.True(t, ValuesEqual(1, float64(1)))
	assert.True(t, ValuesEqual(map[string]any{"a": 1, "b": 2}, map[string]any{"b": float64(2), "a": float64(1)}))
	assert.False(t, ValuesEqual("1", 1))
	assert.False(t, ValuesEqual(nil, ""))
}
