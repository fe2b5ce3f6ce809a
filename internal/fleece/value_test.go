package fleece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	keys := NewSharedKeys()
	enc := NewEncoder(keys)

	body, err := enc.EncodeGo(map[string]any{
		"x": nil,
		"y": float64(1),
		"tags": []any{"a", "b"},
	})
	require.NoError(t, err)

	root, err := Parse(body, keys)
	require.NoError(t, err)
	require.Equal(t, Dict, root.Type())

	xVal := root.Get("x")
	assert.Equal(t, Null, xVal.Type())

	yVal := root.Get("y")
	f, ok := yVal.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.0, f)

	missing := root.Get("z")
	assert.True(t, missing.IsMissing())

	tags := root.Get("tags")
	require.Equal(t, Array, tags.Type())
	require.Equal(t, 2, tags.Count())
	it, ok := NewArrayIterator(tags)
	require.True(t, ok)
	var seen []string
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		s, _ := v.AsString()
		seen = append(seen, s)
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestPathEvalNullVsMissing(t *testing.T) {
	enc := NewEncoder(nil)
	body, err := enc.EncodeGo(map[string]any{"a": nil})
	require.NoError(t, err)

	root, err := Parse(body, nil)
	require.NoError(t, err)

	aVal, err := EvaluatePath(".a", nil, root)
	require.NoError(t, err)
	assert.False(t, aVal.IsMissing())
	assert.Equal(t, Null, aVal.Type())

	bVal, err := EvaluatePath(".b", nil, root)
	require.NoError(t, err)
	assert.True(t, bVal.IsMissing())
}

func TestPathArrayIndex(t *testing.T) {
	enc := NewEncoder(nil)
	body, err := enc.EncodeGo(map[string]any{
		"addresses": []any{
			map[string]any{"city": "Maribor"},
			map[string]any{"city": "Celje"},
		},
	})
	require.NoError(t, err)

	root, err := Parse(body, nil)
	require.NoError(t, err)

	v, err := EvaluatePath(".addresses[1].city", nil, root)
	require.NoError(t, err)
	s, ok := v.AsString()
	require.True(t, ok)
	assert.Equal(t, "Celje", s)
}

func TestSharedKeysInterning(t *testing.T) {
	keys := NewSharedKeys()
	id1, ok := keys.Encode("name")
	require.True(t, ok)
	id2, ok := keys.Encode("name")
	require.True(t, ok)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, keys.Count())

	name, ok := keys.Lookup(id1)
	require.True(t, ok)
	assert.Equal(t, "name", name)
}
