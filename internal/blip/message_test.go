package blip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewRequest(7, ProfileRev, map[string]string{"id": "doc1", "rev": "1-abc"}, []byte("body bytes"))
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m.Number, got.Number)
	assert.Equal(t, m.Profile, got.Profile)
	assert.Equal(t, m.Properties, got.Properties)
	assert.Equal(t, m.Body, got.Body)
	assert.False(t, got.IsResponse)
}

func TestEncodeDecodeErrorReply(t *testing.T) {
	req := NewRequest(3, ProfileGetCheckpoint, nil, nil)
	reply := req.ReplyError("checkpoint not found")
	got, err := Decode(Encode(reply))
	require.NoError(t, err)
	assert.True(t, got.IsResponse)
	assert.Equal(t, "checkpoint not found", got.Error)
}

func TestEncodeIsDeterministicAcrossPropertyOrder(t *testing.T) {
	m1 := NewRequest(1, ProfileChanges, map[string]string{"a": "1", "b": "2", "c": "3"}, nil)
	m2 := NewRequest(1, ProfileChanges, map[string]string{"c": "3", "a": "1", "b": "2"}, nil)
	assert.Equal(t, Encode(m1), Encode(m2))
}
