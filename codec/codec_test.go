package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manifest struct {
	Name   string   `json:"name"`
	Chunks []uint32 `json:"chunks"`
}

func TestJSON_RoundTrip(t *testing.T) {
	in := manifest{Name: "nightly", Chunks: []uint32{1, 2, 3}}

	b, err := Default.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n  \"name\": \"nightly\"")

	var out manifest
	require.NoError(t, Decode(nil, b, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "json", Default.Name())
}

func TestDecode_Errors(t *testing.T) {
	var out manifest

	assert.ErrorIs(t, Decode(JSON{}, nil, &out), ErrDecode)
	assert.ErrorIs(t, Decode(JSON{}, []byte("{"), &out), ErrDecode)

	err := Decode(JSON{}, []byte(`{"name":"x","compression_level":9}`), &out)
	assert.ErrorIs(t, err, ErrDecode, "unknown fields are rejected")
}
