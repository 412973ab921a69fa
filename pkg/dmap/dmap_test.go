package dmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	in := []Record{
		NewString(CodeTitle, "My Track"),
		NewString(CodeArtist, "Artist Name"),
	}
	out := Encode(in)
	got, err := Decode(out)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestIntegerRoundTrip(t *testing.T) {
	in := []Record{NewInt(CodeDuration, 234567)}
	out := Encode(in)
	got, err := Decode(out)
	require.NoError(t, err)
	require.Len(t, got, 1)
	v, err := got[0].Int()
	require.NoError(t, err)
	require.Equal(t, uint64(234567), v)
}

func TestUnknownCodePreserved(t *testing.T) {
	in := []Record{{Code: "zzzz", Raw: []byte{1, 2, 3}}}
	out := Encode(in)
	got, err := Decode(out)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestMalformedTruncated(t *testing.T) {
	_, err := Decode([]byte("minm\x00\x00\x00\x10short"))
	require.ErrorIs(t, err, ErrMalformed)
}
