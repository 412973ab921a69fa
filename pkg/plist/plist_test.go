package plist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripDict(t *testing.T) {
	in := Dict{
		"streamID":      int64(1),
		"type":          int64(130),
		"timingProtocol": "PTP",
		"enabled":       true,
		"gain":          1.5,
		"blob":          Data{0x01, 0x02, 0x03},
		"streams": Array{
			Dict{"type": int64(96), "ct": int64(2)},
		},
	}

	out, err := Marshal(in)
	require.NoError(t, err)

	got, err := Unmarshal(out)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestStableEncoding(t *testing.T) {
	in := Dict{"a": int64(1), "b": "two", "c": Array{int64(1), int64(2), int64(3)}}
	out1, err := Marshal(in)
	require.NoError(t, err)
	out2, err := Marshal(in)
	require.NoError(t, err)
	require.Equal(t, out1, out2)
}

func TestUnicodeString(t *testing.T) {
	in := Dict{"name": "Café™"}
	out, err := Marshal(in)
	require.NoError(t, err)
	got, err := Unmarshal(out)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestLargeArrayUsesExtendedCount(t *testing.T) {
	arr := make(Array, 20)
	for i := range arr {
		arr[i] = int64(i)
	}
	out, err := Marshal(arr)
	require.NoError(t, err)
	got, err := Unmarshal(out)
	require.NoError(t, err)
	require.Equal(t, arr, got)
}

func TestMalformedMagic(t *testing.T) {
	_, err := Unmarshal([]byte("not a plist at all, way too short"))
	require.ErrorIs(t, err, ErrMalformed)
}
