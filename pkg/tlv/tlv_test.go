package tlv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripSimple(t *testing.T) {
	out := EncodeFields(
		Field{TypeState, []byte{1}},
		Field{TypeMethod, []byte{0}},
	)

	it, err := Decode(out)
	require.NoError(t, err)

	state, ok := it.GetByte(TypeState)
	require.True(t, ok)
	require.Equal(t, byte(1), state)

	method, ok := it.GetByte(TypeMethod)
	require.True(t, ok)
	require.Equal(t, byte(0), method)
}

func TestLongValueSplitsAndReassembles(t *testing.T) {
	value := bytes.Repeat([]byte{0xAB}, 600)
	out := EncodeFields(Field{TypeEncryptedData, value})

	// three records: 255 + 255 + 90
	require.Equal(t, 2+255+2+255+2+90, len(out))

	it, err := Decode(out)
	require.NoError(t, err)
	got, ok := it.Get(TypeEncryptedData)
	require.True(t, ok)
	require.Equal(t, value, got)
}

func TestMalformedTruncated(t *testing.T) {
	_, err := Decode([]byte{byte(TypeState), 5, 1, 2})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEmptyValue(t *testing.T) {
	out := EncodeFields(Field{TypeError, nil})
	it, err := Decode(out)
	require.NoError(t, err)
	v, ok := it.Get(TypeError)
	require.True(t, ok)
	require.Empty(t, v)
}
