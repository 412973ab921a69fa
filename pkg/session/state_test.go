package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/base"
)

func TestSessionAlwaysAllowsOptionsAndTeardown(t *testing.T) {
	s := New(NewPortAllocator(7000, 7010))
	require.NoError(t, s.CheckTransition(base.Options, map[State]struct{}{}))
	require.NoError(t, s.CheckTransition(base.Teardown, map[State]struct{}{}))
}

func TestSessionRejectsMethodInWrongState(t *testing.T) {
	s := New(NewPortAllocator(7000, 7010))
	err := s.CheckTransition(base.Record, map[State]struct{}{StateStreaming: {}})
	require.Error(t, err)

	var ae *aperrors.Error
	require.True(t, errors.As(err, &ae))
	require.Equal(t, aperrors.KindInvalidState, ae.Kind)
	require.Equal(t, int(base.StatusMethodNotValidInThisState), ae.Details.RTSPStatus)
}

func TestSessionTeardownReleasesPortsOnce(t *testing.T) {
	alloc := NewPortAllocator(6000, 6001)
	s := New(alloc)

	p1, err := alloc.Allocate()
	require.NoError(t, err)
	s.TrackPort(p1)
	p2, err := alloc.Allocate()
	require.NoError(t, err)
	s.TrackPort(p2)

	s.Teardown()
	require.Equal(t, StateTeardown, s.State())

	reAlloc1, err := alloc.Allocate()
	require.NoError(t, err)
	reAlloc2, err := alloc.Allocate()
	require.NoError(t, err)
	require.ElementsMatch(t, []int{p1, p2}, []int{reAlloc1, reAlloc2})

	// second Teardown must not double-release ports already reallocated
	s.Teardown()
	_, err = alloc.Allocate()
	require.Error(t, err)
}

func TestSessionEncryptDecryptRoundTrip(t *testing.T) {
	a := New(NewPortAllocator(7000, 7010))
	b := New(NewPortAllocator(7000, 7010))

	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	for i := range key1 {
		key1[i] = byte(i)
		key2[i] = byte(i * 3)
	}

	// a writes with key1, b reads with key1; a reads with key2, b writes
	// with key2 -- mirroring the swapped encrypt/decrypt pairing.
	a.SetKeys(key1, key2)
	b.SetKeys(key2, key1)

	ct, err := a.Encrypt([]byte("hello"))
	require.NoError(t, err)
	pt, err := b.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), pt)
}

func TestSessionDecryptAdvancesCounterOnFailure(t *testing.T) {
	s := New(NewPortAllocator(7000, 7010))
	key := make([]byte, 32)
	s.SetKeys(key, key)

	_, err := s.Decrypt([]byte("not valid ciphertext"))
	require.Error(t, err)

	// the first Encrypt seals under counter 0, the second under counter 1
	_, err = s.Encrypt([]byte("first message"))
	require.NoError(t, err)
	ct, err := s.Encrypt([]byte("second message"))
	require.NoError(t, err)
	// the decrypt counter has advanced past 0 from the failed attempt, so
	// decrypting a message sealed under counter 1 must succeed only if the
	// counter tracked that failed attempt.
	s2 := New(NewPortAllocator(7000, 7010))
	s2.SetKeys(key, key)
	_, _ = s2.Decrypt([]byte("burn counter 0"))
	pt, err := s2.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("second message"), pt)
}

func TestSessionStreamParametersUnsetByDefault(t *testing.T) {
	s := New(NewPortAllocator(7000, 7010))
	_, ok := s.StreamParameters()
	require.False(t, ok)
}

func TestSessionSetStreamParameters(t *testing.T) {
	s := New(NewPortAllocator(7000, 7010))
	s.SetStreamParameters(StreamParameters{Codec: CodecALAC, SampleRate: 44100, Channels: 2})

	got, ok := s.StreamParameters()
	require.True(t, ok)
	require.Equal(t, CodecALAC, got.Codec)
	require.Equal(t, 44100, got.SampleRate)
}
