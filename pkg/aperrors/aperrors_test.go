package aperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("proof mismatch")
	err := Wrap(KindAuthenticationFailed, "pair-setup M3", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindPairingInvalid, "state byte mismatch")
	require.True(t, errors.Is(err, New(KindPairingInvalid, "")))
	require.False(t, errors.Is(err, New(KindRTSPError, "")))
}

func TestEventFromError(t *testing.T) {
	err := New(KindRTSPError, "bad status")
	err.Details.RTSPStatus = 454

	ev := EventFromError(err)
	require.Equal(t, KindRTSPError, ev.Kind)
	require.Equal(t, 454, ev.Details.RTSPStatus)

	require.Equal(t, Event{}, EventFromError(nil))

	plain := errors.New("generic")
	require.Equal(t, KindInternal, EventFromError(plain).Kind)
}
