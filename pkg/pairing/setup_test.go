package pairing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	kp, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)
	return &Identity{Identifier: "AA:BB:CC:DD:EE:FF", KeyPair: kp}
}

func TestPairSetupRoundTrip(t *testing.T) {
	identity := newTestIdentity(t)
	server, err := NewSetupServer("3939", identity)
	require.NoError(t, err)
	client, err := NewSetupClient("3939")
	require.NoError(t, err)

	m1 := client.BuildM1()
	m2, err := server.HandleM1(m1)
	require.NoError(t, err)

	m3, err := client.HandleM2(m2)
	require.NoError(t, err)

	m4, err := server.HandleM3(m3)
	require.NoError(t, err)

	peer, err := client.HandleM4(m4)
	require.NoError(t, err)
	require.Equal(t, identity.Identifier, peer.Identifier)
	require.Equal(t, []byte(identity.KeyPair.Public), []byte(peer.PublicKey))
}

func TestPairSetupWrongPassword(t *testing.T) {
	identity := newTestIdentity(t)
	server, err := NewSetupServer("3939", identity)
	require.NoError(t, err)
	client, err := NewSetupClient("0000")
	require.NoError(t, err)

	m1 := client.BuildM1()
	m2, err := server.HandleM1(m1)
	require.NoError(t, err)

	m3, err := client.HandleM2(m2)
	require.NoError(t, err)

	m4, err := server.HandleM3(m3)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAuthentication))
	require.NotEmpty(t, m4)

	_, err = client.HandleM4(m4)
	require.ErrorIs(t, err, ErrAuthentication)
}
