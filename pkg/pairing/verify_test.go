package pairing

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
)

func TestPairVerifyRoundTrip(t *testing.T) {
	serverIdentity := newTestIdentity(t)
	clientIdentity := newTestIdentity(t)

	knownKeys := map[string]ed25519.PublicKey{
		serverIdentity.Identifier: serverIdentity.KeyPair.Public,
		clientIdentity.Identifier: clientIdentity.KeyPair.Public,
	}
	lookup := func(id string) (ed25519.PublicKey, bool) {
		k, ok := knownKeys[id]
		return k, ok
	}

	server := NewVerifyServer(serverIdentity, lookup)
	client := NewVerifyClient(clientIdentity, lookup)

	m1, err := client.BuildM1()
	require.NoError(t, err)

	m2, err := server.HandleM1(m1)
	require.NoError(t, err)

	m3, clientKeys, err := client.HandleM2(m2)
	require.NoError(t, err)

	serverKeys, peer, err := server.HandleM3(m3)
	require.NoError(t, err)
	require.Equal(t, clientIdentity.Identifier, peer.Identifier)

	require.Equal(t, clientKeys.Encrypt, serverKeys.Decrypt)
	require.Equal(t, clientKeys.Decrypt, serverKeys.Encrypt)
}

func TestPairVerifyUnknownPeerRejected(t *testing.T) {
	serverIdentity := newTestIdentity(t)
	clientIdentity := newTestIdentity(t)

	serverLookup := func(id string) (ed25519.PublicKey, bool) { return nil, false }
	clientLookup := func(id string) (ed25519.PublicKey, bool) {
		if id == serverIdentity.Identifier {
			return serverIdentity.KeyPair.Public, true
		}
		return nil, false
	}

	server := NewVerifyServer(serverIdentity, serverLookup)
	client := NewVerifyClient(clientIdentity, clientLookup)

	m1, err := client.BuildM1()
	require.NoError(t, err)
	m2, err := server.HandleM1(m1)
	require.NoError(t, err)
	m3, _, err := client.HandleM2(m2)
	require.NoError(t, err)

	_, _, err = server.HandleM3(m3)
	require.ErrorIs(t, err, ErrUnknownPeer)
}
