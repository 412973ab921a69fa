package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSRPFullExchange(t *testing.T) {
	const user = "Pair-Setup"
	const password = "3939"

	salt, err := NewSRPSalt()
	require.NoError(t, err)

	verifier := SRPVerifier(user, password, salt)

	server, err := NewSRPServer(verifier)
	require.NoError(t, err)

	client, err := NewSRPClient(user, password)
	require.NoError(t, err)

	require.NoError(t, client.ComputeSessionKey(salt, server.PublicKey()))
	require.NoError(t, server.ComputeSessionKey(client.PublicKey()))

	require.Equal(t, client.SessionKey(), server.SessionKey())

	m1 := client.ClientProof()
	m2, err := server.VerifyClientProof(m1)
	require.NoError(t, err)

	require.NoError(t, client.VerifyServerProof(m1, m2))
}

func TestSRPWrongPasswordFailsAtServer(t *testing.T) {
	salt, err := NewSRPSalt()
	require.NoError(t, err)
	verifier := SRPVerifier("Pair-Setup", "correct", salt)

	server, err := NewSRPServer(verifier)
	require.NoError(t, err)
	client, err := NewSRPClient("Pair-Setup", "wrong")
	require.NoError(t, err)

	require.NoError(t, client.ComputeSessionKey(salt, server.PublicKey()))
	require.NoError(t, server.ComputeSessionKey(client.PublicKey()))

	_, err = server.VerifyClientProof(client.ClientProof())
	require.ErrorIs(t, err, ErrSRPProofMismatch)
}

func TestChaCha20Poly1305CounterRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	ct, err := SealWithCounter(key, []byte("hello world"), 0)
	require.NoError(t, err)
	pt, err := OpenWithCounter(key, ct, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(pt))

	_, err = OpenWithCounter(key, ct, 1)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAESCBCPartialBlockPassthrough(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)

	payload := append(make([]byte, 16), []byte("short")...) // 16 + 5 bytes
	ct, err := AESCBCEncryptPartial(key, iv, payload)
	require.NoError(t, err)
	require.Equal(t, payload[16:], ct[16:]) // trailing partial block unencrypted

	pt, err := AESCBCDecryptPartial(key, iv, ct)
	require.NoError(t, err)
	require.Equal(t, payload, pt)
}
