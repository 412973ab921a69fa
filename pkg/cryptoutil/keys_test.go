package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := GenerateEd25519()
	require.NoError(t, err)

	msg := []byte("accessoryLTPK || accessoryIdentifier")
	sig := kp.Sign(msg)
	require.True(t, VerifyEd25519(kp.Public, msg, sig))
	require.False(t, VerifyEd25519(kp.Public, append(msg, 'x'), sig))
}

func TestX25519SharedSecretSymmetric(t *testing.T) {
	a, err := GenerateX25519()
	require.NoError(t, err)
	b, err := GenerateX25519()
	require.NoError(t, err)

	sharedA, err := a.SharedSecret(b.Public)
	require.NoError(t, err)
	sharedB, err := b.SharedSecret(a.Public)
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
}
