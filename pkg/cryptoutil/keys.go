package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// Ed25519KeyPair is a long-term pairing identity.
type Ed25519KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateEd25519 creates a fresh long-term identity keypair.
func GenerateEd25519() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs message with the identity's private key.
func (k *Ed25519KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// VerifyEd25519 checks sig over message against pub.
func VerifyEd25519(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// X25519KeyPair is an ephemeral key-agreement pair used once per
// pair-verify session.
type X25519KeyPair struct {
	Public  [32]byte
	private [32]byte
}

// GenerateX25519 creates a fresh ephemeral X25519 keypair.
func GenerateX25519() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &X25519KeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret with a
// peer's public key.
func (k *X25519KeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	return curve25519.X25519(k.private[:], peerPublic[:])
}
