// Package cryptoutil wraps the keyed primitives used by pairing and the
// encrypted control/audio channels: SRP-6a, Ed25519, X25519, HKDF,
// ChaCha20-Poly1305, AES-CBC and RSA-PKCS1v15. It performs no I/O.
package cryptoutil

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFExpand derives outLen bytes from secret using HKDF-SHA512 with the
// given salt and info strings, matching the derivation used throughout
// pairing and the session key schedule.
func HKDFExpand(secret []byte, salt, info string, outLen int) []byte {
	r := hkdf.New(sha512.New, secret, []byte(salt), []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("cryptoutil: hkdf: " + err.Error())
	}
	return out
}
