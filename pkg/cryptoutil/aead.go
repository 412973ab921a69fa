package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptionFailed covers any ChaCha20-Poly1305 authentication failure.
// Per spec.md §7, this is always fatal to the session — callers must not
// retry.
var ErrDecryptionFailed = errors.New("cryptoutil: decryption failed")

// chachaNonce builds the 12-byte nonce from an 8-byte little-endian
// counter, right-padded with four zero bytes, as used by the per-direction
// control-channel counters.
func chachaNonce(counter uint64) []byte {
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[:8], counter)
	return nonce
}

// chachaNonceLabel builds a nonce from a fixed ASCII label (e.g. "PS-Msg04"),
// right-padded to 12 bytes, as used by the three fixed pairing sub-TLV
// messages (PS-Msg04, PV-Msg02, PV-Msg03).
func chachaNonceLabel(label string) []byte {
	nonce := make([]byte, 12)
	copy(nonce, label)
	return nonce
}

// SealWithLabel encrypts plaintext with key under the fixed nonce derived
// from label, as used for the M2/M3 (pair-verify) and M4 (pair-setup)
// encrypted sub-TLVs.
func SealWithLabel(key, plaintext []byte, label string) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, chachaNonceLabel(label), plaintext, nil), nil
}

// OpenWithLabel decrypts and authenticates ciphertext sealed by
// SealWithLabel. Any failure is reported as ErrDecryptionFailed.
func OpenWithLabel(key, ciphertext []byte, label string) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(nil, chachaNonceLabel(label), ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// SealWithCounter encrypts plaintext with key under the nonce derived from
// a monotonically-increasing per-direction counter, as used by the
// encrypted control-channel message stream after pair-verify.
func SealWithCounter(key, plaintext []byte, counter uint64) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, chachaNonce(counter), plaintext, nil), nil
}

// OpenWithCounter is the counter-nonce decrypt counterpart of
// SealWithCounter.
func OpenWithCounter(key, ciphertext []byte, counter uint64) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(nil, chachaNonce(counter), ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}

// AESCBCDecryptPartial decrypts an RTP audio payload: whole 16-byte blocks
// are decrypted under AES-128-CBC with the given key/IV (re-used
// unmodified for every packet — CBC chaining is not carried across
// packets), and any trailing partial block passes through unencrypted.
func AESCBCDecryptPartial(key, iv, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	wholeLen := (len(payload) / aes.BlockSize) * aes.BlockSize
	out := make([]byte, len(payload))
	if wholeLen > 0 {
		mode := cipher.NewCBCDecrypter(block, iv)
		mode.CryptBlocks(out[:wholeLen], payload[:wholeLen])
	}
	copy(out[wholeLen:], payload[wholeLen:])
	return out, nil
}

// AESCBCEncryptPartial is the encrypt-side counterpart, used by a sender.
func AESCBCEncryptPartial(key, iv, payload []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	wholeLen := (len(payload) / aes.BlockSize) * aes.BlockSize
	out := make([]byte, len(payload))
	if wholeLen > 0 {
		mode := cipher.NewCBCEncrypter(block, iv)
		mode.CryptBlocks(out[:wholeLen], payload[:wholeLen])
	}
	copy(out[wholeLen:], payload[wholeLen:])
	return out, nil
}

// RSADecryptPKCS1v15 unwraps the legacy AirPlay 1 "rsaaeskey" field: a
// 16-byte AES key encrypted with the receiver's RSA public key.
func RSADecryptPKCS1v15(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(nil, priv, ciphertext)
}

// RSAEncryptPKCS1v15 wraps an AES key for a legacy AirPlay 1 ANNOUNCE.
func RSAEncryptPKCS1v15(pub *rsa.PublicKey, aesKey []byte) ([]byte, error) {
	return rsa.EncryptPKCS1v15(rand.Reader, pub, aesKey)
}
