// Package pairing implements the Pair-Setup (SRP-6a) and Pair-Verify
// (X25519 + Ed25519) message flows of spec.md §4.5, for both the
// client and server roles. Each flow is a small state machine driven by
// TLV-encoded request/response bodies; callers own the HTTP/RTSP transport
// and hand bodies in, receiving bodies to send back.
package pairing

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/tlv"
)

// ErrAuthentication is returned internally when a proof check fails; the
// TLV response carrying tlv error code 0x02 has already been built by the
// caller-visible Handle* method, so callers generally only need to check
// errors.Is against this to decide whether to log "wrong PIN" rather than
// close the connection with a generic failure.
var ErrAuthentication = errors.New("pairing: authentication failed")

// ErrUnexpectedState is returned when a message's state byte is not the
// expected next value. Per spec.md §4.5 this aborts the pairing attempt.
var ErrUnexpectedState = errors.New("pairing: unexpected state")

// ErrUnknownPeer is returned by Pair-Verify when the identifier presented
// by the other side has no known long-term public key on file — it has
// never completed Pair-Setup with us.
var ErrUnknownPeer = errors.New("pairing: unknown peer identifier")

// tlvErrorAuthentication is the wire error code for both categories above.
const tlvErrorAuthentication = 0x02

func errorResponse() []byte {
	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{0}},
		tlv.Field{Type: tlv.TypeError, Value: []byte{tlvErrorAuthentication}},
	)
}

func expectState(items *tlv.Items, want byte) error {
	got, ok := items.GetByte(tlv.TypeState)
	if !ok || got != want {
		return fmt.Errorf("%w: want %d", ErrUnexpectedState, want)
	}
	return nil
}

// Identity is a long-term Ed25519 pairing identity plus the opaque string
// peers use to name it (the accessory/controller identifier).
type Identity struct {
	Identifier string
	KeyPair    *cryptoutil.Ed25519KeyPair
}

// VerifiedPeer is what a successful Pair-Setup or Pair-Verify yields about
// the other side.
type VerifiedPeer struct {
	Identifier string
	PublicKey  ed25519.PublicKey
}

// SessionKeys are the two ChaCha20-Poly1305 keys derived at the end of
// Pair-Verify, one per direction.
type SessionKeys struct {
	Encrypt []byte
	Decrypt []byte
}

func buildSignedSubTLV(signKey *cryptoutil.Ed25519KeyPair, identifier string, signed []byte) []byte {
	sig := signKey.Sign(signed)
	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeIdentifier, Value: []byte(identifier)},
		tlv.Field{Type: tlv.TypeSignature, Value: sig},
	)
}

func verifySignedSubTLV(sub *tlv.Items, peerKey ed25519.PublicKey, signed []byte) (string, error) {
	idBytes, ok := sub.Get(tlv.TypeIdentifier)
	if !ok {
		return "", fmt.Errorf("%w: missing identifier", ErrAuthentication)
	}
	sig, ok := sub.Get(tlv.TypeSignature)
	if !ok {
		return "", fmt.Errorf("%w: missing signature", ErrAuthentication)
	}
	if !cryptoutil.VerifyEd25519(peerKey, signed, sig) {
		return "", ErrAuthentication
	}
	return string(idBytes), nil
}
