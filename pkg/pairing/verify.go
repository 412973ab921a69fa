package pairing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/tlv"
)

// PeerKeyLookup resolves a previously-paired peer's long-term Ed25519
// public key by identifier. It returns ok=false for an unknown peer.
type PeerKeyLookup func(identifier string) (ed25519.PublicKey, bool)

// VerifyServer drives the server side of Pair-Verify: M1->M2, M3.
type VerifyServer struct {
	identity   *Identity
	lookupPeer PeerKeyLookup

	ephemeral    *cryptoutil.X25519KeyPair
	peerXPublic  [32]byte
	sessionKey   []byte
	sharedSecret []byte
}

// NewVerifyServer creates a VerifyServer for the server's own identity and
// a callback used to resolve a client's persisted public key.
func NewVerifyServer(identity *Identity, lookupPeer PeerKeyLookup) *VerifyServer {
	return &VerifyServer{identity: identity, lookupPeer: lookupPeer}
}

// HandleM1 consumes the client's ephemeral X25519 public key and returns
// the M2 body.
func (s *VerifyServer) HandleM1(body []byte) ([]byte, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := expectState(items, 1); err != nil {
		return errorResponse(), err
	}

	peerPub, ok := items.Get(tlv.TypePublicKey)
	if !ok || len(peerPub) != 32 {
		return errorResponse(), fmt.Errorf("%w: missing or malformed public key", ErrAuthentication)
	}
	copy(s.peerXPublic[:], peerPub)

	ephemeral, err := cryptoutil.GenerateX25519()
	if err != nil {
		return nil, err
	}
	s.ephemeral = ephemeral

	shared, err := ephemeral.SharedSecret(s.peerXPublic)
	if err != nil {
		return nil, err
	}
	s.sharedSecret = shared
	s.sessionKey = cryptoutil.HKDFExpand(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)

	signed := concat(ephemeral.Public[:], []byte(s.identity.Identifier), peerPub)
	subTLV := buildSignedSubTLV(s.identity.KeyPair, s.identity.Identifier, signed)

	encrypted, err := cryptoutil.SealWithLabel(s.sessionKey, subTLV, "PV-Msg02")
	if err != nil {
		return nil, err
	}

	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{2}},
		tlv.Field{Type: tlv.TypePublicKey, Value: ephemeral.Public[:]},
		tlv.Field{Type: tlv.TypeEncryptedData, Value: encrypted},
	), nil
}

// HandleM3 consumes the client's M3, verifies its identity, and on success
// returns the final directional session keys and the verified peer.
func (s *VerifyServer) HandleM3(body []byte) (*SessionKeys, *VerifiedPeer, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, nil, err
	}
	if err := expectState(items, 3); err != nil {
		return nil, nil, err
	}

	encrypted, ok := items.Get(tlv.TypeEncryptedData)
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing encrypted data", ErrAuthentication)
	}
	plain, err := cryptoutil.OpenWithLabel(s.sessionKey, encrypted, "PV-Msg03")
	if err != nil {
		return nil, nil, err
	}

	sub, err := tlv.Decode(plain)
	if err != nil {
		return nil, nil, err
	}

	idBytes, ok := sub.Get(tlv.TypeIdentifier)
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing identifier", ErrAuthentication)
	}
	identifier := string(idBytes)

	peerKey, ok := s.lookupPeer(identifier)
	if !ok {
		return nil, nil, ErrUnknownPeer
	}

	signed := concat(s.peerXPublic[:], idBytes, s.ephemeral.Public[:])
	if _, err := verifySignedSubTLV(sub, peerKey, signed); err != nil {
		return nil, nil, err
	}

	keys := &SessionKeys{
		Encrypt: cryptoutil.HKDFExpand(s.sharedSecret, "Control-Salt", "Control-Write-Encryption-Key", 32),
		Decrypt: cryptoutil.HKDFExpand(s.sharedSecret, "Control-Salt", "Control-Read-Encryption-Key", 32),
	}
	return keys, &VerifiedPeer{Identifier: identifier, PublicKey: peerKey}, nil
}

// VerifyClient drives the client side of Pair-Verify.
type VerifyClient struct {
	identity     *Identity
	lookupPeer   PeerKeyLookup
	ephemeral    *cryptoutil.X25519KeyPair
	serverXPublic [32]byte
	sessionKey   []byte
	sharedSecret []byte
}

// NewVerifyClient creates a VerifyClient for the client's own identity and
// a callback used to resolve the server's persisted public key (learned
// during a prior Pair-Setup).
func NewVerifyClient(identity *Identity, lookupPeer PeerKeyLookup) *VerifyClient {
	return &VerifyClient{identity: identity, lookupPeer: lookupPeer}
}

// BuildM1 generates a fresh ephemeral keypair and returns the M1 body.
func (c *VerifyClient) BuildM1() ([]byte, error) {
	ephemeral, err := cryptoutil.GenerateX25519()
	if err != nil {
		return nil, err
	}
	c.ephemeral = ephemeral
	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{1}},
		tlv.Field{Type: tlv.TypePublicKey, Value: ephemeral.Public[:]},
	), nil
}

// HandleM2 verifies the server's M2 and returns the M3 body to send, along
// with the directional session keys (swapped relative to the server's, so
// that each side's Encrypt key equals the other's Decrypt key).
func (c *VerifyClient) HandleM2(body []byte) ([]byte, *SessionKeys, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, nil, err
	}
	if err := expectState(items, 2); err != nil {
		return nil, nil, err
	}

	serverPub, ok := items.Get(tlv.TypePublicKey)
	if !ok || len(serverPub) != 32 {
		return nil, nil, fmt.Errorf("%w: missing or malformed public key", ErrAuthentication)
	}
	copy(c.serverXPublic[:], serverPub)

	shared, err := c.ephemeral.SharedSecret(c.serverXPublic)
	if err != nil {
		return nil, nil, err
	}
	c.sharedSecret = shared
	c.sessionKey = cryptoutil.HKDFExpand(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", 32)

	encrypted, ok := items.Get(tlv.TypeEncryptedData)
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing encrypted data", ErrAuthentication)
	}
	plain, err := cryptoutil.OpenWithLabel(c.sessionKey, encrypted, "PV-Msg02")
	if err != nil {
		return nil, nil, err
	}

	sub, err := tlv.Decode(plain)
	if err != nil {
		return nil, nil, err
	}
	idBytes, ok := sub.Get(tlv.TypeIdentifier)
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing identifier", ErrAuthentication)
	}

	peerKey, ok := c.lookupPeer(string(idBytes))
	if !ok {
		return nil, nil, ErrUnknownPeer
	}

	signed := concat(c.serverXPublic[:], idBytes, c.ephemeral.Public[:])
	if _, err := verifySignedSubTLV(sub, peerKey, signed); err != nil {
		return nil, nil, err
	}

	mySigned := concat(c.ephemeral.Public[:], []byte(c.identity.Identifier), serverPub)
	mySubTLV := buildSignedSubTLV(c.identity.KeyPair, c.identity.Identifier, mySigned)
	myEncrypted, err := cryptoutil.SealWithLabel(c.sessionKey, mySubTLV, "PV-Msg03")
	if err != nil {
		return nil, nil, err
	}

	m3 := tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{3}},
		tlv.Field{Type: tlv.TypeEncryptedData, Value: myEncrypted},
	)

	keys := &SessionKeys{
		Encrypt: cryptoutil.HKDFExpand(shared, "Control-Salt", "Control-Read-Encryption-Key", 32),
		Decrypt: cryptoutil.HKDFExpand(shared, "Control-Salt", "Control-Write-Encryption-Key", 32),
	}
	return m3, keys, nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
