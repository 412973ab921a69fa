package pairing

import (
	"crypto/ed25519"
	"fmt"
	"math/big"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/tlv"
)

const pairSetupUser = "Pair-Setup"

// SetupServer drives the server (accessory) side of Pair-Setup: M1->M2,
// M3->M4.
type SetupServer struct {
	identity *Identity
	srp      *cryptoutil.SRPServer
	salt     []byte
}

// NewSetupServer creates a SetupServer for a configured PIN/password and
// the server's own long-term Ed25519 identity. A fresh SRP salt is
// generated per spec.md §4.5 ("fresh SRP salt per pairing attempt").
func NewSetupServer(password string, identity *Identity) (*SetupServer, error) {
	salt, err := cryptoutil.NewSRPSalt()
	if err != nil {
		return nil, err
	}
	verifier := cryptoutil.SRPVerifier(pairSetupUser, password, salt)
	srp, err := cryptoutil.NewSRPServer(verifier)
	if err != nil {
		return nil, err
	}
	return &SetupServer{identity: identity, srp: srp, salt: salt}, nil
}

// HandleM1 consumes the client's M1 (method=0, state=1) and returns the M2
// body (state=2, salt, publicKey).
func (s *SetupServer) HandleM1(body []byte) ([]byte, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := expectState(items, 1); err != nil {
		return errorResponse(), err
	}

	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{2}},
		tlv.Field{Type: tlv.TypeSalt, Value: s.salt},
		tlv.Field{Type: tlv.TypePublicKey, Value: s.srp.PublicKey().Bytes()},
	), nil
}

// HandleM3 consumes the client's M3 (state=3, publicKey=A, proof=M1) and
// returns the M4 body. A wrong password surfaces as ErrAuthentication with
// the TLV error=0x02 response already built for the caller to send.
func (s *SetupServer) HandleM3(body []byte) ([]byte, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := expectState(items, 3); err != nil {
		return errorResponse(), err
	}

	aBytes, ok := items.Get(tlv.TypePublicKey)
	if !ok {
		return errorResponse(), fmt.Errorf("%w: missing public key", ErrAuthentication)
	}
	clientProof, ok := items.Get(tlv.TypeProof)
	if !ok {
		return errorResponse(), fmt.Errorf("%w: missing proof", ErrAuthentication)
	}

	clientPublic := new(big.Int).SetBytes(aBytes)
	if err := s.srp.ComputeSessionKey(clientPublic); err != nil {
		return errorResponse(), fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	m2, err := s.srp.VerifyClientProof(clientProof)
	if err != nil {
		return errorResponse(), fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	sessionKey := s.srp.SessionKey()
	signSalt := cryptoutil.HKDFExpand(sessionKey, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)

	signed := make([]byte, 0, len(signSalt)+len(s.identity.Identifier)+ed25519.PublicKeySize)
	signed = append(signed, signSalt...)
	signed = append(signed, s.identity.Identifier...)
	signed = append(signed, s.identity.KeyPair.Public...)

	subTLV := tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeIdentifier, Value: []byte(s.identity.Identifier)},
		tlv.Field{Type: tlv.TypePublicKey, Value: s.identity.KeyPair.Public},
		tlv.Field{Type: tlv.TypeSignature, Value: s.identity.KeyPair.Sign(signed)},
	)

	encryptKey := cryptoutil.HKDFExpand(sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	encrypted, err := cryptoutil.SealWithLabel(encryptKey, subTLV, "PS-Msg04")
	if err != nil {
		return nil, err
	}

	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{4}},
		tlv.Field{Type: tlv.TypeProof, Value: m2},
		tlv.Field{Type: tlv.TypeEncryptedData, Value: encrypted},
	), nil
}

// SetupClient drives the client (controller) side of Pair-Setup.
type SetupClient struct {
	srp *cryptoutil.SRPClient
	m1  []byte
}

// NewSetupClient creates a SetupClient for the user-entered PIN.
func NewSetupClient(password string) (*SetupClient, error) {
	srp, err := cryptoutil.NewSRPClient(pairSetupUser, password)
	if err != nil {
		return nil, err
	}
	return &SetupClient{srp: srp}, nil
}

// BuildM1 returns the initial (method=0, state=1) request body.
func (c *SetupClient) BuildM1() []byte {
	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeMethod, Value: []byte{0}},
		tlv.Field{Type: tlv.TypeState, Value: []byte{1}},
	)
}

// HandleM2 consumes the server's M2 and returns the M3 body to send.
func (c *SetupClient) HandleM2(body []byte) ([]byte, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	if err := expectState(items, 2); err != nil {
		return nil, err
	}

	salt, ok := items.Get(tlv.TypeSalt)
	if !ok {
		return nil, fmt.Errorf("%w: missing salt", ErrAuthentication)
	}
	bBytes, ok := items.Get(tlv.TypePublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: missing public key", ErrAuthentication)
	}

	serverPublic := new(big.Int).SetBytes(bBytes)
	if err := c.srp.ComputeSessionKey(salt, serverPublic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	c.m1 = c.srp.ClientProof()

	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{3}},
		tlv.Field{Type: tlv.TypePublicKey, Value: c.srp.PublicKey().Bytes()},
		tlv.Field{Type: tlv.TypeProof, Value: c.m1},
	), nil
}

// HandleM4 consumes the server's M4, verifies the server's proof and the
// accessory identity signature, and returns the verified peer to persist.
func (c *SetupClient) HandleM4(body []byte) (*VerifiedPeer, error) {
	items, err := tlv.Decode(body)
	if err != nil {
		return nil, err
	}
	if got, ok := items.GetByte(tlv.TypeState); ok && got == 0 {
		if code, ok := items.GetByte(tlv.TypeError); ok && code == tlvErrorAuthentication {
			return nil, ErrAuthentication
		}
	}
	if err := expectState(items, 4); err != nil {
		return nil, err
	}

	serverProof, ok := items.Get(tlv.TypeProof)
	if !ok {
		return nil, fmt.Errorf("%w: missing proof", ErrAuthentication)
	}
	if err := c.srp.VerifyServerProof(c.m1, serverProof); err != nil {
		return nil, err
	}

	encrypted, ok := items.Get(tlv.TypeEncryptedData)
	if !ok {
		return nil, fmt.Errorf("%w: missing encrypted data", ErrAuthentication)
	}

	sessionKey := c.srp.SessionKey()
	encryptKey := cryptoutil.HKDFExpand(sessionKey, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", 32)
	plain, err := cryptoutil.OpenWithLabel(encryptKey, encrypted, "PS-Msg04")
	if err != nil {
		return nil, err
	}

	sub, err := tlv.Decode(plain)
	if err != nil {
		return nil, err
	}
	identifier, ok := sub.Get(tlv.TypeIdentifier)
	if !ok {
		return nil, fmt.Errorf("%w: missing identifier", ErrAuthentication)
	}
	ltpk, ok := sub.Get(tlv.TypePublicKey)
	if !ok || len(ltpk) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: missing or malformed LTPK", ErrAuthentication)
	}
	sig, ok := sub.Get(tlv.TypeSignature)
	if !ok {
		return nil, fmt.Errorf("%w: missing signature", ErrAuthentication)
	}

	signSalt := cryptoutil.HKDFExpand(sessionKey, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", 32)
	signed := make([]byte, 0, len(signSalt)+len(identifier)+ed25519.PublicKeySize)
	signed = append(signed, signSalt...)
	signed = append(signed, identifier...)
	signed = append(signed, ltpk...)

	if !cryptoutil.VerifyEd25519(ed25519.PublicKey(ltpk), signed, sig) {
		return nil, ErrAuthentication
	}

	return &VerifiedPeer{Identifier: string(identifier), PublicKey: ed25519.PublicKey(ltpk)}, nil
}
