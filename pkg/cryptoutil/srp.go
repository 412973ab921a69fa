package cryptoutil

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"math/big"
)

// srpNHex is the 3072-bit SRP group modulus shared by Pair-Setup, per
// RFC 5054 / RFC 3526 group 15 (768 hex digits = 3072 bits).
const srpNHex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
	"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
	"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
	"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
	"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33" +
	"A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864" +
	"D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E2" +
	"08E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

var (
	srpN = mustBigHex(srpNHex)
	srpG = big.NewInt(5)
)

func mustBigHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("cryptoutil: invalid SRP modulus")
	}
	return n
}

// ErrSRPProofMismatch is returned when a peer's SRP evidence message does
// not match, i.e. the wrong password was used.
var ErrSRPProofMismatch = errors.New("cryptoutil: srp proof mismatch")

func srpHash(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashInt(i *big.Int) []byte {
	return srpHash(i.Bytes())
}

// pad left-pads b to the byte length of srpN, as SRP evidence computation
// requires operands of matching width.
func pad(b []byte) []byte {
	width := (srpN.BitLen() + 7) / 8
	if len(b) >= width {
		return b
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}

// srpK is the multiplier k = H(N || PAD(g)).
func srpK() *big.Int {
	return new(big.Int).SetBytes(srpHash(srpN.Bytes(), pad(srpG.Bytes())))
}

// SRPVerifier computes the SRP-6a password verifier v = g^x mod N where
// x = H(salt || H(user + ":" + password)), for a given username/password.
func SRPVerifier(user, password string, salt []byte) *big.Int {
	inner := srpHash([]byte(user + ":" + password))
	x := new(big.Int).SetBytes(srpHash(salt, inner))
	return new(big.Int).Exp(srpG, x, srpN)
}

// SRPServer holds server-side SRP-6a state across the M1..M4 exchange.
type SRPServer struct {
	verifier *big.Int
	b        *big.Int
	bPub     *big.Int
	a        *big.Int // peer public key, set in SetClientPublic
	sharedS  *big.Int
	sessionK []byte
}

// NewSRPServer creates server state from a verifier computed by
// SRPVerifier. It generates a fresh private exponent b and public key B.
func NewSRPServer(verifier *big.Int) (*SRPServer, error) {
	b, err := randBigInt()
	if err != nil {
		return nil, err
	}

	// B = (k*v + g^b) mod N
	k := srpK()
	term1 := new(big.Int).Mul(k, verifier)
	term1.Mod(term1, srpN)
	term2 := new(big.Int).Exp(srpG, b, srpN)
	bPub := new(big.Int).Add(term1, term2)
	bPub.Mod(bPub, srpN)

	return &SRPServer{verifier: verifier, b: b, bPub: bPub}, nil
}

// PublicKey returns B.
func (s *SRPServer) PublicKey() *big.Int {
	return s.bPub
}

// ComputeSessionKey consumes the client's public key A and derives the
// shared SRP session key K = H(S).
func (s *SRPServer) ComputeSessionKey(clientPublic *big.Int) error {
	if new(big.Int).Mod(clientPublic, srpN).Sign() == 0 {
		return errors.New("cryptoutil: srp: A mod N == 0")
	}
	s.a = clientPublic

	u := new(big.Int).SetBytes(srpHash(pad(clientPublic.Bytes()), pad(s.bPub.Bytes())))

	// S = (A * v^u)^b mod N
	vu := new(big.Int).Exp(s.verifier, u, srpN)
	base := new(big.Int).Mul(clientPublic, vu)
	base.Mod(base, srpN)
	sVal := new(big.Int).Exp(base, s.b, srpN)

	s.sharedS = sVal
	s.sessionK = hashInt(sVal)
	return nil
}

// SessionKey returns K, valid after ComputeSessionKey.
func (s *SRPServer) SessionKey() []byte {
	return s.sessionK
}

// VerifyClientProof checks the client's M1 evidence and, if it matches,
// returns the server's M2 evidence to send back. ErrSRPProofMismatch means
// the client used the wrong password.
func (s *SRPServer) VerifyClientProof(clientProof []byte) ([]byte, error) {
	expected := srpHash(pad(s.a.Bytes()), pad(s.bPub.Bytes()), s.sessionK)
	if !hmacEqual(expected, clientProof) {
		return nil, ErrSRPProofMismatch
	}
	m2 := srpHash(pad(s.a.Bytes()), expected, s.sessionK)
	return m2, nil
}

// SRPClient holds client-side SRP-6a state.
type SRPClient struct {
	user, password string
	a              *big.Int
	aPub           *big.Int
	salt           []byte
	serverPublic   *big.Int
	sessionK       []byte
}

// NewSRPClient creates client state with a fresh private exponent a and
// public key A.
func NewSRPClient(user, password string) (*SRPClient, error) {
	a, err := randBigInt()
	if err != nil {
		return nil, err
	}
	aPub := new(big.Int).Exp(srpG, a, srpN)
	return &SRPClient{user: user, password: password, a: a, aPub: aPub}, nil
}

// PublicKey returns A.
func (c *SRPClient) PublicKey() *big.Int {
	return c.aPub
}

// ComputeSessionKey consumes the salt and server public key B received in
// M2 and derives the shared session key.
func (c *SRPClient) ComputeSessionKey(salt []byte, serverPublic *big.Int) error {
	if new(big.Int).Mod(serverPublic, srpN).Sign() == 0 {
		return errors.New("cryptoutil: srp: B mod N == 0")
	}
	c.salt = salt
	c.serverPublic = serverPublic

	inner := srpHash([]byte(c.user + ":" + c.password))
	x := new(big.Int).SetBytes(srpHash(salt, inner))

	u := new(big.Int).SetBytes(srpHash(pad(c.aPub.Bytes()), pad(serverPublic.Bytes())))

	k := srpK()
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(k, gx)
	base := new(big.Int).Sub(serverPublic, kgx)
	base.Mod(base, srpN)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)

	sVal := new(big.Int).Exp(base, exp, srpN)
	c.sessionK = hashInt(sVal)
	return nil
}

// SessionKey returns K, valid after ComputeSessionKey.
func (c *SRPClient) SessionKey() []byte {
	return c.sessionK
}

// ClientProof computes M1, the evidence sent to the server in M3.
func (c *SRPClient) ClientProof() []byte {
	return srpHash(pad(c.aPub.Bytes()), pad(c.serverPublic.Bytes()), c.sessionK)
}

// VerifyServerProof checks the server's M2 evidence received in M4.
func (c *SRPClient) VerifyServerProof(m1, serverProof []byte) error {
	expected := srpHash(pad(c.aPub.Bytes()), m1, c.sessionK)
	if !hmacEqual(expected, serverProof) {
		return ErrSRPProofMismatch
	}
	return nil
}

func randBigInt() (*big.Int, error) {
	// 32 random bytes (256 bits) is ample entropy for the private exponent
	// and matches common SRP implementation practice.
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}

// NewSRPSalt returns a fresh 16-byte random SRP salt, regenerated on every
// pairing attempt per spec.md §4.5.
func NewSRPSalt() ([]byte, error) {
	salt := make([]byte, 16)
	_, err := rand.Read(salt)
	return salt, err
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
