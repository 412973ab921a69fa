// Package session implements the server-role (receiver) session state
// machine (spec.md §4.2), the two-phase SETUP negotiation (§4.4), and the
// UDP port allocator shared by every session on a host.
package session

import (
	"sync"

	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/base"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
)

// State is a state of a Session, following the server-role sequence from
// spec.md §4.2.
type State int

// Session states, in the order a successful pairing/streaming attempt
// visits them.
const (
	StateIdle State = iota
	StateAwaitingPairSetupM3
	StatePairSetupComplete
	StateAwaitingPairVerifyM3
	StatePaired
	StateAnnounced
	StateSetupPhase1
	StateSetupPhase2
	StateStreaming
	StatePaused
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPairSetupM3:
		return "awaiting-pair-setup-m3"
	case StatePairSetupComplete:
		return "pair-setup-complete"
	case StateAwaitingPairVerifyM3:
		return "awaiting-pair-verify-m3"
	case StatePaired:
		return "paired"
	case StateAnnounced:
		return "announced"
	case StateSetupPhase1:
		return "setup-phase-1"
	case StateSetupPhase2:
		return "setup-phase-2"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// alwaysAllowed methods are legal in every state per spec.md §4.2.
var alwaysAllowed = map[base.Method]struct{}{
	base.Options:  {},
	base.Teardown: {},
}

// Session tracks one client connection's state and session ID.
type Session struct {
	mu        sync.Mutex
	state     State
	sessionID string
	allocator *PortAllocator
	ports     []int

	// encryptKey/decryptKey and their counters are exclusively owned by
	// the session (spec.md §9, "Ownership of session keys"): no other
	// component reads or advances them directly, which is what prevents a
	// ChaCha20-Poly1305 nonce counter from ever being reused.
	encryptKey     []byte
	decryptKey     []byte
	encryptCounter uint64
	decryptCounter uint64

	// streamParams is populated by ANNOUNCE or phase-2 SETUP; the session
	// exclusively owns it per spec.md §3's ownership summary.
	streamParams    StreamParameters
	streamParamsSet bool
}

// Codec identifies the negotiated audio codec (spec.md §3).
type Codec int

// codecs a session's stream parameters may negotiate.
const (
	CodecPCM Codec = iota
	CodecALAC
	CodecAACLC
	CodecAACELD
)

func (c Codec) String() string {
	switch c {
	case CodecPCM:
		return "PCM"
	case CodecALAC:
		return "ALAC"
	case CodecAACLC:
		return "AAC-LC"
	case CodecAACELD:
		return "AAC-ELD"
	default:
		return "unknown"
	}
}

// StreamParameters is the data spec.md §3 says is "populated by ANNOUNCE /
// SETUP phase 2": the negotiated codec and its framing, plus the optional
// AES key material a legacy AirPlay 1 ANNOUNCE or a phase-2 "shk" carries.
type StreamParameters struct {
	Codec           Codec
	SampleRate      int
	Channels        int
	BitsPerSample   int
	FramesPerPacket int
	AESKey          []byte // 16 bytes, optional
	AESIV           []byte // 16 bytes, optional
	MinLatency      *int   // samples, optional
}

// New creates a Session in the idle state, bound to a shared allocator for
// port release on teardown.
func New(allocator *PortAllocator) *Session {
	return &Session{state: StateIdle, allocator: allocator}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the session ID issued at phase-1 SETUP, or "" if none
// has been issued yet.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionID records the session ID to echo and require on subsequent
// state-full requests.
func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// TrackPort remembers a port allocated on behalf of this session so
// Teardown can release it exactly once.
func (s *Session) TrackPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = append(s.ports, port)
}

// CheckTransition validates that method is legal in the session's current
// state, per the allowed-methods set for that state. OPTIONS and TEARDOWN
// are always legal. Returns an *aperrors.Error with KindInvalidState
// (RTSP 455) on violation.
func (s *Session) CheckTransition(method base.Method, allowed map[State]struct{}) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if _, ok := alwaysAllowed[method]; ok {
		return nil
	}
	if _, ok := allowed[state]; ok {
		return nil
	}
	err := aperrors.New(aperrors.KindInvalidState, "method not valid in this state")
	err.Details.RTSPStatus = int(base.StatusMethodNotValidInThisState)
	return err
}

// Transition moves the session to next, regardless of the prior state
// (callers are expected to have already validated via CheckTransition).
func (s *Session) Transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// Teardown releases every port this session allocated and marks it
// terminated. Safe to call more than once; only the first call releases
// ports.
func (s *Session) Teardown() {
	s.mu.Lock()
	ports := s.ports
	s.ports = nil
	s.state = StateTeardown
	s.mu.Unlock()

	for _, p := range ports {
		s.allocator.Release(p)
	}
}

// SetKeys installs the directional ChaCha20-Poly1305 keys derived at the
// end of Pair-Verify, resetting both counters to 0. Called exactly once per
// session, on the transition into StatePaired.
func (s *Session) SetKeys(encryptKey, decryptKey []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptKey = encryptKey
	s.decryptKey = decryptKey
	s.encryptCounter = 0
	s.decryptCounter = 0
}

// Encrypt seals plaintext under the session's encrypt key and the current
// write counter, then advances the counter. This is the only way the
// encrypted control-channel message stream is produced; no caller may hold
// or advance the counter itself (spec.md §9).
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := cryptoutil.SealWithCounter(s.encryptKey, plaintext, s.encryptCounter)
	if err != nil {
		return nil, err
	}
	s.encryptCounter++
	return out, nil
}

// Decrypt opens ciphertext under the session's decrypt key and the current
// read counter, then advances the counter regardless of outcome: a
// decryption failure is fatal to the session per spec.md §7, so there is no
// retry path that would need the counter left unadvanced.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := s.decryptCounter
	s.decryptCounter++
	return cryptoutil.OpenWithCounter(s.decryptKey, ciphertext, counter)
}

// SetStreamParameters records the codec and framing negotiated by ANNOUNCE
// or phase-2 SETUP.
func (s *Session) SetStreamParameters(p StreamParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamParams = p
	s.streamParamsSet = true
}

// StreamParameters returns the session's negotiated stream parameters, and
// whether any have been set yet.
func (s *Session) StreamParameters() (StreamParameters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamParams, s.streamParamsSet
}
