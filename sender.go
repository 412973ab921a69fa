package airplay2

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nightcast/airplay2/internal/logging"
	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/base"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/pairing"
	"github.com/nightcast/airplay2/pkg/rtpio"
	"github.com/nightcast/airplay2/pkg/rtsp"
	"github.com/nightcast/airplay2/pkg/sdp"
	"github.com/nightcast/airplay2/pkg/session"
)

// Sender discovers (via an external collaborator that hands it
// DeviceRecords) and streams audio to AirPlay/RAOP receivers, wiring the
// client roles of pkg/pairing and pkg/session into the control plane
// (spec.md §1's "sender" mode).
type Sender struct {
	cfg      senderConfig
	identity *pairing.Identity
	logger   zerolog.Logger
}

// NewSender applies opts over the default configuration and constructs a
// Sender. As with Receiver, a fresh Ed25519 identity is generated when the
// caller does not supply a persisted one.
func NewSender(opts ...SenderOption) (*Sender, error) {
	cfg := defaultSenderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	keyPair := cfg.identity
	if keyPair == nil {
		var err error
		keyPair, err = cryptoutil.GenerateEd25519()
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindInternal, "generate sender identity", err)
		}
	}

	return &Sender{
		cfg:      cfg,
		identity: &pairing.Identity{Identifier: deriveDeviceID(keyPair.Public), KeyPair: keyPair},
		logger:   logging.Component(cfg.logger, "sender"),
	}, nil
}

// StreamConfig is the codec and framing a Sender negotiates with a
// receiver's SETUP, mirroring session.StreamParameters on the client side.
type StreamConfig struct {
	Codec           session.Codec
	SampleRate      int
	Channels        int
	BitsPerSample   int
	FramesPerPacket int
}

// Stream drives one connected session end to end: pairing, ANNOUNCE/SETUP
// negotiation (legacy or two-phase, chosen from the target's feature bits),
// RECORD/PLAY/PAUSE, and outbound audio RTP framing.
type Stream struct {
	sender *Sender
	device DeviceRecord
	raw    net.Conn

	decoder *rtsp.Decoder
	frames  frameBuffer
	sess    *session.Session

	cseq      uint32
	uri       string
	sessionID string
	encrypted bool

	dataConn      *net.UDPConn
	controlConn   *net.UDPConn
	remoteDataPtr *net.UDPAddr
	cipher        rtpio.CipherParams
	params        StreamConfig

	seqMu     sync.Mutex
	seq       uint16
	timestamp uint32
	ssrc      uint32

	counterMu sync.Mutex
	counter   uint64

	logger zerolog.Logger
}

// Connect dials device, performs Pair-Setup (if this peer is not already
// known to the configured store) followed by Pair-Verify, and returns a
// Stream ready for Setup. password is only consulted when Pair-Setup runs;
// pass "" for a device whose TXT record does not set the password-required
// status bit.
func (s *Sender) Connect(device DeviceRecord, password string) (*Stream, error) {
	if len(device.Addresses) == 0 {
		return nil, aperrors.New(aperrors.KindDeviceNotFound, "device has no address")
	}
	addr := net.JoinHostPort(device.Addresses[0].String(), strconv.Itoa(device.Port))

	conn, err := net.DialTimeout("tcp", addr, s.cfg.dialTimeout)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindConnectionFailed, "dial "+addr, err)
	}

	st := &Stream{
		sender:  s,
		device:  device,
		raw:     conn,
		decoder: rtsp.NewDecoder(0),
		sess:    session.New(nil),
		ssrc:    randUint32(),
		logger:  logging.ForSession(s.logger, device.ID),
	}

	if err := st.options(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := st.pairIfNeeded(password); err != nil {
		conn.Close()
		return nil, err
	}
	return st, nil
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func randUint64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// options sends an initial OPTIONS ping, matching what every real AirPlay
// controller does before touching pairing or ANNOUNCE/SETUP. The response's
// Public header is not parsed: this module negotiates capability from the
// device's mDNS feature bits, not from an OPTIONS round trip.
func (st *Stream) options() error {
	req := newRequest(base.Options, "*")
	resp, err := st.send(req)
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindUnexpectedResponse, "OPTIONS rejected")
	}
	return nil
}

// pairIfNeeded runs Pair-Setup only when this device's identifier has no
// long-term public key on file yet, then always runs Pair-Verify (spec.md
// §4.5: "every subsequent connection").
func (st *Stream) pairIfNeeded(password string) error {
	if _, known := st.sender.cfg.store.Get(st.device.ID); !known {
		if err := st.pairSetup(password); err != nil {
			return err
		}
	}
	return st.pairVerify()
}

func (st *Stream) pairSetup(password string) error {
	client, err := pairing.NewSetupClient(password)
	if err != nil {
		return err
	}

	m2, err := st.postTLV("/pair-setup", client.BuildM1())
	if err != nil {
		return err
	}
	m3, err := client.HandleM2(m2)
	if err != nil {
		return aperrors.Wrap(aperrors.KindAuthenticationFailed, "pair-setup M2", err)
	}

	m4, err := st.postTLV("/pair-setup", m3)
	if err != nil {
		return err
	}
	peer, err := client.HandleM4(m4)
	if err != nil {
		return aperrors.Wrap(aperrors.KindAuthenticationFailed, "pair-setup M4", err)
	}

	// Keyed by this Stream's own DeviceRecord.ID rather than peer.Identifier:
	// a Stream only ever pairs with the one device it dialed, so the
	// identifier the accessory declares in its own M4 signature isn't needed
	// as a lookup key here (see DESIGN.md).
	st.sender.cfg.store.Put(st.device.ID, peer.PublicKey)
	return nil
}

func (st *Stream) pairVerify() error {
	lookup := func(_ string) (ed25519.PublicKey, bool) {
		raw, ok := st.sender.cfg.store.Get(st.device.ID)
		if !ok {
			return nil, false
		}
		return ed25519.PublicKey(raw), true
	}

	client := pairing.NewVerifyClient(st.sender.identity, lookup)
	m1, err := client.BuildM1()
	if err != nil {
		return err
	}

	m2, err := st.postTLV("/pair-verify", m1)
	if err != nil {
		return err
	}
	m3, keys, err := client.HandleM2(m2)
	if err != nil {
		return aperrors.Wrap(aperrors.KindAuthenticationFailed, "pair-verify M2", err)
	}

	if _, err := st.postTLV("/pair-verify", m3); err != nil {
		return err
	}

	st.sess.SetKeys(keys.Encrypt, keys.Decrypt)
	st.encrypted = true
	return nil
}

func (st *Stream) postTLV(uri string, body []byte) ([]byte, error) {
	req := newRequest(base.Post, uri)
	req.Protocol = base.ProtocolHTTP11
	req.Body = body
	req.Header.Set(base.HeaderContentType, "application/octet-stream")

	resp, err := st.send(req)
	if err != nil {
		return nil, err
	}
	if resp.Status != base.StatusOK {
		return nil, aperrors.New(aperrors.KindRTSPError, fmt.Sprintf("%s: status %d", uri, resp.Status))
	}
	return resp.Body, nil
}

// Setup negotiates ANNOUNCE/SETUP (legacy RAOP) or the two-phase SETUP
// (AirPlay 2), chosen from the target device's advertised feature bits, and
// opens the local UDP sockets the audio path sends from.
func (st *Stream) Setup(cfg StreamConfig) error {
	st.params = cfg
	if st.device.SupportsAirPlay2() {
		return st.setupAirPlay2(cfg)
	}
	return st.setupLegacy(cfg)
}

func (st *Stream) setupLegacy(cfg StreamConfig) error {
	localIP := hostOf(st.raw.LocalAddr())
	sessID := randUint64()
	st.uri = fmt.Sprintf("rtsp://%s/%d", localIP, sessID)

	body, err := sdp.EncodeAnnounce(sdp.AnnounceInfo{
		SessionName:     "airplay2",
		Codec:           sdpCodecFor(cfg.Codec),
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		BitsPerSample:   cfg.BitsPerSample,
		FramesPerPacket: cfg.FramesPerPacket,
	}, sessID, localIP)
	if err != nil {
		return err
	}

	req := newRequest(base.Announce, st.uri)
	req.Body = body
	req.Header.Set(base.HeaderContentType, "application/sdp")
	resp, err := st.send(req)
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "ANNOUNCE rejected")
	}

	dataConn, controlConn, err := st.openLocalSocketPair()
	if err != nil {
		return err
	}
	st.dataConn, st.controlConn = dataConn, controlConn

	transport := fmt.Sprintf("RTP/AVP/UDP;unicast;client_port=%d;control_port=%d",
		localPort(dataConn), localPort(controlConn))

	setupReq := newRequest(base.Setup, st.uri)
	setupReq.Header.Set(base.HeaderTransport, transport)
	setupResp, err := st.send(setupReq)
	if err != nil {
		return err
	}
	if setupResp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "SETUP rejected")
	}
	if sid, ok := setupResp.Header.Get(base.HeaderSession); ok {
		st.sessionID = firstSemicolonField(sid)
	}

	respTransport, _ := setupResp.Header.Get(base.HeaderTransport)
	serverData, _, ok := parseTransportServerPorts(respTransport)
	if !ok {
		return aperrors.New(aperrors.KindRTSPError, "SETUP response missing server_port")
	}

	st.remoteDataPtr = &net.UDPAddr{IP: net.ParseIP(hostOf(st.raw.RemoteAddr())), Port: serverData}
	st.cipher = rtpio.CipherParams{Encryption: rtpio.EncryptionNone}
	return nil
}

func (st *Stream) setupAirPlay2(cfg StreamConfig) error {
	localIP := hostOf(st.raw.LocalAddr())
	st.uri = fmt.Sprintf("rtsp://%s/%d", localIP, randUint64())

	phase1Body, err := session.EncodePhase1Request(&session.Phase1Request{
		TimingProtocol: "NTP",
		StreamTypes:    []int{session.StreamTypeEvent},
	})
	if err != nil {
		return err
	}

	req1 := newRequest(base.Setup, st.uri)
	req1.Body = phase1Body
	req1.Header.Set(base.HeaderContentType, "application/x-apple-binary-plist")
	resp1, err := st.send(req1)
	if err != nil {
		return err
	}
	if resp1.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "SETUP phase 1 rejected")
	}
	if sid, ok := resp1.Header.Get(base.HeaderSession); ok {
		st.sessionID = firstSemicolonField(sid)
	}
	if _, err := session.ParsePhase1Response(resp1.Body); err != nil {
		return err
	}

	phase2Body, err := session.EncodePhase2Request(session.AudioStreamInfo{
		CodecType:       codecTypeFor(cfg.Codec),
		SampleRate:      int64(cfg.SampleRate),
		Channels:        int64(cfg.Channels),
		SampleSize:      int64(cfg.BitsPerSample),
		FramesPerPacket: int64(cfg.FramesPerPacket),
		EncryptionType:  session.EncryptionNone,
	})
	if err != nil {
		return err
	}

	req2 := newRequest(base.Setup, st.uri)
	req2.Body = phase2Body
	req2.Header.Set(base.HeaderContentType, "application/x-apple-binary-plist")
	resp2, err := st.send(req2)
	if err != nil {
		return err
	}
	if resp2.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "SETUP phase 2 rejected")
	}

	phase2, err := session.ParsePhase2Response(resp2.Body)
	if err != nil {
		return err
	}

	dataConn, controlConn, err := st.openLocalSocketPair()
	if err != nil {
		return err
	}
	st.dataConn, st.controlConn = dataConn, controlConn
	st.remoteDataPtr = &net.UDPAddr{IP: net.ParseIP(hostOf(st.raw.RemoteAddr())), Port: phase2.DataPort}
	st.cipher = rtpio.CipherParams{Encryption: rtpio.EncryptionNone}
	return nil
}

func (st *Stream) openLocalSocketPair() (*net.UDPConn, *net.UDPConn, error) {
	dataConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, nil, aperrors.Wrap(aperrors.KindNetwork, "open audio data socket", err)
	}
	controlConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		dataConn.Close()
		return nil, nil, aperrors.Wrap(aperrors.KindNetwork, "open audio control socket", err)
	}
	return dataConn, controlConn, nil
}

func localPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// firstSemicolonField implements spec.md §4.2's session ID parse rule:
// "split on ';', take the portion before the first semicolon".
func firstSemicolonField(s string) string {
	if idx := strings.IndexByte(s, ';'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// parseTransportServerPorts extracts "server_port" and "control_port" from a
// legacy RAOP SETUP response's Transport header, the receiver-side
// counterpart of parseTransportClientPorts.
func parseTransportServerPorts(header string) (dataPort, controlPort int, ok bool) {
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "server_port="):
			dataPort, _ = strconv.Atoi(firstRangeValue(strings.TrimPrefix(field, "server_port=")))
		case strings.HasPrefix(field, "control_port="):
			controlPort, _ = strconv.Atoi(firstRangeValue(strings.TrimPrefix(field, "control_port=")))
		}
	}
	return dataPort, controlPort, dataPort != 0
}

func sdpCodecFor(c session.Codec) sdp.Codec {
	switch c {
	case session.CodecALAC:
		return sdp.CodecALAC
	case session.CodecAACLC:
		return sdp.CodecAACLC
	case session.CodecAACELD:
		return sdp.CodecAACELD
	default:
		return sdp.CodecPCM
	}
}

// codecTypeFor maps a Codec to the "ct" field value an AirPlay 2 phase-2
// SETUP request carries, the inverse of conn.go's codecFromType.
func codecTypeFor(c session.Codec) int64 {
	switch c {
	case session.CodecALAC:
		return 2
	case session.CodecAACLC:
		return 3
	case session.CodecAACELD:
		return 4
	default:
		return 1
	}
}

// Record sends RECORD, transitioning the accessory into streaming mode.
func (st *Stream) Record() error {
	resp, err := st.send(newRequest(base.Record, st.uri))
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "RECORD rejected")
	}
	return nil
}

// Play sends PLAY.
func (st *Stream) Play() error {
	resp, err := st.send(newRequest(base.Play, st.uri))
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "PLAY rejected")
	}
	return nil
}

// Pause sends PAUSE.
func (st *Stream) Pause() error {
	resp, err := st.send(newRequest(base.Pause, st.uri))
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "PAUSE rejected")
	}
	return nil
}

// SetVolume sends a SET_PARAMETER with the given dB attenuation (spec.md
// §6: db ∈ [-144, 0], -144 = mute).
func (st *Stream) SetVolume(db float64) error {
	req := newRequest(base.SetParameter, st.uri)
	req.Body = rtsp.EncodeVolume(db)
	req.Header.Set(base.HeaderContentType, rtsp.ContentTypeTextParameters)
	resp, err := st.send(req)
	if err != nil {
		return err
	}
	if resp.Status != base.StatusOK {
		return aperrors.New(aperrors.KindRTSPError, "SET_PARAMETER rejected")
	}
	return nil
}

// SendAudio encodes payload as the next outbound audio RTP packet and sends
// it to the negotiated data port. The caller supplies one already-encoded
// frame (PCM/ALAC/AAC bytes per the negotiated StreamConfig); this module
// does not itself encode audio codecs (spec.md §1 Non-goals).
func (st *Stream) SendAudio(payload []byte) error {
	if st.dataConn == nil || st.remoteDataPtr == nil {
		return aperrors.New(aperrors.KindInvalidState, "stream not set up")
	}

	st.seqMu.Lock()
	seq := st.seq
	st.seq++
	timestamp := st.timestamp
	st.timestamp += uint32(st.params.FramesPerPacket)
	st.seqMu.Unlock()

	raw, err := rtpio.EncodeAudioPacket(seq, timestamp, st.ssrc, payload, st.cipher, st.nextCounter())
	if err != nil {
		return err
	}
	if _, err := st.dataConn.WriteToUDP(raw, st.remoteDataPtr); err != nil {
		return aperrors.Wrap(aperrors.KindNetwork, "write audio packet", err)
	}
	return nil
}

func (st *Stream) nextCounter() uint64 {
	st.counterMu.Lock()
	defer st.counterMu.Unlock()
	c := st.counter
	st.counter++
	return c
}

// Teardown sends TEARDOWN, closes the UDP sockets, and closes the TCP
// connection. Safe to call more than once.
func (st *Stream) Teardown() error {
	_, _ = st.send(newRequest(base.Teardown, st.uri))
	if st.dataConn != nil {
		st.dataConn.Close()
		st.dataConn = nil
	}
	if st.controlConn != nil {
		st.controlConn.Close()
		st.controlConn = nil
	}
	return st.raw.Close()
}

func newRequest(method base.Method, uri string) *base.Request {
	return &base.Request{
		Method:   method,
		URI:      uri,
		Protocol: base.ProtocolRTSP10,
		Header:   base.NewHeader(),
	}
}

func (st *Stream) nextCSeq() string {
	st.cseq++
	return strconv.FormatUint(uint64(st.cseq), 10)
}

// send stamps CSeq and the session ID (once issued) onto req, encrypts it if
// Pair-Verify has completed, writes it, and blocks for the matching
// response. Per spec.md §5, RTSP requests on one connection are serialized:
// callers must not call send concurrently on the same Stream.
func (st *Stream) send(req *base.Request) (*base.Response, error) {
	req.Header.Set(base.HeaderCSeq, st.nextCSeq())
	if st.sessionID != "" {
		req.Header.Set(base.HeaderSession, st.sessionID)
	}

	raw := rtsp.EncodeRequest(req)
	var out []byte
	if st.encrypted {
		var err error
		out, err = encryptFrames(st.sess, raw)
		if err != nil {
			return nil, err
		}
	} else {
		out = raw
	}

	if st.sender.cfg.writeTimeout > 0 {
		st.raw.SetWriteDeadline(time.Now().Add(st.sender.cfg.writeTimeout))
	}
	if _, err := st.raw.Write(out); err != nil {
		return nil, aperrors.Wrap(aperrors.KindNetwork, "write request", err)
	}

	return st.readResponse()
}

func (st *Stream) readResponse() (*base.Response, error) {
	buf := make([]byte, 4096)
	for {
		resp, err := st.decoder.DecodeResponse()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, rtsp.ErrIncomplete) {
			return nil, aperrors.Wrap(aperrors.KindRTSPError, "decode response", err)
		}

		if st.sender.cfg.readTimeout > 0 {
			st.raw.SetReadDeadline(time.Now().Add(st.sender.cfg.readTimeout))
		}
		n, rerr := st.raw.Read(buf)
		if rerr != nil {
			return nil, aperrors.Wrap(aperrors.KindNetwork, "read response", rerr)
		}

		if st.encrypted {
			st.frames.feed(buf[:n])
			if derr := st.frames.drain(st.sess, st.decoder); derr != nil {
				return nil, derr
			}
		} else if ferr := st.decoder.Feed(buf[:n]); ferr != nil {
			return nil, aperrors.Wrap(aperrors.KindRTSPError, "decode buffer overflow", ferr)
		}
	}
}
