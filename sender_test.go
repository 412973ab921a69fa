package airplay2

import (
	"crypto/ed25519"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/base"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/pairing"
	"github.com/nightcast/airplay2/pkg/rtsp"
	"github.com/nightcast/airplay2/pkg/session"
)

// fakeAccessory drives the server half of the legacy RAOP control plane by
// hand (mirroring conn.go's serveConn), so Stream can be exercised against a
// real loopback connection without standing up a full Receiver and its mDNS
// advertising.
type fakeAccessory struct {
	t        *testing.T
	ln       net.Listener
	identity *pairing.Identity
	peerKey  ed25519.PublicKey

	conn    net.Conn
	decoder *rtsp.Decoder
	frames  frameBuffer
	sess    *session.Session

	setupAwaitingM3  bool
	verifyAwaitingM3 bool
	encrypted        bool

	audioConn *net.UDPConn
	gotAudio  chan []byte
}

func newFakeAccessory(t *testing.T, identity *pairing.Identity, peerKey ed25519.PublicKey) *fakeAccessory {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	audioConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	return &fakeAccessory{
		t:         t,
		ln:        ln,
		identity:  identity,
		peerKey:   peerKey,
		decoder:   rtsp.NewDecoder(0),
		sess:      session.New(nil),
		audioConn: audioConn,
		gotAudio:  make(chan []byte, 1),
	}
}

func (a *fakeAccessory) addr() string   { return a.ln.Addr().String() }
func (a *fakeAccessory) audioPort() int { return a.audioConn.LocalAddr().(*net.UDPAddr).Port }

func (a *fakeAccessory) lookupPeer(_ string) (ed25519.PublicKey, bool) {
	return a.peerKey, true
}

// serve accepts a single connection and answers requests until TEARDOWN, or
// the connection closes.
func (a *fakeAccessory) serve() {
	conn, err := a.ln.Accept()
	if err != nil {
		return
	}
	a.conn = conn
	defer conn.Close()

	var setupSrv *pairing.SetupServer
	var verifySrv *pairing.VerifyServer

	go a.readAudio()

	for {
		req, err := a.readRequest()
		if err != nil {
			return
		}

		resp := base.NewResponse(base.StatusOK)
		if cseq, ok := req.CSeq(); ok {
			resp.Header.Set(base.HeaderCSeq, cseq)
		}

		switch {
		case req.Method == base.Options:
			// no body needed

		case req.Method == base.Post && req.URI == "/pair-setup":
			if setupSrv == nil {
				var serr error
				setupSrv, serr = pairing.NewSetupServer("", a.identity)
				require.NoError(a.t, serr)
			}
			if !a.setupAwaitingM3 {
				body, herr := setupSrv.HandleM1(req.Body)
				require.NoError(a.t, herr)
				resp.Body = body
				a.setupAwaitingM3 = true
			} else {
				body, herr := setupSrv.HandleM3(req.Body)
				require.NoError(a.t, herr)
				resp.Body = body
				a.setupAwaitingM3 = false
			}
			resp.Header.Set(base.HeaderContentType, "application/octet-stream")

		case req.Method == base.Post && req.URI == "/pair-verify":
			if verifySrv == nil {
				verifySrv = pairing.NewVerifyServer(a.identity, a.lookupPeer)
			}
			if !a.verifyAwaitingM3 {
				body, herr := verifySrv.HandleM1(req.Body)
				require.NoError(a.t, herr)
				resp.Body = body
				a.verifyAwaitingM3 = true
			} else {
				keys, _, herr := verifySrv.HandleM3(req.Body)
				require.NoError(a.t, herr)
				a.sess.SetKeys(keys.Encrypt, keys.Decrypt)
				a.encrypted = true
				a.verifyAwaitingM3 = false
			}
			resp.Header.Set(base.HeaderContentType, "application/octet-stream")

		case req.Method == base.Announce:
			// accepted unconditionally; codec/format parsing is exercised by
			// pkg/sdp's own tests.

		case req.Method == base.Setup:
			resp.Header.Set(base.HeaderSession, "TESTSESSION;timeout=60")
			resp.Header.Set(base.HeaderTransport,
				"RTP/AVP/UDP;unicast;server_port="+strconv.Itoa(a.audioPort())+
					";control_port="+strconv.Itoa(a.audioPort()+1))

		case req.Method == base.Record, req.Method == base.Play,
			req.Method == base.Pause, req.Method == base.SetParameter:
			// accepted unconditionally

		case req.Method == base.Teardown:
			a.writeResponse(resp)
			return
		}

		a.writeResponse(resp)
	}
}

func (a *fakeAccessory) readAudio() {
	buf := make([]byte, 2048)
	for {
		n, _, err := a.audioConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		select {
		case a.gotAudio <- append([]byte(nil), buf[:n]...):
		default:
		}
	}
}

func (a *fakeAccessory) readRequest() (*base.Request, error) {
	buf := make([]byte, 4096)
	for {
		req, err := a.decoder.DecodeRequest()
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, rtsp.ErrIncomplete) {
			return nil, err
		}

		n, rerr := a.conn.Read(buf)
		if rerr != nil {
			return nil, rerr
		}

		if a.encrypted {
			a.frames.feed(buf[:n])
			if derr := a.frames.drain(a.sess, a.decoder); derr != nil {
				return nil, derr
			}
		} else if ferr := a.decoder.Feed(buf[:n]); ferr != nil {
			return nil, ferr
		}
	}
}

func (a *fakeAccessory) writeResponse(resp *base.Response) {
	raw := rtsp.EncodeResponse(resp)
	if a.encrypted {
		out, err := encryptFrames(a.sess, raw)
		require.NoError(a.t, err)
		raw = out
	}
	_, err := a.conn.Write(raw)
	require.NoError(a.t, err)
}

func (a *fakeAccessory) close() {
	a.audioConn.Close()
	a.ln.Close()
}

func TestSenderLegacyRoundTrip(t *testing.T) {
	accessoryIdentity, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	senderIdentity, err := cryptoutil.GenerateEd25519()
	require.NoError(t, err)

	accessory := newFakeAccessory(t, &pairing.Identity{
		Identifier: "AA:BB:CC:DD:EE:01",
		KeyPair:    accessoryIdentity,
	}, senderIdentity.Public)
	defer accessory.close()
	go accessory.serve()

	sender, err := NewSender(WithSenderIdentity(senderIdentity))
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(accessory.addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	device := DeviceRecord{
		ID:        "test-accessory",
		Addresses: []net.IP{net.ParseIP(host)},
		Port:      port,
	}

	stream, err := sender.Connect(device, "")
	require.NoError(t, err)
	defer stream.Teardown()

	require.True(t, stream.encrypted)

	err = stream.Setup(StreamConfig{
		Codec:           session.CodecPCM,
		SampleRate:      44100,
		Channels:        2,
		BitsPerSample:   16,
		FramesPerPacket: 352,
	})
	require.NoError(t, err)
	require.NotNil(t, stream.remoteDataPtr)

	require.NoError(t, stream.Record())
	require.NoError(t, stream.Play())

	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, stream.SendAudio(payload))

	select {
	case got := <-accessory.gotAudio:
		require.Greater(t, len(got), 12) // RTP header + payload
	case <-time.After(2 * time.Second):
		t.Fatal("accessory never received the audio packet")
	}

	require.NoError(t, stream.SetVolume(-20))
	require.NoError(t, stream.Pause())
}
