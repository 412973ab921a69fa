package airplay2

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nightcast/airplay2/internal/logging"
	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/base"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/pairing"
	"github.com/nightcast/airplay2/pkg/plist"
	"github.com/nightcast/airplay2/pkg/rtpio"
	"github.com/nightcast/airplay2/pkg/rtsp"
	"github.com/nightcast/airplay2/pkg/sdp"
	"github.com/nightcast/airplay2/pkg/session"
	"github.com/nightcast/airplay2/pkg/sink"
	"github.com/nightcast/airplay2/pkg/tlv"
)

// serverConn drives one accepted TCP connection end to end: RTSP/HTTP
// framing, pairing, ANNOUNCE/SETUP negotiation, and the RTP pipeline it
// starts once a stream format is agreed (spec.md §4).
type serverConn struct {
	rcv *Receiver
	raw net.Conn

	decoder *rtsp.Decoder
	router  *rtsp.Router
	frames  frameBuffer

	sess      *session.Session
	setupSrv  *pairing.SetupServer
	verifySrv *pairing.VerifyServer

	pairedPeerID string
	encrypted    bool

	rtp      *rtpPipeline
	progress rtsp.Progress

	logger zerolog.Logger
}

func (r *Receiver) serveConn(conn net.Conn) {
	defer conn.Close()

	c := &serverConn{
		rcv:     r,
		raw:     conn,
		decoder: rtsp.NewDecoder(0),
		sess:    session.New(r.allocator),
		logger:  logging.ForSession(r.logger, uuid.NewString()),
	}
	c.router = c.buildRouter()

	buf := make([]byte, 4096)
	for {
		if r.cfg.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(r.cfg.readTimeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			c.teardown()
			return
		}

		if c.encrypted {
			c.frames.feed(buf[:n])
			if err := c.frames.drain(c.sess, c.decoder); err != nil {
				c.logger.Debug().Err(err).Msg("encrypted frame decode failed")
				c.teardown()
				return
			}
		} else if err := c.decoder.Feed(buf[:n]); err != nil {
			c.logger.Debug().Err(err).Msg("decode buffer overflow")
			c.teardown()
			return
		}

		if !c.drainRequests() {
			return
		}
	}
}

// drainRequests processes every complete request currently buffered,
// returning false if the connection should be closed.
func (c *serverConn) drainRequests() bool {
	for {
		req, err := c.decoder.DecodeRequest()
		if err != nil {
			if errors.Is(err, rtsp.ErrIncomplete) {
				return true
			}
			c.logger.Debug().Err(err).Msg("malformed request")
			return false
		}

		logging.DebugFrame(c.logger, "recv", req.Body)
		resp := c.router.Dispatch(req)
		if !c.writeResponse(req, resp) {
			return false
		}
	}
}

func (c *serverConn) writeResponse(req *base.Request, resp *base.Response) bool {
	raw := rtsp.EncodeResponse(resp)

	var out []byte
	if c.encrypted {
		var err error
		out, err = encryptFrames(c.sess, raw)
		if err != nil {
			c.logger.Debug().Err(err).Msg("response encrypt failed")
			return false
		}
	} else {
		out = raw
	}

	if c.rcv.cfg.writeTimeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(c.rcv.cfg.writeTimeout))
	}
	if _, err := c.raw.Write(out); err != nil {
		return false
	}

	cseq, _ := req.CSeq()
	logging.RequestEvent(c.logger, string(req.Method), req.URI, cseq, int(resp.Status))
	return true
}

func (c *serverConn) teardown() {
	if c.rtp != nil {
		c.rtp.Close()
		c.rtp = nil
	}
	c.sess.Teardown()
}

func (c *serverConn) buildRouter() *rtsp.Router {
	rt := rtsp.NewRouter()
	rt.Handle(base.Options, "", c.handleOptions)
	rt.Handle(base.Post, "/pair-setup", c.handlePairSetup)
	rt.Handle(base.Post, "/pair-verify", c.handlePairVerify)
	rt.Handle(base.Post, "/fp-setup", c.handleFPSetup)
	rt.Handle(base.Get, "/info", c.handleInfo)
	rt.Handle(base.Post, "/info", c.handleInfo)
	rt.Handle(base.Announce, "", c.handleAnnounce)
	rt.Handle(base.Setup, "", c.handleSetup)
	rt.Handle(base.Record, "", c.handleRecord)
	rt.Handle(base.Play, "", c.handlePlay)
	rt.Handle(base.Pause, "", c.handlePause)
	rt.Handle(base.Flush, "", c.handleFlush)
	rt.Handle(base.Teardown, "", c.handleTeardown)
	rt.Handle(base.GetParameter, "", c.handleGetParameter)
	rt.Handle(base.SetParameter, "", c.handleSetParameter)
	return rt
}

func (c *serverConn) handleOptions(_ *base.Request) *base.Response {
	resp := base.NewResponse(base.StatusOK)
	resp.Header.Set(base.HeaderPublic,
		"ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, TEARDOWN, OPTIONS, GET_PARAMETER, SET_PARAMETER, POST, GET")
	return resp
}

func (c *serverConn) handlePairSetup(req *base.Request) *base.Response {
	switch c.sess.State() {
	case session.StateIdle:
		if c.setupSrv == nil {
			srv, err := pairing.NewSetupServer(c.rcv.cfg.password, c.rcv.identity)
			if err != nil {
				return errToResponse(err)
			}
			c.setupSrv = srv
		}
		body, err := c.setupSrv.HandleM1(req.Body)
		if err != nil {
			c.rcv.metricsReg.PairingAttempts.WithLabelValues("setup", "failure").Inc()
			return bodyResponse(base.StatusOK, body, "application/octet-stream")
		}
		c.sess.Transition(session.StateAwaitingPairSetupM3)
		return bodyResponse(base.StatusOK, body, "application/octet-stream")

	case session.StateAwaitingPairSetupM3:
		body, err := c.setupSrv.HandleM3(req.Body)
		if err != nil {
			c.rcv.metricsReg.PairingAttempts.WithLabelValues("setup", "failure").Inc()
			c.sess.Transition(session.StateIdle)
			return bodyResponse(base.StatusOK, body, "application/octet-stream")
		}
		c.rcv.metricsReg.PairingAttempts.WithLabelValues("setup", "success").Inc()
		c.sess.Transition(session.StatePairSetupComplete)
		return bodyResponse(base.StatusOK, body, "application/octet-stream")

	default:
		return base.NewResponse(base.StatusMethodNotValidInThisState)
	}
}

func (c *serverConn) handlePairVerify(req *base.Request) *base.Response {
	switch c.sess.State() {
	case session.StateIdle, session.StatePairSetupComplete:
		if c.verifySrv == nil {
			c.verifySrv = pairing.NewVerifyServer(c.rcv.identity, c.rcv.lookupPeer)
		}
		body, err := c.verifySrv.HandleM1(req.Body)
		if err != nil {
			return bodyResponse(base.StatusOK, body, "application/octet-stream")
		}
		c.sess.Transition(session.StateAwaitingPairVerifyM3)
		return bodyResponse(base.StatusOK, body, "application/octet-stream")

	case session.StateAwaitingPairVerifyM3:
		keys, peer, err := c.verifySrv.HandleM3(req.Body)
		if err != nil {
			c.rcv.metricsReg.PairingAttempts.WithLabelValues("verify", "failure").Inc()
			c.sess.Transition(session.StateIdle)
			return bodyResponse(base.StatusOK, verifyErrorBody(), "application/octet-stream")
		}
		c.rcv.metricsReg.PairingAttempts.WithLabelValues("verify", "success").Inc()
		c.sess.SetKeys(keys.Encrypt, keys.Decrypt)
		c.pairedPeerID = peer.Identifier
		c.encrypted = true
		c.sess.Transition(session.StatePaired)
		return base.NewResponse(base.StatusOK)

	default:
		return base.NewResponse(base.StatusMethodNotValidInThisState)
	}
}

// verifyErrorBody builds the TLV error body for a failed Pair-Verify M3,
// mirroring pairing's own unexported errorResponse (state=0, error=0x02)
// since HandleM3's failure path returns no body of its own to forward.
func verifyErrorBody() []byte {
	return tlv.EncodeFields(
		tlv.Field{Type: tlv.TypeState, Value: []byte{0}},
		tlv.Field{Type: tlv.TypeError, Value: []byte{0x02}},
	)
}

func (c *serverConn) handleFPSetup(_ *base.Request) *base.Response {
	return base.NewResponse(base.StatusNotImplemented)
}

func (c *serverConn) handleInfo(_ *base.Request) *base.Response {
	dict := plist.Dict{
		"deviceID":        c.rcv.deviceID,
		"features":        int64(c.rcv.featureBitmask()),
		"model":           c.rcv.cfg.model,
		"name":            c.rcv.cfg.name,
		"pk":              plist.Data(c.rcv.identity.KeyPair.Public),
		"statusFlags":     int64(0),
		"protocolVersion": "1.1",
	}
	body, err := plist.Marshal(dict)
	if err != nil {
		return errToResponse(err)
	}
	return bodyResponse(base.StatusOK, body, "application/x-apple-binary-plist")
}

var setupAllowed = map[session.State]struct{}{
	session.StatePaired:      {},
	session.StateSetupPhase1: {},
	session.StateAnnounced:   {},
}

func (c *serverConn) handleAnnounce(req *base.Request) *base.Response {
	allowed := map[session.State]struct{}{session.StatePaired: {}}
	if err := c.sess.CheckTransition(base.Announce, allowed); err != nil {
		return errToResponse(err)
	}

	info, err := sdp.ParseAnnounce(req.Body)
	if err != nil {
		return errToResponse(err)
	}

	params := session.StreamParameters{
		Codec:           mapCodec(info.Codec),
		SampleRate:      info.SampleRate,
		Channels:        info.Channels,
		BitsPerSample:   info.BitsPerSample,
		FramesPerPacket: info.FramesPerPacket,
		MinLatency:      info.MinLatency,
	}
	if len(info.RSAAESKey) > 0 {
		aesKey, err := cryptoutil.RSADecryptPKCS1v15(c.rcv.rsaKey, info.RSAAESKey)
		if err != nil {
			return errToResponse(aperrors.Wrap(aperrors.KindAuthenticationFailed, "rsaaeskey decrypt", err))
		}
		params.AESKey = aesKey
		params.AESIV = info.AESIV
	}

	c.sess.SetStreamParameters(params)
	c.sess.Transition(session.StateAnnounced)
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handleSetup(req *base.Request) *base.Response {
	if transport, ok := req.Header.Get(base.HeaderTransport); ok {
		return c.handleLegacySetup(transport)
	}
	return c.handleSetupPlist(req)
}

func (c *serverConn) handleLegacySetup(transport string) *base.Response {
	if err := c.sess.CheckTransition(base.Setup, map[session.State]struct{}{session.StateAnnounced: {}}); err != nil {
		return errToResponse(err)
	}

	clientData, clientControl, ok := parseTransportClientPorts(transport)
	if !ok {
		return base.NewResponse(base.StatusBadRequest)
	}

	serverData, serverControl, err := c.rcv.allocator.AllocatePair()
	if err != nil {
		return errToResponse(err)
	}
	c.sess.TrackPort(serverData)
	c.sess.TrackPort(serverControl)

	params, _ := c.sess.StreamParameters()
	cipher := rtpio.CipherParams{Encryption: rtpio.EncryptionNone}
	if len(params.AESKey) > 0 {
		cipher = rtpio.CipherParams{Encryption: rtpio.EncryptionAESCBC, AESKey: params.AESKey, AESIV: params.AESIV}
	}

	sessionID := uuid.NewString()
	c.sess.SetSessionID(sessionID)

	pipeline, err := startRTPPipeline(rtpPipelineConfig{
		dataPort:    serverData,
		controlPort: serverControl,
		senderCtrl:  senderAddr(c.raw, clientControl),
		cipher:      cipher,
		sink:        c.rcv.sinkDev,
		format:      sinkFormat(params),
		metricsReg:  c.rcv.metricsReg,
		logger:      c.logger,
		sessionID:   sessionID,
	})
	if err != nil {
		return errToResponse(err)
	}
	c.rtp = pipeline
	_ = clientData // legacy client_port is where the peer listens for retransmits it sends us; we only need its control port

	resp := base.NewResponse(base.StatusOK)
	resp.Header.Set(base.HeaderSession, sessionID)
	resp.Header.Set(base.HeaderTransport, buildTransportHeader(serverData, serverControl))
	c.sess.Transition(session.StateSetupPhase2)
	return resp
}

func (c *serverConn) handleSetupPlist(req *base.Request) *base.Response {
	switch c.sess.State() {
	case session.StatePaired:
		preq, err := session.ParsePhase1Request(req.Body)
		if err != nil {
			return errToResponse(err)
		}
		body, alloc, err := session.BuildPhase1Response(preq, c.rcv.allocator)
		if err != nil {
			return errToResponse(err)
		}
		if alloc.EventPort != 0 {
			c.sess.TrackPort(alloc.EventPort)
		}
		if alloc.TimingPort != 0 {
			c.sess.TrackPort(alloc.TimingPort)
		}

		sessionID := uuid.NewString()
		c.sess.SetSessionID(sessionID)
		c.sess.Transition(session.StateSetupPhase1)

		resp := bodyResponse(base.StatusOK, body, "application/x-apple-binary-plist")
		resp.Header.Set(base.HeaderSession, sessionID)
		return resp

	case session.StateSetupPhase1:
		preq, err := session.ParsePhase2Request(req.Body)
		if err != nil {
			return errToResponse(err)
		}
		body, alloc, err := session.BuildPhase2Response(preq, c.rcv.allocator)
		if err != nil {
			return errToResponse(err)
		}
		c.sess.TrackPort(alloc.DataPort)
		c.sess.TrackPort(alloc.ControlPort)

		params := session.StreamParameters{
			Codec:           codecFromType(preq.Audio.CodecType),
			SampleRate:      int(preq.Audio.SampleRate),
			Channels:        int(preq.Audio.Channels),
			BitsPerSample:   int(preq.Audio.SampleSize),
			FramesPerPacket: int(preq.Audio.FramesPerPacket),
		}
		cipher := rtpio.CipherParams{Encryption: rtpio.EncryptionNone}
		switch preq.Audio.EncryptionType {
		case session.EncryptionChaCha20Poly1305:
			cipher.Encryption = rtpio.EncryptionChaCha20Poly1305
			cipher.ChaChaKey = preq.Audio.SharedKey
		case session.EncryptionAES128CTR:
			// AirPlay 2's AES-128-CTR stream cipher has no dedicated
			// rtpio primitive; the CBC-partial decrypt this module carries
			// from the legacy path is not bit-compatible with CTR, so a
			// phase-2 stream negotiating this mode will fail to decode
			// audio.
			cipher.Encryption = rtpio.EncryptionAESCBC
			cipher.AESKey = preq.Audio.SharedKey
		}
		c.sess.SetStreamParameters(params)

		var senderCtrl *net.UDPAddr
		if preq.Audio.ControlPort != 0 {
			senderCtrl = senderAddr(c.raw, int(preq.Audio.ControlPort))
		}

		pipeline, err := startRTPPipeline(rtpPipelineConfig{
			dataPort:    alloc.DataPort,
			controlPort: alloc.ControlPort,
			senderCtrl:  senderCtrl,
			cipher:      cipher,
			sink:        c.rcv.sinkDev,
			format:      sinkFormat(params),
			metricsReg:  c.rcv.metricsReg,
			logger:      c.logger,
			sessionID:   c.sess.SessionID(),
		})
		if err != nil {
			return errToResponse(err)
		}
		c.rtp = pipeline
		c.sess.Transition(session.StateSetupPhase2)
		return bodyResponse(base.StatusOK, body, "application/x-apple-binary-plist")

	default:
		return base.NewResponse(base.StatusMethodNotValidInThisState)
	}
}

func (c *serverConn) handleRecord(_ *base.Request) *base.Response {
	allowed := map[session.State]struct{}{session.StateSetupPhase2: {}}
	if err := c.sess.CheckTransition(base.Record, allowed); err != nil {
		return errToResponse(err)
	}
	c.sess.Transition(session.StateStreaming)
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handlePlay(_ *base.Request) *base.Response {
	allowed := map[session.State]struct{}{session.StateStreaming: {}, session.StatePaused: {}}
	if err := c.sess.CheckTransition(base.Play, allowed); err != nil {
		return errToResponse(err)
	}
	if c.rcv.sinkDev != nil {
		c.rcv.sinkDev.Resume()
	}
	c.sess.Transition(session.StateStreaming)
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handlePause(_ *base.Request) *base.Response {
	allowed := map[session.State]struct{}{session.StateStreaming: {}}
	if err := c.sess.CheckTransition(base.Pause, allowed); err != nil {
		return errToResponse(err)
	}
	if c.rcv.sinkDev != nil {
		c.rcv.sinkDev.Pause()
	}
	c.sess.Transition(session.StatePaused)
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handleFlush(_ *base.Request) *base.Response {
	allowed := map[session.State]struct{}{session.StateStreaming: {}, session.StatePaused: {}}
	if err := c.sess.CheckTransition(base.Flush, allowed); err != nil {
		return errToResponse(err)
	}
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handleTeardown(_ *base.Request) *base.Response {
	c.teardown()
	return base.NewResponse(base.StatusOK)
}

func (c *serverConn) handleGetParameter(_ *base.Request) *base.Response {
	if c.rcv.sinkDev == nil {
		return base.NewResponse(base.StatusParameterNotUnderstood)
	}
	linear, err := c.rcv.sinkDev.GetVolume()
	if err != nil {
		return errToResponse(err)
	}
	resp := bodyResponse(base.StatusOK, rtsp.EncodeVolume(rtsp.LinearToDB(linear)), rtsp.ContentTypeTextParameters)
	return resp
}

func (c *serverConn) handleSetParameter(req *base.Request) *base.Response {
	ct, _ := req.Header.Get(base.HeaderContentType)
	if ct != rtsp.ContentTypeTextParameters {
		return base.NewResponse(base.StatusParameterNotUnderstood)
	}

	if vol, err := rtsp.ParseVolume(req.Body); err == nil {
		if c.rcv.sinkDev != nil {
			if err := c.rcv.sinkDev.SetVolume(rtsp.DBToLinear(vol.DB)); err != nil {
				return errToResponse(err)
			}
		}
		return base.NewResponse(base.StatusOK)
	}
	if prog, err := rtsp.ParseProgress(req.Body); err == nil {
		c.progress = prog
		return base.NewResponse(base.StatusOK)
	}
	return base.NewResponse(base.StatusParameterNotUnderstood)
}

// -------------------------------------------------------------------
// helpers
// -------------------------------------------------------------------

func bodyResponse(status base.StatusCode, body []byte, contentType string) *base.Response {
	resp := base.NewResponse(status)
	resp.Body = body
	if len(body) > 0 && contentType != "" {
		resp.Header.Set(base.HeaderContentType, contentType)
	}
	return resp
}

func errToResponse(err error) *base.Response {
	var ae *aperrors.Error
	if errors.As(err, &ae) {
		if ae.Details.RTSPStatus != 0 {
			return base.NewResponse(base.StatusCode(ae.Details.RTSPStatus))
		}
		switch ae.Kind {
		case aperrors.KindCodecError, aperrors.KindInvalidParameter, aperrors.KindUnsupportedFormat:
			return base.NewResponse(base.StatusParameterNotUnderstood)
		case aperrors.KindAuthenticationFailed, aperrors.KindPairingInvalid:
			return base.NewResponse(base.StatusUnauthorized)
		case aperrors.KindNetwork:
			return base.NewResponse(base.StatusInternalServerError)
		}
	}
	return base.NewResponse(base.StatusInternalServerError)
}

func mapCodec(c sdp.Codec) session.Codec {
	switch c {
	case sdp.CodecALAC:
		return session.CodecALAC
	case sdp.CodecAACLC:
		return session.CodecAACLC
	case sdp.CodecAACELD:
		return session.CodecAACELD
	default:
		return session.CodecPCM
	}
}

// codecFromType maps a phase-2 SETUP "ct" field to a Codec, per the values
// real AirPlay 2 accessories negotiate.
func codecFromType(ct int64) session.Codec {
	switch ct {
	case 2:
		return session.CodecALAC
	case 3:
		return session.CodecAACLC
	case 4:
		return session.CodecAACELD
	default:
		return session.CodecPCM
	}
}

func sinkFormat(p session.StreamParameters) sink.Format {
	return sink.Format{
		Codec:         p.Codec.String(),
		SampleRate:    p.SampleRate,
		Channels:      p.Channels,
		BitsPerSample: p.BitsPerSample,
	}
}

func senderAddr(conn net.Conn, port int) *net.UDPAddr {
	host := hostOf(conn.RemoteAddr())
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// parseTransportClientPorts extracts the "client_port" and "control_port"
// attributes of a legacy RAOP Transport header, e.g.
// "RTP/AVP/UDP;unicast;client_port=6000;control_port=6001".
func parseTransportClientPorts(header string) (dataPort, controlPort int, ok bool) {
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "client_port="):
			dataPort, _ = strconv.Atoi(firstRangeValue(strings.TrimPrefix(field, "client_port=")))
		case strings.HasPrefix(field, "control_port="):
			controlPort, _ = strconv.Atoi(firstRangeValue(strings.TrimPrefix(field, "control_port=")))
		}
	}
	return dataPort, controlPort, dataPort != 0
}

func firstRangeValue(s string) string {
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func buildTransportHeader(serverDataPort, serverControlPort int) string {
	return fmt.Sprintf("RTP/AVP/UDP;unicast;mode=record;server_port=%d;control_port=%d",
		serverDataPort, serverControlPort)
}
