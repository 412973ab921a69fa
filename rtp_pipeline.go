package airplay2

import (
	"math/rand"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/metrics"
	"github.com/nightcast/airplay2/pkg/rtpio"
	"github.com/nightcast/airplay2/pkg/sink"
)

// rtpPipeline owns the UDP sockets and jitter/sequence/retransmit state for
// one session's audio stream, wiring pkg/rtpio's sans-I/O primitives to real
// sockets and to the session's configured sink (spec.md §4.6).
type rtpPipeline struct {
	dataConn    *net.UDPConn
	controlConn *net.UDPConn
	senderCtrl  *net.UDPAddr

	jitter     *rtpio.JitterBuffer
	tracker    *rtpio.SequenceTracker
	retransmit *rtpio.RetransmitRequester

	cipher    rtpio.CipherParams
	counterMu sync.Mutex
	counter   uint64

	sink         sink.Sink
	metricsReg   *metrics.Registry
	logger       zerolog.Logger
	sessionID    string
	receiverSSRC uint32

	stopCh chan struct{}
}

// rtpPipelineConfig bundles startRTPPipeline's parameters.
type rtpPipelineConfig struct {
	dataPort, controlPort int
	senderCtrl            *net.UDPAddr
	cipher                rtpio.CipherParams
	sink                  sink.Sink
	format                sink.Format
	metricsReg            *metrics.Registry
	logger                zerolog.Logger
	sessionID             string
}

// startRTPPipeline opens the data and control sockets on the ports the
// session allocated, opens and starts cfg.sink against cfg.format, and
// spawns the receive goroutines. The sink is started in pull mode, so audio
// only flows once the backend itself begins calling back.
func startRTPPipeline(cfg rtpPipelineConfig) (*rtpPipeline, error) {
	dataConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.dataPort})
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindNetwork, "listen audio data socket", err)
	}
	controlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.controlPort})
	if err != nil {
		dataConn.Close()
		return nil, aperrors.Wrap(aperrors.KindNetwork, "listen audio control socket", err)
	}

	if err := cfg.sink.Open("", cfg.format); err != nil {
		dataConn.Close()
		controlConn.Close()
		return nil, aperrors.Wrap(aperrors.KindPlaybackError, "open sink", err)
	}

	p := &rtpPipeline{
		dataConn:    dataConn,
		controlConn: controlConn,
		senderCtrl:  cfg.senderCtrl,
		jitter:      rtpio.NewJitterBuffer(4, 16, 64),
		tracker:     rtpio.NewSequenceTracker(),
		retransmit:  rtpio.NewRetransmitRequester(20, 5),
		cipher:      cfg.cipher,
		sink:         cfg.sink,
		metricsReg:   cfg.metricsReg,
		logger:       cfg.logger,
		sessionID:    cfg.sessionID,
		receiverSSRC: rand.Uint32(),
		stopCh:       make(chan struct{}),
	}

	go p.readAudio()
	go p.readControl()

	if err := cfg.sink.Start(p.pull); err != nil {
		p.Close()
		return nil, aperrors.Wrap(aperrors.KindPlaybackError, "start sink", err)
	}

	return p, nil
}

func (p *rtpPipeline) nextCounter() uint64 {
	p.counterMu.Lock()
	defer p.counterMu.Unlock()
	c := p.counter
	p.counter++
	return c
}

func (p *rtpPipeline) readAudio() {
	buf := make([]byte, 2048)
	for {
		n, _, err := p.dataConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-p.stopCh:
				return
			default:
				return
			}
		}

		pkt, err := rtpio.DecodeAudioPacket(append([]byte(nil), buf[:n]...), p.cipher, p.nextCounter())
		if err != nil || pkt == nil {
			continue
		}

		p.metricsReg.PacketsReceived.Inc()
		if gap := p.tracker.Update(pkt.SequenceNumber); gap != nil {
			p.metricsReg.PacketsLost.WithLabelValues(p.sessionID).Add(float64(gap.Count))
			p.maybeRequestRetransmit(*gap)
		}
		p.jitter.Insert(pkt)
		p.metricsReg.JitterBufferDepth.Set(float64(p.jitter.Depth()))
		p.maybeLogReceiverReport(pkt.SSRC)
	}
}

// receiverReportInterval is how many audio packets pass between debug-level
// RTCP receiver report dumps (spec.md §7: "full protocol dump at debug,
// never in between").
const receiverReportInterval = 500

// maybeLogReceiverReport marshals a standard RTCP receiver report from the
// sequence tracker's cumulative stats every receiverReportInterval packets
// and logs it at debug level; it never goes on the wire since AirPlay's own
// control channel carries sync/retransmit packets only, not RTCP.
func (p *rtpPipeline) maybeLogReceiverReport(senderSSRC uint32) {
	stats := p.tracker.Snapshot()
	total := stats.Received + stats.Lost
	if total == 0 || total%receiverReportInterval != 0 {
		return
	}
	rr := p.tracker.ReceiverReport(p.receiverSSRC, senderSSRC)
	raw, err := rr.Marshal()
	if err != nil {
		return
	}
	p.logger.Debug().
		Str("session_id", p.sessionID).
		Hex("rtcp_receiver_report", raw).
		Int("received", stats.Received).
		Int("lost", stats.Lost).
		Msg("rtp receiver report")
}

func (p *rtpPipeline) maybeRequestRetransmit(gap rtpio.GapInfo) {
	if p.senderCtrl == nil || !p.retransmit.Allow() {
		return
	}
	req := rtpio.EncodeRetransmitRequest(rtpio.RetransmitRequest{
		FirstSeq: gap.Start,
		Count:    uint16(gap.Count),
	})
	if _, err := p.controlConn.WriteToUDP(req, p.senderCtrl); err != nil {
		p.logger.Debug().Err(err).Msg("retransmit request send failed")
	}
}

func (p *rtpPipeline) readControl() {
	buf := make([]byte, 2048)
	for {
		n, _, err := p.controlConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if _, err := rtpio.DecodeControlPacket(buf[:n]); err != nil {
			continue
		}
		// Sync packets feed the clock offset model; multi-room follower
		// timing is out of scope for the single-session receive path this
		// pipeline drives, so the sample is decoded but not consumed.
	}
}

// pull is handed to sink.Sink.Start: it drains one popped packet's payload
// per call, or fills silence when the buffer isn't warm yet.
func (p *rtpPipeline) pull(buf []byte) (int, error) {
	pkt := p.jitter.Pop()
	if pkt == nil {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}
	n := copy(buf, pkt.Payload)
	return n, nil
}

// Close tears down both sockets and stops the sink. Safe to call once.
func (p *rtpPipeline) Close() {
	close(p.stopCh)
	p.dataConn.Close()
	p.controlConn.Close()
	p.sink.Stop()
}
