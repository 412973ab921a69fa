package rtpio

import (
	"encoding/binary"

	"golang.org/x/time/rate"

	"github.com/nightcast/airplay2/pkg/aperrors"
)

// Control packet type markers (spec.md §4.6, §6). These are Apple's own
// RTP-control extensions, not standard RTCP payload types.
const (
	ControlTypeSync       = 0x54
	ControlTypeRetransmit = 0x55
)

// SyncPacket is the 0x54 control packet: it feeds the clock model with the
// mapping between the peer's RTP timestamp space and its NTP/PTP clock.
type SyncPacket struct {
	Extension         bool
	RTPTimestampNext  uint32
	NTPTimestamp      uint64
	RTPTimestampAtNTP uint32
}

// RetransmitRequest is the 0x55 control packet: a request to resend a run
// of audio packets starting at FirstSeq.
type RetransmitRequest struct {
	FirstSeq uint16
	Count    uint16
}

// DecodeControlPacket parses the 2-byte type marker followed by a
// type-specific body. The sync packet body is exactly 20 bytes after the
// marker, per spec.md §6.
func DecodeControlPacket(raw []byte) (interface{}, error) {
	if len(raw) < 2 {
		return nil, aperrors.New(aperrors.KindRTPError, "control packet too short")
	}
	marker := raw[0]
	typ := marker & 0x7F
	ext := marker&0x80 != 0

	switch typ {
	case ControlTypeSync:
		body := raw[2:]
		if len(body) < 20 {
			return nil, aperrors.New(aperrors.KindRTPError, "sync packet body too short")
		}
		return &SyncPacket{
			Extension:         ext,
			RTPTimestampNext:  binary.BigEndian.Uint32(body[0:4]),
			NTPTimestamp:      binary.BigEndian.Uint64(body[4:12]),
			RTPTimestampAtNTP: binary.BigEndian.Uint32(body[12:16]),
		}, nil

	case ControlTypeRetransmit:
		body := raw[2:]
		if len(body) < 4 {
			return nil, aperrors.New(aperrors.KindRTPError, "retransmit packet body too short")
		}
		return &RetransmitRequest{
			FirstSeq: binary.BigEndian.Uint16(body[0:2]),
			Count:    binary.BigEndian.Uint16(body[2:4]),
		}, nil

	default:
		return nil, aperrors.New(aperrors.KindRTPError, "unknown control packet type")
	}
}

// EncodeRetransmitRequest serializes a RetransmitRequest for the pure-
// receiver profile, which sends these (rather than receives them) to ask a
// sender to resend lost packets.
func EncodeRetransmitRequest(r RetransmitRequest) []byte {
	out := make([]byte, 6)
	out[0] = ControlTypeRetransmit
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], r.FirstSeq)
	binary.BigEndian.PutUint16(out[4:6], r.Count)
	return out
}

// RetransmitRequester throttles outbound retransmit requests so a burst of
// loss doesn't flood the sender: a token bucket lets through an initial
// burst and then a steady rate of requests, per spec.md §5's back-pressure
// discipline extended to the retransmit path.
type RetransmitRequester struct {
	limiter *rate.Limiter
}

// NewRetransmitRequester creates a requester emitting at most ratePerSecond
// retransmit requests per second, with a burst allowance of burst.
func NewRetransmitRequester(ratePerSecond float64, burst int) *RetransmitRequester {
	return &RetransmitRequester{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a retransmit request may be sent now, consuming one
// token if so.
func (r *RetransmitRequester) Allow() bool {
	return r.limiter.Allow()
}
