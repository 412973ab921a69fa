package session

import (
	"fmt"

	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/plist"
)

// Stream type codes carried in the SETUP plist's "streams" array, per
// spec.md §4.4.
const (
	StreamTypeAudio     = 96
	StreamTypeEvent     = 130
	StreamTypePTPTiming = 150
)

// Encryption type codes for a phase-2 audio stream's "et" field.
const (
	EncryptionNone             = 0
	EncryptionAES128CTR        = 1
	EncryptionChaCha20Poly1305 = 4
)

// TimingPeerInfo carries the PTP grandmaster election hint from a phase-1
// SETUP request, when present.
type TimingPeerInfo struct {
	ID        string
	Addresses []string
}

// Phase1Request is the parsed body of the first SETUP POST: event and PTP
// timing channel negotiation.
type Phase1Request struct {
	TimingProtocol string // "PTP" or "NTP"
	TimingPeerInfo *TimingPeerInfo
	GroupUUID      string
	StreamTypes    []int // each StreamTypeEvent or StreamTypePTPTiming
}

// ParsePhase1Request decodes a phase-1 SETUP plist body.
func ParsePhase1Request(body []byte) (*Phase1Request, error) {
	v, err := plist.Unmarshal(body)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindCodecError, "setup phase1 plist", err)
	}
	dict, ok := v.(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase1: body is not a dict")
	}

	req := &Phase1Request{}
	if tp, ok := dict["timingProtocol"].(string); ok {
		req.TimingProtocol = tp
	}
	if gu, ok := dict["groupUUID"].(string); ok {
		req.GroupUUID = gu
	}
	if tpi, ok := dict["timingPeerInfo"].(plist.Dict); ok {
		info := &TimingPeerInfo{}
		if id, ok := tpi["ID"].(string); ok {
			info.ID = id
		}
		if addrs, ok := tpi["Addresses"].(plist.Array); ok {
			for _, a := range addrs {
				if s, ok := a.(string); ok {
					info.Addresses = append(info.Addresses, s)
				}
			}
		}
		req.TimingPeerInfo = info
	}

	streams, ok := dict["streams"].(plist.Array)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase1: missing streams array")
	}
	for _, s := range streams {
		sd, ok := s.(plist.Dict)
		if !ok {
			continue
		}
		t, ok := sd["type"].(int64)
		if !ok {
			continue
		}
		req.StreamTypes = append(req.StreamTypes, int(t))
	}

	return req, nil
}

// Phase1Allocation is the set of ports allocated to satisfy a phase-1
// request, tracked by the caller so they can be released on teardown.
type Phase1Allocation struct {
	EventPort  int
	TimingPort int
}

// BuildPhase1Response allocates the event and timing ports req needs and
// encodes the phase-1 SETUP response body.
func BuildPhase1Response(req *Phase1Request, allocator *PortAllocator) ([]byte, *Phase1Allocation, error) {
	alloc := &Phase1Allocation{}
	streamID := int64(1)
	streams := make(plist.Array, 0, len(req.StreamTypes))

	for _, t := range req.StreamTypes {
		switch t {
		case StreamTypeEvent:
			port, err := allocator.Allocate()
			if err != nil {
				return nil, nil, err
			}
			alloc.EventPort = port
			streams = append(streams, plist.Dict{
				"type":      int64(StreamTypeEvent),
				"streamID":  streamID,
				"eventPort": int64(port),
			})
		case StreamTypePTPTiming:
			port, err := allocator.Allocate()
			if err != nil {
				return nil, nil, err
			}
			alloc.TimingPort = port
			streams = append(streams, plist.Dict{
				"type":       int64(StreamTypePTPTiming),
				"streamID":   streamID,
				"timingPort": int64(port),
			})
		default:
			return nil, nil, aperrors.New(aperrors.KindUnsupportedFormat,
				fmt.Sprintf("setup phase1: unsupported stream type %d", t))
		}
		streamID++
	}

	body, err := plist.Marshal(plist.Dict{"streams": streams})
	if err != nil {
		return nil, nil, err
	}
	return body, alloc, nil
}

// AudioStreamInfo is the codec negotiation carried in a phase-2 SETUP
// request's audio stream entry.
type AudioStreamInfo struct {
	CodecType       int64
	SampleRate      int64
	Channels        int64
	SampleSize      int64
	FramesPerPacket int64
	EncryptionType  int64
	SharedKey       []byte
	ControlPort     int64 // sender-side, 0 if absent
	DataPort        int64 // sender-side, 0 if absent
}

// Phase2Request is the parsed body of the second SETUP POST: audio channel
// negotiation.
type Phase2Request struct {
	Audio AudioStreamInfo
}

// ParsePhase2Request decodes a phase-2 SETUP plist body.
func ParsePhase2Request(body []byte) (*Phase2Request, error) {
	v, err := plist.Unmarshal(body)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindCodecError, "setup phase2 plist", err)
	}
	dict, ok := v.(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2: body is not a dict")
	}
	streams, ok := dict["streams"].(plist.Array)
	if !ok || len(streams) == 0 {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2: missing streams array")
	}
	sd, ok := streams[0].(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2: malformed stream entry")
	}

	req := &Phase2Request{}
	req.Audio.CodecType = int64Field(sd, "ct")
	req.Audio.SampleRate = int64Field(sd, "sr")
	req.Audio.Channels = int64Field(sd, "ch")
	req.Audio.SampleSize = int64Field(sd, "ss")
	req.Audio.FramesPerPacket = int64Field(sd, "spf")
	req.Audio.EncryptionType = int64Field(sd, "et")
	req.Audio.ControlPort = int64Field(sd, "controlPort")
	req.Audio.DataPort = int64Field(sd, "dataPort")
	if shk, ok := sd["shk"].(plist.Data); ok {
		req.Audio.SharedKey = []byte(shk)
	}

	return req, nil
}

func int64Field(d plist.Dict, key string) int64 {
	if v, ok := d[key].(int64); ok {
		return v
	}
	return 0
}

// Phase2Allocation is the set of ports allocated to satisfy a phase-2
// request.
type Phase2Allocation struct {
	DataPort    int
	ControlPort int
}

// defaultAudioLatencySamples is the typical value spec.md §4.4 cites: about
// two seconds at 44.1 kHz.
const defaultAudioLatencySamples = 88200

// BuildPhase2Response allocates the data and control ports for req and
// encodes the phase-2 SETUP response body, including the negotiated audio
// latency in samples.
func BuildPhase2Response(req *Phase2Request, allocator *PortAllocator) ([]byte, *Phase2Allocation, error) {
	dataPort, controlPort, err := allocator.AllocatePair()
	if err != nil {
		return nil, nil, err
	}
	alloc := &Phase2Allocation{DataPort: dataPort, ControlPort: controlPort}

	body, err := plist.Marshal(plist.Dict{
		"streams": plist.Array{
			plist.Dict{
				"type":         int64(StreamTypeAudio),
				"streamID":     int64(1),
				"dataPort":     int64(dataPort),
				"controlPort":  int64(controlPort),
				"audioLatency": int64(defaultAudioLatencySamples),
			},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return body, alloc, nil
}

// Phase1Response is the controller-side counterpart of Phase1Allocation: the
// ports the accessory allocated, as parsed from its phase-1 SETUP response.
type Phase1Response struct {
	EventPort  int
	TimingPort int
}

// EncodePhase1Request renders req as the body a controller sends for the
// first SETUP POST, symmetric to ParsePhase1Request.
func EncodePhase1Request(req *Phase1Request) ([]byte, error) {
	streamID := int64(1)
	streams := make(plist.Array, 0, len(req.StreamTypes))
	for _, t := range req.StreamTypes {
		streams = append(streams, plist.Dict{"type": int64(t), "streamID": streamID})
		streamID++
	}

	dict := plist.Dict{"streams": streams}
	if req.TimingProtocol != "" {
		dict["timingProtocol"] = req.TimingProtocol
	}
	if req.GroupUUID != "" {
		dict["groupUUID"] = req.GroupUUID
	}
	if req.TimingPeerInfo != nil {
		addrs := make(plist.Array, len(req.TimingPeerInfo.Addresses))
		for i, a := range req.TimingPeerInfo.Addresses {
			addrs[i] = a
		}
		dict["timingPeerInfo"] = plist.Dict{"ID": req.TimingPeerInfo.ID, "Addresses": addrs}
	}

	return plist.Marshal(dict)
}

// ParsePhase1Response decodes an accessory's phase-1 SETUP response body.
func ParsePhase1Response(body []byte) (*Phase1Response, error) {
	v, err := plist.Unmarshal(body)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindCodecError, "setup phase1 response plist", err)
	}
	dict, ok := v.(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase1 response: body is not a dict")
	}
	streams, ok := dict["streams"].(plist.Array)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase1 response: missing streams array")
	}

	resp := &Phase1Response{}
	for _, s := range streams {
		sd, ok := s.(plist.Dict)
		if !ok {
			continue
		}
		if ep := int64Field(sd, "eventPort"); ep != 0 {
			resp.EventPort = int(ep)
		}
		if tp := int64Field(sd, "timingPort"); tp != 0 {
			resp.TimingPort = int(tp)
		}
	}
	return resp, nil
}

// EncodePhase2Request renders audio as the body a controller sends for the
// second SETUP POST, symmetric to ParsePhase2Request.
func EncodePhase2Request(audio AudioStreamInfo) ([]byte, error) {
	sd := plist.Dict{
		"type":     int64(StreamTypeAudio),
		"streamID": int64(1),
		"ct":       audio.CodecType,
		"sr":       audio.SampleRate,
		"ch":       audio.Channels,
		"ss":       audio.SampleSize,
		"spf":      audio.FramesPerPacket,
		"et":       audio.EncryptionType,
	}
	if audio.ControlPort != 0 {
		sd["controlPort"] = audio.ControlPort
	}
	if audio.DataPort != 0 {
		sd["dataPort"] = audio.DataPort
	}
	if len(audio.SharedKey) > 0 {
		sd["shk"] = plist.Data(audio.SharedKey)
	}
	return plist.Marshal(plist.Dict{"streams": plist.Array{sd}})
}

// Phase2Response is the controller-side counterpart of Phase2Allocation.
type Phase2Response struct {
	DataPort     int
	ControlPort  int
	AudioLatency int
}

// ParsePhase2Response decodes an accessory's phase-2 SETUP response body.
func ParsePhase2Response(body []byte) (*Phase2Response, error) {
	v, err := plist.Unmarshal(body)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindCodecError, "setup phase2 response plist", err)
	}
	dict, ok := v.(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2 response: body is not a dict")
	}
	streams, ok := dict["streams"].(plist.Array)
	if !ok || len(streams) == 0 {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2 response: missing streams array")
	}
	sd, ok := streams[0].(plist.Dict)
	if !ok {
		return nil, aperrors.New(aperrors.KindCodecError, "setup phase2 response: malformed stream entry")
	}

	return &Phase2Response{
		DataPort:     int(int64Field(sd, "dataPort")),
		ControlPort:  int(int64Field(sd, "controlPort")),
		AudioLatency: int(int64Field(sd, "audioLatency")),
	}, nil
}
