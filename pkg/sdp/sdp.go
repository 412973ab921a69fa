// Package sdp extracts the AirPlay 1 (RAOP) ANNOUNCE fields from a session
// description: codec, clocking, ALAC framing parameters, and the
// RSA-wrapped AES key material. Grammar-level parsing (session/media/
// attribute lines) is delegated to pion/sdp; the AirPlay-specific attribute
// semantics are ours.
package sdp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Codec identifies the negotiated audio codec.
type Codec int

// codecs named by spec.md §3.
const (
	CodecUnknown Codec = iota
	CodecPCM
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

// ErrMissingMediaLine is returned when the body has no m= line.
var ErrMissingMediaLine = errors.New(`sdp: missing "m="`)

// AnnounceInfo is the AirPlay-relevant subset of an ANNOUNCE body.
type AnnounceInfo struct {
	SessionName string
	Codec       Codec
	SampleRate  int
	Channels    int
	BitsPerSample int
	FramesPerPacket int
	ALACParams  []int // raw fmtp integers, in wire order
	RSAAESKey   []byte // PKCS1v15-wrapped AES key, nil if rsaaeskey absent
	AESIV       []byte // 16 bytes
	MinLatency  *int
}

// ParseAnnounce parses an AirPlay 1 ANNOUNCE body.
func ParseAnnounce(body []byte) (*AnnounceInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		if !strings.Contains(string(body), "m=") {
			return nil, ErrMissingMediaLine
		}
		return nil, fmt.Errorf("sdp: %w", err)
	}

	if len(sd.MediaDescriptions) == 0 {
		return nil, ErrMissingMediaLine
	}
	media := sd.MediaDescriptions[0]

	info := &AnnounceInfo{SessionName: string(sd.SessionName)}

	for _, a := range media.Attributes {
		switch a.Key {
		case "rtpmap":
			parseRtpmap(a.Value, info)
		case "fmtp":
			parseFmtp(a.Value, info)
		case "rsaaeskey":
			key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.Value))
			if err != nil {
				return nil, fmt.Errorf("sdp: rsaaeskey: %w", err)
			}
			info.RSAAESKey = key
		case "aesiv":
			iv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.Value))
			if err != nil {
				return nil, fmt.Errorf("sdp: aesiv: %w", err)
			}
			info.AESIV = iv
		case "min-latency":
			n, err := strconv.Atoi(strings.TrimSpace(a.Value))
			if err == nil {
				info.MinLatency = &n
			}
		}
	}

	// an AAC-ELD stream is usually marked in its fmtp line ("mode=AAC-eld")
	// rather than in the mpeg4-generic rtpmap
	if info.Codec == CodecAACLC {
		for _, a := range media.Attributes {
			if a.Key == "fmtp" && strings.Contains(strings.ToUpper(a.Value), "ELD") {
				info.Codec = CodecAACELD
			}
		}
	}

	return info, nil
}

// parseRtpmap reads "<payload> <encoding>/<clockrate>[/<params>]" and maps
// the encoding name to a Codec and sample rate.
func parseRtpmap(value string, info *AnnounceInfo) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return
	}
	parts := strings.Split(fields[1], "/")
	name := parts[0]

	switch {
	case name == "AppleLossless":
		info.Codec = CodecALAC
	case name == "L16":
		info.Codec = CodecPCM
	case name == "mpeg4-generic" || name == "MP4A-LATM":
		if strings.Contains(value, "ELD") {
			info.Codec = CodecAACELD
		} else {
			info.Codec = CodecAACLC
		}
	}

	if len(parts) >= 2 {
		if sr, err := strconv.Atoi(parts[1]); err == nil {
			info.SampleRate = sr
		}
	}
}

// parseFmtp reads "<payload> <int> <int> ..." ALAC framing parameters as
// used by the standard AppleLossless fmtp line:
// frameLength compatibleVersion bitDepth pb mb kb numChannels maxRun
// maxFrameBytes avgBitRate sampleRate.
func parseFmtp(value string, info *AnnounceInfo) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return
	}
	nums := make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return
		}
		nums = append(nums, n)
	}
	info.ALACParams = nums

	if len(nums) >= 11 {
		info.FramesPerPacket = nums[0]
		info.BitsPerSample = nums[2]
		info.Channels = nums[6]
		if info.SampleRate == 0 {
			info.SampleRate = nums[10]
		}
	}
}
