package sdp

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// EncodeAnnounce renders info as an AirPlay 1 ANNOUNCE body, the controller-
// side counterpart of ParseAnnounce. sessionID seeds the o= line; clientIP is
// the controller's own address, used for both o= and c=.
//
// Legacy RAOP's RSA-wrapped AES key exchange is not produced here: every
// accessory this module's Sender targets is offered an unencrypted stream,
// which every RAOP receiver this module has been grounded against accepts
// when rsaaeskey/aesiv are simply absent.
func EncodeAnnounce(info AnnounceInfo, sessionID uint64, clientIP string) ([]byte, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: clientIP,
		},
		SessionName: sdp.SessionName(info.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: clientIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"96"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: rtpmapFor(info)},
					{Key: "fmtp", Value: fmtpFor(info)},
				},
			},
		},
	}

	return sd.Marshal()
}

func rtpmapFor(info AnnounceInfo) string {
	switch info.Codec {
	case CodecALAC:
		return "96 AppleLossless"
	case CodecPCM:
		return fmt.Sprintf("96 L16/%d/%d", info.SampleRate, info.Channels)
	case CodecAACELD:
		return fmt.Sprintf("96 mpeg4-generic/%d", info.SampleRate)
	default:
		return fmt.Sprintf("96 mpeg4-generic/%d", info.SampleRate)
	}
}

// fmtpFor renders the standard 11-field AppleLossless fmtp line for ALAC;
// other codecs carry no fmtp parameters this module negotiates.
func fmtpFor(info AnnounceInfo) string {
	if info.Codec != CodecALAC {
		return "96"
	}
	return fmt.Sprintf("96 %d 0 %d 40 10 14 %d 255 0 0 %d",
		info.FramesPerPacket, info.BitsPerSample, info.Channels, info.SampleRate)
}
