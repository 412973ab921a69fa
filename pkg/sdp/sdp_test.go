package sdp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleAnnounce = "v=0\r\n" +
	"o=iTunes 3128948302 0 IN IP4 10.0.0.2\r\n" +
	"s=iTunes\r\n" +
	"c=IN IP4 10.0.0.3\r\n" +
	"t=0 0\r\n" +
	"m=audio 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 AppleLossless\r\n" +
	"a=fmtp:96 352 0 16 40 10 14 2 255 0 0 44100\r\n" +
	"a=aesiv:AAAAAAAAAAAAAAAAAAAAAA==\r\n" +
	"a=min-latency:11025\r\n"

func TestParseAnnounceALAC(t *testing.T) {
	info, err := ParseAnnounce([]byte(sampleAnnounce))
	require.NoError(t, err)

	require.Equal(t, CodecALAC, info.Codec)
	require.Equal(t, 44100, info.SampleRate)
	require.Equal(t, 16, info.BitsPerSample)
	require.Equal(t, 2, info.Channels)
	require.Equal(t, 352, info.FramesPerPacket)
	require.NotNil(t, info.MinLatency)
	require.Equal(t, 11025, *info.MinLatency)
	require.Nil(t, info.RSAAESKey)
	require.Len(t, info.AESIV, 16)
}

func TestParseAnnounceAACELD(t *testing.T) {
	body := "v=0\r\no=x 0 0 IN IP4 0.0.0.0\r\ns=x\r\nt=0 0\r\n" +
		"m=audio 0 RTP/AVP 97\r\na=rtpmap:97 mpeg4-generic/44100/2\r\na=fmtp:97 ELD profile-level-id=1\r\n"
	info, err := ParseAnnounce([]byte(body))
	require.NoError(t, err)
	require.Equal(t, CodecAACELD, info.Codec)
	require.Equal(t, 44100, info.SampleRate)
}

func TestEmptyBodyMissingMediaLine(t *testing.T) {
	_, err := ParseAnnounce([]byte(""))
	require.ErrorIs(t, err, ErrMissingMediaLine)
}
