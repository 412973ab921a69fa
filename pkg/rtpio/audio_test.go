package rtpio

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func marshalRTP(t *testing.T, seq uint16, payload []byte) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    AudioPayloadType,
			SequenceNumber: seq,
			Timestamp:      12345,
			SSRC:           0xAABBCCDD,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestDecodeAudioPacketPlain(t *testing.T) {
	raw := marshalRTP(t, 7, []byte("hello-audio-bytes"))
	pkt, err := DecodeAudioPacket(raw, CipherParams{Encryption: EncryptionNone}, 0)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.Equal(t, uint16(7), pkt.SequenceNumber)
	require.Equal(t, []byte("hello-audio-bytes"), pkt.Payload)
}

func TestDecodeAudioPacketDropsWrongVersion(t *testing.T) {
	raw := marshalRTP(t, 7, []byte("x"))
	// flip the version bits in the wire header directly, independent of
	// whatever the encoder does with an out-of-spec Header.Version value.
	raw[0] = (raw[0] &^ 0xC0) | (1 << 6)
	pkt, err := DecodeAudioPacket(raw, CipherParams{Encryption: EncryptionNone}, 0)
	require.NoError(t, err)
	require.Nil(t, pkt)
}

func TestDecodeAudioPacketAESCBCPartialBlockPassthrough(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	// 20 bytes: one whole 16-byte block plus a 4-byte trailing partial block
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := marshalRTP(t, 1, payload)

	cipher := CipherParams{Encryption: EncryptionAESCBC, AESKey: key, AESIV: iv}
	pkt, err := DecodeAudioPacket(raw, cipher, 0)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.Len(t, pkt.Payload, 20)
	require.Equal(t, payload[16:20], pkt.Payload[16:20])
}
