package rtpio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeControlPacketSync(t *testing.T) {
	body := make([]byte, 22)
	body[0] = ControlTypeSync
	binary.BigEndian.PutUint32(body[2:6], 1000)
	binary.BigEndian.PutUint64(body[6:14], 0x1122334455667788)
	binary.BigEndian.PutUint32(body[14:18], 2000)

	v, err := DecodeControlPacket(body)
	require.NoError(t, err)
	sync, ok := v.(*SyncPacket)
	require.True(t, ok)
	require.Equal(t, uint32(1000), sync.RTPTimestampNext)
	require.Equal(t, uint64(0x1122334455667788), sync.NTPTimestamp)
	require.Equal(t, uint32(2000), sync.RTPTimestampAtNTP)
}

func TestDecodeControlPacketRetransmit(t *testing.T) {
	body := make([]byte, 6)
	body[0] = ControlTypeRetransmit
	binary.BigEndian.PutUint16(body[2:4], 500)
	binary.BigEndian.PutUint16(body[4:6], 3)

	v, err := DecodeControlPacket(body)
	require.NoError(t, err)
	rt, ok := v.(*RetransmitRequest)
	require.True(t, ok)
	require.Equal(t, uint16(500), rt.FirstSeq)
	require.Equal(t, uint16(3), rt.Count)
}

func TestEncodeDecodeRetransmitRequestRoundTrip(t *testing.T) {
	raw := EncodeRetransmitRequest(RetransmitRequest{FirstSeq: 42, Count: 9})
	v, err := DecodeControlPacket(raw)
	require.NoError(t, err)
	rt := v.(*RetransmitRequest)
	require.Equal(t, uint16(42), rt.FirstSeq)
	require.Equal(t, uint16(9), rt.Count)
}

func TestRetransmitRequesterThrottles(t *testing.T) {
	r := NewRetransmitRequester(1, 1)
	require.True(t, r.Allow())
	require.False(t, r.Allow())
}
