package rtpio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func pkt(seq uint16) *AudioPacket {
	return &AudioPacket{SequenceNumber: seq}
}

func TestJitterBufferPopRequiresMinDepth(t *testing.T) {
	jb := NewJitterBuffer(2, 4, 8)
	jb.Insert(pkt(100))
	require.Nil(t, jb.Pop()) // only 1 packet buffered, min_depth=2

	jb.Insert(pkt(101))
	out := jb.Pop()
	require.NotNil(t, out)
	require.Equal(t, uint16(100), out.SequenceNumber)
}

func TestJitterBufferDropsDuplicate(t *testing.T) {
	jb := NewJitterBuffer(1, 2, 8)
	jb.Insert(pkt(100))
	jb.Insert(pkt(100))
	require.Equal(t, 1, jb.Depth())
}

func TestJitterBufferOverrunEvictsOldest(t *testing.T) {
	jb := NewJitterBuffer(1, 2, 2)
	jb.Insert(pkt(100))
	jb.Insert(pkt(101))
	jb.Insert(pkt(102)) // at max_depth=2, evicts oldest (100)
	require.Equal(t, 2, jb.Depth())
	require.Equal(t, uint16(101), jb.Head())
}

func TestJitterBufferUnderrunAdvancesWithoutPacket(t *testing.T) {
	jb := NewJitterBuffer(1, 2, 8)
	head := jb.Head()
	jb.Advance()
	require.Equal(t, head+1, jb.Head())
}
