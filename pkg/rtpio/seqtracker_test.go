package rtpio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceTrackerGapScenario(t *testing.T) {
	tr := NewSequenceTracker()
	require.Nil(t, tr.Update(100))
	gap := tr.Update(105)
	require.NotNil(t, gap)
	require.Equal(t, GapInfo{Start: 101, Count: 4}, *gap)

	stats := tr.Snapshot()
	require.Equal(t, 2, stats.Received)
	require.Equal(t, 4, stats.Lost)
	require.InDelta(t, 4.0/6.0, tr.LossRatio(), 1e-9)
}

func TestSequenceTrackerWraparoundIsNotLoss(t *testing.T) {
	tr := NewSequenceTracker()
	require.Nil(t, tr.Update(65535))
	require.Nil(t, tr.Update(0))
	require.Equal(t, 0, tr.Snapshot().Lost)
}

func TestSequenceTrackerLateDuplicateIgnored(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Update(1000)
	tr.Update(1001)
	// a sequence far behind expected (gap 65534, above 65000) is a
	// late/duplicate arrival: counted as received but not a loss.
	before := tr.Snapshot()
	gap := tr.Update(1000)
	require.Nil(t, gap)
	after := tr.Snapshot()
	require.Equal(t, before.Lost, after.Lost)
	require.Equal(t, before.Received+1, after.Received)
}

func TestSequenceTrackerReceiverReport(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Update(100)
	tr.Update(105) // 4 lost, 2 received

	rr := tr.ReceiverReport(0xAAAAAAAA, 0xBBBBBBBB)
	require.Equal(t, uint32(0xAAAAAAAA), rr.SSRC)
	require.Len(t, rr.Reports, 1)
	require.Equal(t, uint32(0xBBBBBBBB), rr.Reports[0].SSRC)
	require.Equal(t, uint32(4), rr.Reports[0].TotalLost)
	require.Equal(t, uint8((4*256)/6), rr.Reports[0].FractionLost)

	raw, err := rr.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}
