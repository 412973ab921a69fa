package rtpio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOffsetFilterAcceptsConsistentSamples(t *testing.T) {
	f := NewOffsetFilter(8, 5*time.Millisecond)

	base := time.Unix(0, 0)
	sample := TimingSample{
		T1: base,
		T2: base.Add(50 * time.Millisecond),
		T3: base.Add(52 * time.Millisecond),
		T4: base.Add(2 * time.Millisecond),
	}
	offset, ok := f.Accept(sample)
	require.True(t, ok)
	require.Equal(t, sample.Offset(), offset)
}

func TestOffsetFilterRejectsOutlier(t *testing.T) {
	f := NewOffsetFilter(8, time.Millisecond)
	base := time.Unix(0, 0)

	good := TimingSample{T1: base, T2: base.Add(10 * time.Millisecond), T3: base.Add(11 * time.Millisecond), T4: base.Add(1 * time.Millisecond)}
	_, ok := f.Accept(good)
	require.True(t, ok)

	// a sample whose round-trip delay (-189ms) is wildly off the median
	// (0ms) should be rejected
	outlier := TimingSample{T1: base, T2: base.Add(10 * time.Millisecond), T3: base.Add(200 * time.Millisecond), T4: base.Add(1 * time.Millisecond)}
	_, ok = f.Accept(outlier)
	require.False(t, ok)
}

func TestEvaluateDrift(t *testing.T) {
	action, _ := EvaluateDrift(500 * time.Microsecond)
	require.Equal(t, SyncInSync, action)

	action, ppm := EvaluateDrift(5 * time.Millisecond)
	require.Equal(t, SyncRateAdjust, action)
	require.LessOrEqual(t, ppm, maxRateAdjustPPM)
	require.GreaterOrEqual(t, ppm, -maxRateAdjustPPM)

	action, _ = EvaluateDrift(50 * time.Millisecond)
	require.Equal(t, SyncHardSync, action)
}
