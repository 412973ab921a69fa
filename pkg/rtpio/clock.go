package rtpio

import (
	"sort"
	"time"
)

// TimingSample is one four-timestamp exchange (spec.md §4.6): t1/t4 are
// local, t2/t3 are the peer's.
type TimingSample struct {
	T1, T4 time.Time
	T2, T3 time.Time
}

// Offset is how far ahead of local time the peer clock is; Delay reports
// the round-trip delay the sample was measured under.
func (s TimingSample) Offset() time.Duration {
	return ((s.T2.Sub(s.T1)) + (s.T3.Sub(s.T4))) / 2
}

// Delay is the round-trip delay net of the peer's processing time.
func (s TimingSample) Delay() time.Duration {
	return s.T4.Sub(s.T1) - s.T3.Sub(s.T2)
}

// OffsetFilter accepts timing samples and rejects outliers by comparing
// each sample's delay against the median of recent delays, per spec.md
// §4.6. Keeps a bounded history.
type OffsetFilter struct {
	history      []TimingSample
	maxHistory   int
	delayEpsilon time.Duration
}

// NewOffsetFilter creates a filter keeping up to maxHistory samples and
// rejecting a sample whose delay differs from the median by more than
// delayEpsilon.
func NewOffsetFilter(maxHistory int, delayEpsilon time.Duration) *OffsetFilter {
	return &OffsetFilter{maxHistory: maxHistory, delayEpsilon: delayEpsilon}
}

// Accept evaluates sample against the current delay history, returning the
// accepted offset and true if it passes the outlier check; otherwise
// (time.Duration(0), false). An accepted sample is added to history.
func (f *OffsetFilter) Accept(sample TimingSample) (time.Duration, bool) {
	if len(f.history) > 0 {
		median := f.medianDelay()
		diff := sample.Delay() - median
		if diff < 0 {
			diff = -diff
		}
		if diff > f.delayEpsilon {
			return 0, false
		}
	}

	f.history = append(f.history, sample)
	if len(f.history) > f.maxHistory {
		f.history = f.history[len(f.history)-f.maxHistory:]
	}
	return sample.Offset(), true
}

func (f *OffsetFilter) medianDelay() time.Duration {
	delays := make([]time.Duration, len(f.history))
	for i, s := range f.history {
		delays[i] = s.Delay()
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })
	return delays[len(delays)/2]
}

// SyncAction is what the clock model recommends in response to observed
// drift against a target playback time (spec.md §4.6, multi-room follower
// mode).
type SyncAction int

const (
	// SyncInSync means drift is negligible (< 1ms); no action needed.
	SyncInSync SyncAction = iota
	// SyncRateAdjust means a playback-rate adjustment (in ppm) should be
	// applied.
	SyncRateAdjust
	// SyncHardSync means playback should restart at the target time.
	SyncHardSync
)

const maxRateAdjustPPM = 500

// EvaluateDrift classifies drift (current remote time minus target
// playback time) per spec.md §4.6's three bands, returning the recommended
// action and, for SyncRateAdjust, the clamped ppm adjustment to apply.
func EvaluateDrift(drift time.Duration) (SyncAction, int) {
	abs := drift
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < time.Millisecond:
		return SyncInSync, 0
	case abs <= 10*time.Millisecond:
		ppm := int(drift / time.Microsecond)
		if ppm > maxRateAdjustPPM {
			ppm = maxRateAdjustPPM
		}
		if ppm < -maxRateAdjustPPM {
			ppm = -maxRateAdjustPPM
		}
		return SyncRateAdjust, ppm
	default:
		return SyncHardSync, 0
	}
}
