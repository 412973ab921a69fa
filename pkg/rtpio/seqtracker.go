package rtpio

import "github.com/pion/rtcp"

// GapInfo describes one detected loss event (spec.md §4.6).
type GapInfo struct {
	Start uint16
	Count int
}

// SequenceTracker maintains the expected-next sequence number over the
// 16-bit RTP sequence space, classifying each arrival as in-order, a loss,
// or a late/duplicate arrival using wraparound-aware subtraction.
type SequenceTracker struct {
	started      bool
	expectedNext uint16

	received int
	lost     int
	gaps     []GapInfo
}

// NewSequenceTracker returns an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Update records the arrival of seq, returning the GapInfo for a newly
// detected loss, or nil if seq was in-order, a duplicate, or a late arrival.
func (t *SequenceTracker) Update(seq uint16) *GapInfo {
	if !t.started {
		t.started = true
		t.expectedNext = seq + 1
		t.received++
		return nil
	}

	gap := seq - t.expectedNext // wrapping 16-bit subtraction

	switch {
	case gap == 0:
		// in-order
		t.expectedNext = seq + 1
		t.received++
		return nil

	case gap > 0 && gap <= 1000:
		// loss: gap packets were skipped before this one arrived
		info := GapInfo{Start: t.expectedNext, Count: int(gap)}
		t.gaps = append(t.gaps, info)
		t.lost += int(gap)
		t.received++
		t.expectedNext = seq + 1
		return &info

	default:
		// gap > 1000 (gap = seq - expectedNext mod 65536). A gap above
		// 65000 is a late or duplicate arrival; a forward jump of 1001..65000
		// takes this branch too. Either way the packet is counted, but
		// expectedNext is not advanced and no loss is recorded.
		t.received++
		return nil
	}
}

// Stats is a value copy of the cumulative counters. SequenceTracker has no
// internal locking, so Snapshot must not run concurrently with Update.
type Stats struct {
	Received int
	Lost     int
	Gaps     int
}

// Snapshot returns the tracker's cumulative counters.
func (t *SequenceTracker) Snapshot() Stats {
	return Stats{Received: t.received, Lost: t.lost, Gaps: len(t.gaps)}
}

// LossRatio returns lost / (received + lost), or 0 if nothing has arrived.
func (t *SequenceTracker) LossRatio() float64 {
	total := t.received + t.lost
	if total == 0 {
		return 0
	}
	return float64(t.lost) / float64(total)
}

// ReceiverReport builds a standard RTCP receiver report summarizing this
// tracker's cumulative loss stats, for the additive observability path
// SPEC_FULL.md §11 describes ("loss stats piggybacked on the sequence
// tracker") — AirPlay's own control channel doesn't carry RTCP, so this is
// consumed by logging/metrics, not sent on the wire.
func (t *SequenceTracker) ReceiverReport(receiverSSRC, senderSSRC uint32) *rtcp.ReceiverReport {
	total := t.received + t.lost
	fraction := uint8(0)
	if total > 0 {
		fraction = uint8((t.lost * 256) / total)
	}
	return &rtcp.ReceiverReport{
		SSRC: receiverSSRC,
		Reports: []rtcp.ReceptionReport{
			{
				SSRC:               senderSSRC,
				FractionLost:       fraction,
				TotalLost:          uint32(t.lost),
				LastSequenceNumber: uint32(t.expectedNext),
			},
		},
	}
}
