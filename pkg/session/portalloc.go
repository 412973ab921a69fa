package session

import (
	"sync"

	"github.com/nightcast/airplay2/pkg/aperrors"
)

// PortAllocator hands out UDP port numbers from a fixed range, guaranteeing
// no port is live in two allocations at once (spec.md §4.4). Shared by every
// session on a host; guarded by a single mutex with short critical sections
// per spec.md §5.
type PortAllocator struct {
	mu       sync.Mutex
	lo, hi   int
	inUse    map[int]struct{}
	nextScan int
}

// NewPortAllocator creates an allocator over the inclusive range [lo, hi].
func NewPortAllocator(lo, hi int) *PortAllocator {
	return &PortAllocator{lo: lo, hi: hi, inUse: make(map[int]struct{}), nextScan: lo}
}

// Allocate returns one free port in the configured range. Scanning resumes
// from the last handed-out position, giving O(1) amortized allocation and
// O(range-size) worst case when the range is nearly exhausted.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := a.hi - a.lo + 1
	for i := 0; i < span; i++ {
		p := a.lo + (a.nextScan-a.lo+i)%span
		if _, busy := a.inUse[p]; !busy {
			a.inUse[p] = struct{}{}
			a.nextScan = p + 1
			return p, nil
		}
	}
	return 0, aperrors.New(aperrors.KindNetwork, "no ports available")
}

// AllocatePair returns two distinct free ports, rolling back the first
// allocation if the second fails.
func (a *PortAllocator) AllocatePair() (int, int, error) {
	first, err := a.Allocate()
	if err != nil {
		return 0, 0, err
	}
	second, err := a.Allocate()
	if err != nil {
		a.Release(first)
		return 0, 0, err
	}
	return first, second, nil
}

// Release returns port to the free pool. Releasing a port not currently
// allocated is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
