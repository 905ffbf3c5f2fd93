package sync

import "sync/atomic"

// CpuBarrier is an all-to-all rendezvous point, used at boot by
// smp.Bringup to wait for every hart to check in. It is reusable: once the
// generation's count of arrivals reaches n, the barrier resets for the
// next round.
type CpuBarrier struct {
	n        uint32
	arrived  uint32
	gen      uint32
}

// NewCpuBarrier creates a barrier for n participants.
func NewCpuBarrier(n uint32) *CpuBarrier {
	return &CpuBarrier{n: n}
}

// Wait blocks the calling hart until n-1 other harts have also called Wait
// for the current generation.
func (b *CpuBarrier) Wait() {
	myGen := atomic.LoadUint32(&b.gen)

	if atomic.AddUint32(&b.arrived, 1) == b.n {
		atomic.StoreUint32(&b.arrived, 0)
		atomic.AddUint32(&b.gen, 1)
		return
	}

	for atomic.LoadUint32(&b.gen) == myGen {
	}
}
