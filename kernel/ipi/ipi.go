// Package ipi implements the three cross-hart signals the core needs --
// signal-notify, TLB shootdown and panic-freeze -- all carried by a single
// SBI send-IPI call and disambiguated on the receiving end by consulting a
// per-hart software-IRQ bitset rather than encoding the reason in
// hardware.
package ipi

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/sbi"
	"sync/atomic"
)

// Kind identifies why a hart observed SSIP set.
type Kind uint32

const (
	// KindSignalNotify asks the target hart to re-check its current
	// task's pending signals on the next kernel-exit boundary.
	KindSignalNotify Kind = 1 << iota
	// KindTLBShootdown asks the target hart to issue a local
	// sfence.vma and drain its per-CPU softirq vector.
	KindTLBShootdown
	// KindPanicFreeze asks the target hart to capture its register
	// snapshot and park in WFI.
	KindPanicFreeze
)

// maxHarts bounds the per-hart softirq bitset; SBI's hart mask argument is
// itself a single 64-bit word, so no board this core targets can exceed it.
const maxHarts = 64

// pending holds, per hart, the bitwise-OR of every Kind posted to it since
// its last drain.
var pending [maxHarts]uint32

// flushLocalTLBFn indirects the asm-backed cpu.FlushTLBAll so host tests
// can drive Handle's dispatch logic without touching real CSRs.
var flushLocalTLBFn = flushLocalTLB

// Send posts kind to every hart set in hartMask (bit i = hart i) and rings
// the doorbell via SBI. The receiver is responsible for clearing SSIP and
// draining pending itself.
func Send(hartMask uint64, kind Kind) {
	for hart := 0; hart < maxHarts; hart++ {
		if hartMask&(1<<uint(hart)) == 0 {
			continue
		}
		atomicOr32(&pending[hart], uint32(kind))
	}
	sbi.SendIPI(hartMask, 0)
}

// SendOne posts kind to a single hart.
func SendOne(hartID uint64, kind Kind) {
	Send(1<<hartID, kind)
}

// Handle is wired as trap.IPIHandlerFn: it runs once this hart has observed
// SSIP (already cleared by the trampoline before Handle was reached),
// drains this hart's pending bitset, and dispatches each kind it finds
// set, panic-freeze first since it never returns.
func Handle(hartID uint64) {
	kinds := atomic.SwapUint32(&pending[hartID], 0)

	if Kind(kinds)&KindPanicFreeze != 0 {
		recordSnapshot(hartID, cpu.ReadScause(), cpu.ReadStval())
		freezeThisHart()
		return
	}
	if Kind(kinds)&KindTLBShootdown != 0 {
		flushLocalTLBFn()
	}
	if Kind(kinds)&KindSignalNotify != 0 {
		// Nothing to do here directly: the target re-checks pending
		// signals itself on its own next kernel-exit boundary.
		// The IPI's only job was to interrupt it out of a possible
		// WFI idle sleep so that boundary is reached promptly.
	}
}

func flushLocalTLB() {
	cpu.FlushTLBAll()
}

func atomicOr32(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|bits) {
			return
		}
	}
}
