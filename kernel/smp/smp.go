// Package smp brings up every hart the device tree describes beyond the
// boot hart, using SBI's Hart State Management extension, and holds the
// per-hart bookkeeping (online mask, boot barrier) the rest of the core
// needs during that window.
package smp

import (
	"rvkernel/kernel/board"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/sbi"
	"rvkernel/kernel/sched"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/trap"
	"sync/atomic"
)

// maxHarts bounds the online bitmap; matches every other subsystem's
// per-hart array bound.
const maxHarts = 64

var onlineMask uint64

// bootBarrier is released once every hart the boot hart started has
// reached SecondaryEntry and is about to drop into its idle loop, so the
// boot hart knows it is safe to start handing out work.
var bootBarrier *sync.CpuBarrier

// secondaryEntryAddr returns the physical address every secondary hart's
// pc is set to by sbi.HartStart: the tiny assembly stub (not present in
// this tree, the same gap every other CSR/ABI-level primitive here has)
// that sets up tp = hart id and sp = this hart's boot stack before
// jumping into SecondaryEntry.
func secondaryEntryAddr() uintptr

// Bringup starts every hart described by the device tree other than the
// boot hart itself, then blocks until all of them have checked
// in through bootBarrier. bootHart is the ID the boot hart itself was
// assigned.
func Bringup(bootHart uint64) {
	info := board.Get()
	n := len(info.Harts)
	bootBarrier = sync.NewCpuBarrier(uint32(n))

	markOnline(bootHart)
	for _, h := range info.Harts {
		if h.ID == bootHart {
			continue
		}
		sbi.HartStart(h.ID, secondaryEntryAddr(), 0)
	}

	bootBarrier.Wait()
}

// SecondaryEntry is the first Go code a secondary hart runs, reached from
// secondaryEntryAddr's assembly stub with tp already holding this hart's
// ID. It installs the shared trap vector, enables the local timer and
// software interrupts, marks itself online, rendezvous on bootBarrier,
// and falls into the scheduler's idle loop -- which does not return.
func SecondaryEntry() {
	hart := cpu.HartID()
	trap.EnableStvec()
	cpu.EnableInterrupts()
	markOnline(hart)
	bootBarrier.Wait()
	sched.IdleLoop(hart)
}

func markOnline(hart uint64) {
	for {
		old := atomic.LoadUint64(&onlineMask)
		if atomic.CompareAndSwapUint64(&onlineMask, old, old|(1<<hart)) {
			return
		}
	}
}

// Online reports whether hart has checked in.
func Online(hart uint64) bool {
	return atomic.LoadUint64(&onlineMask)&(1<<hart) != 0
}

// OnlineCount returns how many harts have checked in so far.
func OnlineCount() int {
	mask := atomic.LoadUint64(&onlineMask)
	n := 0
	for h := 0; h < maxHarts; h++ {
		if mask&(1<<uint(h)) != 0 {
			n++
		}
	}
	return n
}
