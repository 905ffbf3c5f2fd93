package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/sync"
)

// kernelTable is the single Sv39 root table shared by every hart; it backs
// the kernel's own high-half mappings (identity-mapped DRAM, trampoline,
// and the Go runtime's bootstrap heap carved out by EarlyReserveRegion).
var kernelTable *RootTable

// InitKernelSpace records the page table every hart activates while running
// in supervisor context outside of a task. Called once, on the boot hart,
// after the kernel's own identity mapping has been built.
func InitKernelSpace(table *RootTable) {
	kernelTable = table
}

// KernelToken returns the satp token that activates the shared kernel
// address space. Every task's trap context carries a copy, loaded by the
// trampoline on each user->kernel transition.
func KernelToken() uint64 {
	return cpu.SatpToken(uint64(kernelTable.Root()))
}

// Map installs a single-page mapping into the shared kernel address space.
// Used by the Go runtime bootstrap shim (goruntime) to back its own heap
// before any task-level AddressSpace exists.
func Map(va uintptr, frame pmm.Frame, perm Permission) *kernel.Error {
	return kernelTable.Map(va, frame, perm)
}

var (
	earlyVALock sync.Spinlock
	// earlyVANext is the next unreserved virtual address in the kernel's
	// bootstrap heap window, bumped forward by EarlyReserveRegion and never
	// reclaimed -- this window exists solely to give the Go runtime's own
	// allocator address space to grow into before any higher-level VA
	// bookkeeping (AddressSpace/Region) exists to ask instead.
	earlyVANext = earlyHeapWindowBase
)

// earlyHeapWindowBase is the start of a dedicated high-half VA window
// reserved for the Go runtime bootstrap heap, well below the fixed
// trampoline/trap-context pages so the two windows never collide.
const earlyHeapWindowBase uintptr = 0xffffffff00000000

// EarlyReserveRegion bumps the bootstrap heap watermark forward by size
// (rounded up to a page) and returns the reserved range's start address.
// It does not map anything; callers map pages into the reservation as they
// are actually touched.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	earlyVALock.Acquire()
	defer earlyVALock.Release()

	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)
	start := earlyVANext
	earlyVANext += uintptr(size)
	return start, nil
}
