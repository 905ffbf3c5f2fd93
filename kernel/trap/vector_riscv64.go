package trap

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
)

// trampolineTracker pins the single physical frame backing every address
// space's trampoline mapping for the process lifetime; nothing ever
// releases it.
var trampolineTracker *pmm.Tracker

// copyTrampolineCode copies the position-independent trampoline blob --
// the register save/restore and satp-swap sequence and its mirror
// on the return path -- to dst, the trampoline frame's kernel VA.
// Implemented in the hart's trap-entry assembly, which is not part of this
// tree; only assembly can take the trampoline code's address as
// PC-relative data to copy it out of .text.
//
//go:redirect-from trap.copyTrampolineCode
func copyTrampolineCode(dst uintptr)

// EnableStvec installs the trampoline's user-trap entry as this hart's
// vectored trap entry point (stvec, direct mode) plus a second,
// kernel-mode vector for traps taken while already running in S-mode,
// which runs on the current kernel stack rather than swapping to the
// per-task trap-context page. Implemented alongside copyTrampolineCode.
//
//go:redirect-from trap.EnableStvec
func EnableStvec()

// ReturnToUser switches satp to userSatp and jumps through the
// trampoline's restore path, resuming user execution at the register
// state saved in the trap context mapped at mem.TrapContextVA. It never
// returns to its caller; used both for the very first entry into a newly
// created task and for every return from a trap.
//
//go:redirect-from trap.ReturnToUser
func ReturnToUser(userSatp uint64)

// InstallTrampoline allocates the single physical frame backing every
// address space's trampoline mapping, populates it with the trampoline
// code, and records it with vmm so that every AddressSpace created from
// this point on maps it automatically. Called once, on the boot hart,
// before the first task's address space is built.
func InstallTrampoline() *kernel.Error {
	tracker, err := allocator.Alloc()
	if err != nil {
		return err
	}

	copyTrampolineCode(vmm.PhysToVirtOffset + tracker.Frame().Address())
	vmm.SetTrampolineFrame(tracker.Frame())
	trampolineTracker = tracker
	return nil
}
