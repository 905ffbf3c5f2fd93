package trap

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/mem"
)

const causeInterruptBit = uint64(1) << 63

// Interrupt causes (scause with the interrupt bit set, bit cleared here).
const (
	causeSupervisorSoftwareInterrupt = 1
	causeSupervisorTimerInterrupt    = 5
	causeSupervisorExternalInterrupt = 9
)

// Exception causes (scause with the interrupt bit clear).
const (
	causeInstructionPageFault = 12
	causeUserEcall            = 8
)

// SigreturnVA is the sentinel return address signal delivery writes
// into ra: a canonical, deliberately unmapped address whose resulting
// instruction-page-fault trap_handler reinterprets as a sigreturn request
// rather than as a fault that kills the task.
const SigreturnVA uintptr = mem.TrapContextVA - uintptr(mem.PageSize)

var (
	// scauseFn/stvalFn indirect the asm-backed CSR reads so host tests can
	// drive Handle with synthetic causes instead of real trap state.
	scauseFn = cpu.ReadScause
	stvalFn  = cpu.ReadStval

	// TimerTickFn runs on every supervisor timer interrupt, on the
	// interrupting hart, in hard-IRQ context; it must not schedule.
	TimerTickFn = func() {}

	// ExternalInterruptFn dispatches a supervisor external interrupt to
	// the device layer. kmain installs a drain of the virtio input
	// devices; no PLIC claim/complete is performed.
	ExternalInterruptFn = func() {}

	// IPIHandlerFn runs once this hart has observed SSIP set. SSIP is
	// cleared by the trampoline before Handle is ever called.
	IPIHandlerFn = func() {}

	// SyscallFn executes one system call: the number is in a7, arguments
	// in a0..a4, and the handler writes its return value into a0 itself.
	SyscallFn = func(ctx *Context) {}

	// DeliverPendingSignalFn checks the current task for a deliverable
	// signal and, if one exists, retargets ctx to run its handler.
	DeliverPendingSignalFn = func(ctx *Context) {}

	// SigreturnFn restores ctx from the signal frame left on the user
	// stack by a previous delivery.
	SigreturnFn = func(ctx *Context) {}

	// TerminateFn kills the currently running task with the given exit
	// code, for exceptions from user mode that have no better handling.
	TerminateFn = func(exitCode int) {}

	// PanicFn enters the panic-freeze path. Any exception taken
	// from kernel mode routes here unconditionally; it never returns.
	PanicFn = func(scause, stval uint64) {
		panic(&kernel.Error{Module: "trap", Message: "exception from kernel mode"})
	}

	// RescheduleFn runs once per user-mode trap, after the cause has been
	// fully handled -- the one safe point for a context switch
	// (syscall return or interrupt return to user). Defaults to a
	// no-op until sched/ wires its own need_resched check; kept as a
	// function variable for the same reason every other cross-subsystem
	// call in this file is, so trap/ never imports sched/.
	RescheduleFn = func() {}
)

// Handle is the Go-side trap_handler the trampoline jumps into once
// it has saved the integer registers, swapped satp to the kernel table,
// and switched to the kernel stack. fromKernel distinguishes a trap taken
// while already running in S-mode (which always panics) from one taken
// from a user task.
func Handle(ctx *Context, fromKernel bool) {
	scause := scauseFn()
	stval := stvalFn()

	if fromKernel {
		PanicFn(scause, stval)
		return
	}

	if scause&causeInterruptBit != 0 {
		handleInterrupt(scause &^ causeInterruptBit)
	} else {
		handleException(ctx, scause, stval)
	}
	RescheduleFn()
}

func handleInterrupt(code uint64) {
	switch code {
	case causeSupervisorTimerInterrupt:
		TimerTickFn()
	case causeSupervisorExternalInterrupt:
		ExternalInterruptFn()
	case causeSupervisorSoftwareInterrupt:
		IPIHandlerFn()
	}
}

func handleException(ctx *Context, code, stval uint64) {
	switch {
	case code == causeUserEcall:
		ctx.Sepc += 4
		SyscallFn(ctx)
		DeliverPendingSignalFn(ctx)
	case code == causeInstructionPageFault && uintptr(stval) == SigreturnVA:
		SigreturnFn(ctx)
	default:
		TerminateFn(128 + int(code))
	}
}
