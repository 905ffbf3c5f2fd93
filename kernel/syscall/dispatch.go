package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/ipi"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
)

// lockTable is the single advisory-lock table every mounted filesystem's
// inodes share (vfs.LockTable's own doc comment: "this core mounts few
// enough filesystems that a single flat table... never collides in
// practice"). This package owns the instance task/'s ReleaseLocksFn hook
// needs, since task/ has no reference of its own.
var lockTable = vfs.NewLockTable()

// Init wires this package into trap's syscall seam and task's
// lock-release seam. Called once, on the boot hart, after sched.Init and
// before any task runs.
func Init() {
	trap.SyscallFn = Dispatch
	task.ReleaseLocksFn = lockTable.ReleaseAll
	vfs.PipeYieldFn = task.Yield
}

var errNoTask = &kernel.Error{Module: "syscall", Message: "no current task", Errno: ESRCH}

func current() *task.TCB {
	return task.CurrentOnHart(cpu.HartID())
}

// setReturn writes r into ctx's a0: the value on success, the negated
// errno on failure.
func setReturn(ctx *trap.Context, r result) {
	if r.err != nil {
		ctx.SetReturn(uint64(errnoOf(r.err)))
		return
	}
	ctx.SetReturn(r.val)
}

// rewindEcall backs ctx.Sepc up over the `ecall` instruction trap.Handle
// already advanced past, so that a task parked mid-syscall re-enters this
// same call from scratch the next time it is dispatched (the resolved
// design this core uses instead of a real kernel-stack context switch: a
// blocked syscall is never resumed in the middle, it is simply re-run).
// Call this only when a handler is about to block the calling task for
// real -- once it returns, its work must be fully redone on redispatch.
func rewindEcall(ctx *trap.Context) {
	ctx.Sepc -= 4
}

// withRewind brackets a call that may park the current task for real
// (waitpid, a blocking flock request, nanosleep): sepc is rewound before
// fn runs and restored only if fn actually returns. In production, a fn
// that blocks never returns here at all -- ParkCurrentFn hands the hart
// to whatever this processor dispatches next -- so sepc is simply left
// rewound, and the next dispatch re-enters this same ecall from scratch.
// A host test's mock hooks are free to let fn return normally; the +4
// restore then fires exactly as it would for a call that never blocked.
func withRewind(ctx *trap.Context, fn func() result) result {
	rewindEcall(ctx)
	r := fn()
	ctx.Sepc += 4
	return r
}

// Dispatch is wired as trap.SyscallFn: it reads the call number from a7,
// the current task from this hart, and routes to the owning group's
// handler. An unknown number or a call reached with no current task
// (should not happen outside tests) returns ENOSYS/ESRCH rather than
// panicking, since a malformed a7 from user space is a user error, not a
// kernel invariant violation.
func Dispatch(ctx *trap.Context) {
	defer func() { ipi.FeedWatchdog(timer.Now()) }()

	t := current()
	if t == nil {
		setReturn(ctx, fail(errNoTask))
		return
	}

	num := ctx.SyscallNumber()
	switch {
	case num >= SysExit && num <= SysGetpriority:
		setReturn(ctx, dispatchProcess(ctx, t, num))
	case num >= SysBrk && num <= SysMunmap:
		setReturn(ctx, dispatchMemory(ctx, t, num))
	case num >= SysOpen && num <= SysMkfifo:
		setReturn(ctx, dispatchFS(ctx, t, num))
	case num >= SysSignal && num <= SysAlarm:
		setReturn(ctx, dispatchSignal(ctx, t, num))
	case num >= SysNanosleep && num <= SysGettimeofday:
		setReturn(ctx, dispatchTime(ctx, t, num))
	case num >= SysPipe && num <= SysShmClose:
		setReturn(ctx, dispatchIPC(ctx, t, num))
	case num >= SysThreadCreate && num <= SysThreadExit:
		setReturn(ctx, dispatchMisc(ctx, t, num))
	case num >= SysGuiFirst && num <= SysGuiLast:
		setReturn(ctx, fail(errNoSys))
	default:
		setReturn(ctx, fail(errNoSys))
	}
}
