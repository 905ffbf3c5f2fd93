package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sched"
	"rvkernel/kernel/signal"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
)

// Special handler values, the usual SIG_DFL/SIG_IGN numbering.
const (
	sigDfl = 0
	sigIgn = 1
)

// sigprocmask's how argument, matching SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK.
const (
	sigBlock = iota
	sigUnblock
	sigSetmask
)

func dispatchSignal(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysSignal:
		return sysSignal(ctx, t)
	case SysSigaction:
		return sysSigaction(ctx, t)
	case SysSigprocmask:
		return sysSigprocmask(ctx, t)
	case SysSigreturn:
		if err := signal.Sigreturn(&t.Signals, t.AS, ctx); err != nil {
			return fail(err)
		}
		return ok(ctx.Regs[trap.RegA0]) // sigreturn's own return value is whatever the restored frame carries
	case SysPause:
		return sysPause(ctx, t)
	case SysAlarm:
		return sysAlarm(ctx, t)
	}
	return fail(errNoSys)
}

func validSignal(n uint64) (signal.Num, bool) {
	if n < 1 || n > 31 {
		return 0, false
	}
	return signal.Num(n), true
}

func uncatchable(n signal.Num) bool {
	return n == signal.SIGKILL || n == signal.SIGSTOP
}

func sysSignal(ctx *trap.Context, t *task.TCB) result {
	n, okNum := validSignal(ctx.Arg(0))
	if !okNum || uncatchable(n) {
		return fail(errBadSignal)
	}
	old := t.Signals.HandlerOf(n)
	oldVal := uint64(sigDfl)
	switch old.Action {
	case signal.ActionIgnore:
		oldVal = sigIgn
	case signal.ActionUserHandler:
		oldVal = old.Address
	}

	handler := ctx.Arg(1)
	var h signal.Handler
	switch handler {
	case sigDfl:
		h = signal.Handler{Action: signal.ActionDefault}
	case sigIgn:
		h = signal.Handler{Action: signal.ActionIgnore}
	default:
		h = signal.Handler{Action: signal.ActionUserHandler, Address: handler}
	}
	t.Signals.SetHandler(n, h)
	return ok(oldVal)
}

// The user-visible sigaction layout: sa_handler, sa_mask, sa_flags,
// zero-padded to 24 bytes.
const sigactionSize = 24

func sysSigaction(ctx *trap.Context, t *task.TCB) result {
	n, okNum := validSignal(ctx.Arg(0))
	if !okNum || uncatchable(n) {
		return fail(errBadSignal)
	}

	if oldPtr := ctx.Arg(2); oldPtr != 0 {
		old := t.Signals.HandlerOf(n)
		buf := make([]byte, sigactionSize)
		putU64At(buf, 0, old.Address)
		putU64At(buf, 8, old.Mask)
		putU32(buf[16:], old.Flags)
		if err := t.AS.CopyOut(uintptr(oldPtr), buf); err != nil {
			return fail(errBadPath)
		}
	}

	actPtr := ctx.Arg(1)
	if actPtr == 0 {
		return ok(0)
	}
	buf := make([]byte, sigactionSize)
	if err := t.AS.CopyIn(buf, uintptr(actPtr)); err != nil {
		return fail(errBadPath)
	}
	handler := getU64At(buf, 0)
	mask := getU64At(buf, 8)
	flags := uint32(buf[16]) | uint32(buf[17])<<8 | uint32(buf[18])<<16 | uint32(buf[19])<<24

	var h signal.Handler
	switch handler {
	case sigDfl:
		h = signal.Handler{Action: signal.ActionDefault, Mask: mask, Flags: flags}
	case sigIgn:
		h = signal.Handler{Action: signal.ActionIgnore, Mask: mask, Flags: flags}
	default:
		h = signal.Handler{Action: signal.ActionUserHandler, Address: handler, Mask: mask, Flags: flags}
	}
	t.Signals.SetHandler(n, h)
	return ok(0)
}

func sysSigprocmask(ctx *trap.Context, t *task.TCB) result {
	how := ctx.Arg(0)
	setPtr := ctx.Arg(1)
	oldPtr := ctx.Arg(2)

	if oldPtr != 0 {
		var buf [8]byte
		putU64At(buf[:], 0, t.Signals.Mask())
		if err := t.AS.CopyOut(uintptr(oldPtr), buf[:]); err != nil {
			return fail(errBadPath)
		}
	}
	if setPtr == 0 {
		return ok(0)
	}
	var buf [8]byte
	if err := t.AS.CopyIn(buf[:], uintptr(setPtr)); err != nil {
		return fail(errBadPath)
	}
	mask := getU64At(buf[:], 0)
	switch how {
	case sigBlock:
		t.Signals.Block(mask)
	case sigUnblock:
		t.Signals.Unblock(mask)
	case sigSetmask:
		t.Signals.SetMask(mask)
	default:
		return fail(&kernel.Error{Module: "syscall", Message: "sigprocmask: bad how", Errno: EINVAL})
	}
	return ok(0)
}

// sysPause blocks the calling task until a signal is delivered: it
// parks unconditionally and relies on trap.Handle's own
// DeliverPendingSignalFn check, run right after this handler returns on
// whichever redispatch wakes it, to actually invoke the handler.
func sysPause(ctx *trap.Context, t *task.TCB) result {
	return withRewind(ctx, func() result {
		t.Status = task.StatusSleeping
		task.ParkCurrentFn()
		return ok(0)
	})
}

// sysAlarm arms t's alarm to raise SIGALRM in seconds, returning the
// number of seconds left on any previously armed alarm that this call
// overwrites (0 if none was armed). The task itself keeps running;
// sched's alarm queue (driven off the same timer tick as its sleep
// queue) raises the signal asynchronously once the deadline passes.
func sysAlarm(ctx *trap.Context, t *task.TCB) result {
	now := timer.Now()
	var remaining uint64
	if t.AlarmAtUs != 0 && t.AlarmAtUs > now {
		remaining = (t.AlarmAtUs - now) / 1_000_000
	}

	seconds := ctx.Arg(0)
	if seconds == 0 {
		t.AlarmAtUs = 0
		return ok(remaining)
	}
	sched.ArmAlarm(t, now+seconds*1_000_000)
	return ok(remaining)
}

func getU64At(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * uint(i))
	}
	return v
}
