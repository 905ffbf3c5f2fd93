package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/sched"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
)

var errBadTimespec = &kernel.Error{Module: "syscall", Message: "bad timespec pointer", Errno: EFAULT}

// timespec is the 16-byte {tv_sec, tv_nsec} layout nanosleep and
// gettimeofday's callers pass, matching the target libc's struct timespec
// field widths (two 8-byte fields) since this core targets a 64-bit ABI
// throughout.
const timespecSize = 16

func dispatchTime(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysNanosleep:
		return sysNanosleep(ctx, t)
	case SysGettimeofday:
		return sysGettimeofday(ctx, t)
	}
	return fail(errNoSys)
}

// sysNanosleep reads the requested duration, computes an absolute wake
// deadline off timer.Now(), and parks t on sched's sleep queue via the
// withRewind bracket so a redispatch after waking re-enters this same
// ecall and simply observes the sleep as already elapsed.
func sysNanosleep(ctx *trap.Context, t *task.TCB) result {
	if t.WakeAtUs != 0 {
		// Re-entry after the sleep this call started: the task has been
		// woken, so the call completes.
		t.WakeAtUs = 0
		return ok(0)
	}
	reqPtr := ctx.Arg(0)
	if reqPtr == 0 {
		return fail(errBadTimespec)
	}
	buf := make([]byte, timespecSize)
	if err := t.AS.CopyIn(buf, uintptr(reqPtr)); err != nil {
		return fail(errBadTimespec)
	}
	sec := getU64At(buf, 0)
	nsec := getU64At(buf, 8)
	durationUs := sec*1_000_000 + nsec/1_000
	if durationUs == 0 {
		return ok(0)
	}

	wakeAtUs := timer.Now() + durationUs
	return withRewind(ctx, func() result {
		sched.Sleep(t, wakeAtUs)
		return ok(0)
	})
}

func sysGettimeofday(ctx *trap.Context, t *task.TCB) result {
	tvPtr := ctx.Arg(0)
	if tvPtr == 0 {
		return fail(errBadTimespec)
	}
	nowUs := timer.WallClock()
	buf := make([]byte, timespecSize)
	putU64At(buf, 0, nowUs/1_000_000)
	putU64At(buf, 8, (nowUs%1_000_000)*1_000)
	if err := t.AS.CopyOut(uintptr(tvPtr), buf); err != nil {
		return fail(errBadTimespec)
	}
	return ok(0)
}
