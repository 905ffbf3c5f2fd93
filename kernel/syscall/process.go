package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/signal"
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
)

var (
	errBadSignal = &kernel.Error{Module: "syscall", Message: "invalid signal number", Errno: EINVAL}
	errBadNice   = &kernel.Error{Module: "syscall", Message: "nice value out of range", Errno: EINVAL}
	errBadPath   = &kernel.Error{Module: "syscall", Message: "path argument not readable", Errno: EFAULT}
)

const maxPathLen = 256

func dispatchProcess(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysExit:
		task.Exit(t, int(int32(ctx.Arg(0))))
		return ok(0)

	case SysFork:
		child, err := task.Fork(t)
		if err != nil {
			return fail(err)
		}
		return ok(uint64(child.PID))

	case SysExecve:
		path, err := t.AS.CopyInString(uintptr(ctx.Arg(0)), maxPathLen)
		if err != nil {
			return fail(errBadPath)
		}
		inode, err := resolve(t, path)
		if err != nil {
			return fail(err)
		}
		image, err := readWhole(inode)
		if err != nil {
			return fail(err)
		}
		if err := task.Exec(t, image); err != nil {
			return fail(err)
		}
		return ok(0)

	case SysWaitpid:
		var pid int32
		var code int
		var err *kernel.Error
		r := withRewind(ctx, func() result {
			pid, code, err = task.Wait(t, int32(int32(ctx.Arg(0))))
			if err != nil {
				return fail(err)
			}
			return ok(0)
		})
		if r.err != nil {
			return r
		}
		if statusPtr := ctx.Arg(1); statusPtr != 0 {
			var buf [4]byte
			putU32(buf[:], uint32(code))
			t.AS.CopyOut(uintptr(statusPtr), buf[:])
		}
		return ok(uint64(uint32(pid)))

	case SysGetpid:
		return ok(uint64(uint32(t.PID)))

	case SysGettid:
		return ok(uint64(uint32(t.PID))) // no distinct thread id in this core: one TCB, one thread

	case SysYield:
		task.Yield()
		return ok(0)

	case SysKill:
		target := task.Lookup(int32(ctx.Arg(0)))
		if target == nil {
			return fail(errNoProcess)
		}
		n := signal.Num(ctx.Arg(1))
		if n < 1 || n > 31 {
			return fail(errBadSignal)
		}
		task.Send(target, n)
		return ok(0)

	case SysSchedSetscheduler, SysSchedGetscheduler:
		// This core has one fixed policy (priority band + vruntime);
		// there is no alternate scheduling class to select.
		return ok(0)

	case SysSetpriority:
		nice := int(int32(ctx.Arg(2)))
		if nice < -20 || nice > 19 {
			return fail(errBadNice)
		}
		t.Sched.Nice = nice
		return ok(0)

	case SysGetpriority:
		return ok(uint64(int64(t.Sched.Nice)))
	}
	return fail(errNoSys)
}

var errNoProcess = &kernel.Error{Module: "syscall", Message: "no such process", Errno: ESRCH}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
