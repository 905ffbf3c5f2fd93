package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
	"sync/atomic"
)

var pipeIDCounter uint64

func nextPipeID() uint64 {
	return atomic.AddUint64(&pipeIDCounter, 1)
}

var errBadPipeFds = &kernel.Error{Module: "syscall", Message: "bad fd array pointer", Errno: EFAULT}

// dispatchIPC implements the IPC group. pipe and dup2 are real; this
// kernel has no networking, so uds_listen/uds_accept return ENOSYS, and
// shm_map/shm_close do the same for want of a shared-memory region type.
func dispatchIPC(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysPipe:
		return sysPipe(ctx, t)
	case SysDup2:
		return sysDup2(ctx, t)
	case SysUdsListen, SysUdsAccept, SysShmMap, SysShmClose:
		return fail(errNoSys)
	}
	return fail(errNoSys)
}

// sysPipe creates a pipe and installs its read and write ends as two new
// fds in t's table, writing them out as two little-endian int32s at the
// caller-supplied fds[2] pointer (fds[0] = read end, fds[1] = write end,
// matching pipe(2)'s own convention).
func sysPipe(ctx *trap.Context, t *task.TCB) result {
	fdsPtr := ctx.Arg(0)
	if fdsPtr == 0 {
		return fail(errBadPipeFds)
	}

	p := vfs.NewPipe(nextPipeID())
	readFd := t.Files.Install(vfs.NewFile(p, vfs.OpenReadOnly))
	writeFd := t.Files.Install(vfs.NewFile(p, vfs.OpenWriteOnly))

	buf := make([]byte, 8)
	putU32(buf[0:], uint32(readFd))
	putU32(buf[4:], uint32(writeFd))
	if err := t.AS.CopyOut(uintptr(fdsPtr), buf); err != nil {
		return fail(errBadPipeFds)
	}
	return ok(0)
}

// sysDup2 makes newFd refer to the same open File as oldFd, closing
// whatever newFd previously held, matching dup2(2)'s no-op-if-equal rule.
func sysDup2(ctx *trap.Context, t *task.TCB) result {
	oldFd := int(ctx.Arg(0))
	newFd := int(ctx.Arg(1))
	if oldFd == newFd {
		if t.Files.Get(oldFd) == nil {
			return fail(errBadFd)
		}
		return ok(uint64(newFd))
	}
	f := t.Files.Get(oldFd)
	if f == nil {
		return fail(errBadFd)
	}
	t.Files.InstallAt(newFd, f)
	return ok(uint64(newFd))
}
