// Package syscall implements the user<->kernel call boundary: one
// dispatch function wired as trap.SyscallFn, argument translation across
// the calling task's address space, and the per-group call tables
// (process, memory, FS, signal, time, IPC, graphics, misc). Subsystems
// return *kernel.Error, most with an Errno field populated at their own
// error sites (vfs/errors.go, task/wait.go, ...); mapping an error to a
// wire value reads that field back out, with EINVAL for an error that
// leaves it zero (see errnoOf).
package syscall

import "rvkernel/kernel"

// POSIX errno numbers this core's user space observes, the standard
// Linux numbering, kept narrow to the codes this tree's subsystems
// actually raise rather than the full Linux set.
const (
	EPERM    = 1
	ENOENT   = 2
	ESRCH    = 3
	EINTR    = 4
	EIO      = 5
	EFAULT   = 14
	EBADF    = 9
	ECHILD   = 10
	EAGAIN   = 11
	ENOMEM   = 12
	EEXIST   = 17
	ENOTDIR  = 20
	EISDIR   = 21
	EINVAL   = 22
	EMFILE   = 24
	ENOSPC   = 28
	ENOTEMPTY = 39
	ENOSYS   = 38
	EWOULDBLOCK = EAGAIN
	ENOTSUP  = 95
)

// errnoOf maps err to the negative-errno wire value a syscall handler
// returns on failure: err.Errno where the raising subsystem populated
// one, or a generic EINVAL fallback for the rare internal error that
// didn't bother
// (e.g. a programmer-error-shaped condition no caller is expected to
// branch on).
func errnoOf(err *kernel.Error) int64 {
	if err.Errno != 0 {
		return -int64(err.Errno)
	}
	return -EINVAL
}

// result packs a successful value or failed *kernel.Error into the single
// signed return value every handler in this package produces, ready for
// setReturn to write into a0.
type result struct {
	val uint64
	err *kernel.Error
}

func ok(v uint64) result        { return result{val: v} }
func fail(e *kernel.Error) result { return result{err: e} }

var errNoSys = &kernel.Error{Module: "syscall", Message: "unsupported system call", Errno: ENOSYS}
