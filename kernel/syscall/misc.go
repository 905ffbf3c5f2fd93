package syscall

import (
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
)

// dispatchMisc implements the remaining group: thread_create,
// thread_join, thread_exit. This core models exactly one thread per TCB
// (fork is the only way to get a second schedulable context) so none of
// the three has a narrower-than-a-process implementation to give; all
// three report ENOSYS
// rather than silently aliasing fork/wait/exit, which would give callers
// the wrong sharing semantics (a real thread shares its parent's address
// space and fd table; fork does not).
func dispatchMisc(ctx *trap.Context, t *task.TCB, num uint64) result {
	switch num {
	case SysThreadCreate, SysThreadJoin, SysThreadExit:
		return fail(errNoSys)
	}
	return fail(errNoSys)
}
