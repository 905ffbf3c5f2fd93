package task

// Scheduling is entirely sched/'s policy; task/ only needs four verbs from
// it, installed as function variables at boot (sched.Init) so that task/
// never imports sched/ -- the same inversion vfs/'s Blocker interface and
// trap/'s *Fn seams use to keep this tree's dependency graph acyclic.
var (
	// EnqueueFn places a Ready task onto some hart's runqueue, choosing
	// the least-loaded hart. Used for a
	// freshly forked or exec'd task.
	EnqueueFn = func(t *TCB) {}

	// EnqueueHomeFn places a Ready task back onto the specific hart
	// recorded in t.Sched.HomeHart, used when a task already has a
	// scheduling history (woken from sleep, resumed from a stop).
	EnqueueHomeFn = func(t *TCB) {}

	// YieldFn reschedules away from the calling task: it is pushed back
	// onto its runqueue as Ready (unless it has since changed state
	// itself, e.g. to Zombie). In the kernel build it does not return;
	// the task runs again through a fresh trap on its next dispatch.
	YieldFn = func() {}

	// ParkCurrentFn hands the hart away from the current task, whose
	// caller has already set its status to Sleeping and recorded why
	// (WakeAtUs or the like). In the kernel build it does not return; the
	// task runs again through a fresh trap once WakeFn has re-enqueued it.
	ParkCurrentFn = func() {}

	// WakeFn moves t from Sleeping or Stopped back to Ready and enqueues
	// it on its home hart.
	WakeFn = func(t *TCB) {}

	// ReleaseLocksFn drops every flock held by pid. Installed by
	// syscall.Init, which owns the single vfs.LockTable every flock goes
	// through; task/ holds no reference to that table of its own.
	ReleaseLocksFn = func(pid int32) {}
)

// Yield is the task-level entry point the syscall dispatcher's `yield` call
// and cooperative suspension points use; it is just YieldFn with a name
// that reads naturally at call sites outside this package.
func Yield() {
	YieldFn()
}
