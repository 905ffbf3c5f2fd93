package task

// initTask is the root of the reparenting tree (orphans are reparented
// to init), recorded once by whatever calls NewInit during boot.
var initTask *TCB

// SetInitTask records t as the reparenting target for orphaned children.
// Called exactly once, right after NewInit succeeds.
func SetInitTask(t *TCB) {
	initTask = t
}

// Exit implements exit(code): the task becomes a Zombie holding
// code, its address space and open files are released immediately (only
// the TCB itself -- PID, exit code, parent link -- survives, to be reaped
// by Wait), its locks are dropped, its children are reparented to init,
// and its parent (if still waiting) is woken.
func Exit(t *TCB, code int) {
	t.lock.Acquire()
	as := t.AS
	files := t.Files
	children := t.Children
	t.Children = nil
	parent := t.Parent
	t.Status = StatusZombie
	t.ExitCode = code
	t.lock.Release()

	for _, c := range children {
		c.lock.Acquire()
		c.Parent = initTask
		c.lock.Release()
		if initTask != nil {
			initTask.lock.Acquire()
			initTask.Children = append(initTask.Children, c)
			initTask.lock.Release()
		}
	}

	if files != nil {
		files.CloseAll()
	}
	ReleaseLocksFn(t.PID)
	if as != nil {
		as.Teardown()
	}
	t.AS = nil

	if parent != nil {
		WakeFn(parent)
	}
}
