package task

// Blocker adapts a TCB to vfs.Blocker so flock's blocking path (and any
// other vfs-level wait) can park and wake a task through the same
// ParkCurrentFn/WakeFn seam task/ uses for its own waits, without vfs/
// importing task/ or sched/.
type Blocker struct {
	T *TCB
}

// Park marks b.T Sleeping and does not return until some other hart wakes
// it back up via WakeFn. b.T must be the task currently executing on this
// hart.
func (b Blocker) Park() {
	b.T.lock.Acquire()
	b.T.Status = StatusSleeping
	b.T.lock.Release()
	ParkCurrentFn()
}

// Wake moves b.T back to Ready, for the holder that just released the
// lock b.T was waiting on.
func (b Blocker) Wake() {
	WakeFn(b.T)
}
