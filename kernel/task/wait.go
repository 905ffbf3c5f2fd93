package task

import "rvkernel/kernel"

var errNoChild = &kernel.Error{Module: "task", Message: "no matching child", Errno: 10} // ECHILD

// Wait implements wait(pid, *status): pid > 0 waits for that exact
// child; pid <= 0 waits for any child. It blocks (parking the calling task
// and retrying once woken by Exit) until a matching child is Zombie, then
// reaps it -- dropping it from parent.Children and the process table and
// releasing its kernel stack and trap-context frame (Exit has already torn
// down its address space) -- and returns its PID and
// exit code. Returns errNoChild immediately if parent has no child matching
// pid at all.
func Wait(parent *TCB, pid int32) (int32, int, *kernel.Error) {
	for {
		parent.lock.Acquire()

		found := false
		for i, c := range parent.Children {
			if pid > 0 && c.PID != pid {
				continue
			}
			found = true

			c.lock.Acquire()
			if c.Status != StatusZombie {
				c.lock.Release()
				continue
			}
			childPID, code := c.PID, c.ExitCode
			c.lock.Release()

			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			parent.lock.Release()

			reap(c)
			return childPID, code, nil
		}

		if !found {
			parent.lock.Release()
			return 0, 0, errNoChild
		}

		parent.lock.Release()

		parent.lock.Acquire()
		parent.Status = StatusSleeping
		parent.lock.Release()
		ParkCurrentFn()
	}
}

// reap releases everything a Zombie's reaper (Wait) is responsible for
// freeing once its exit code has been collected. Exit already tore down
// the address space and closed the file table; reap only needs to drop
// the kernel stack and trap-context frame and remove the PID from the
// process table.
func reap(t *TCB) {
	if t.kernelStack != nil {
		t.kernelStack.Release()
	}
	if t.trapCtxFrame != nil {
		t.trapCtxFrame.Release()
	}
	unregister(t.PID)
}
