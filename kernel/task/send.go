package task

import "rvkernel/kernel/signal"

// Send implements kill(pid, sig): it marks sig pending on target's
// signal state and then makes sure target actually notices promptly,
// however it is currently scheduled --
//
//   - Stopped, and sig is SIGCONT: restore the status held before the stop
//     and wake it.
//   - Sleeping: wake it so the next dispatch delivers the signal before
//     resuming user code.
//   - Running on some other hart: post a signal-notify IPI so that hart's
//     own kernel-exit check picks it up (it may currently be parked in
//     WFI with nothing else to interrupt it).
//   - Running on this hart, or Ready: nothing further to do; the
//     dispatcher checks pending signals on every kernel-exit boundary
//     regardless.
func Send(target *TCB, n signal.Num) {
	target.lock.Acquire()
	status := target.Status
	target.lock.Release()

	target.Signals.SetPending(n)

	if n == signal.SIGCONT && status == StatusStopped {
		target.lock.Acquire()
		target.Status = target.StoppedFrom
		target.lock.Release()
		WakeFn(target)
		return
	}

	// A stopped task still dies from SIGKILL: bring it back just far
	// enough for the delivery check to terminate it. Any other signal
	// queues until a SIGCONT resumes the task.
	if status == StatusStopped && n == signal.SIGKILL {
		target.lock.Acquire()
		target.Status = target.StoppedFrom
		target.lock.Release()
		WakeFn(target)
		return
	}

	switch status {
	case StatusSleeping:
		WakeFn(target)
	case StatusRunning:
		if hart, ok := hartRunning(target); ok {
			notifyFn(hart)
		}
	}
}

// hartRunning scans the per-hart current-task table for target, returning
// the hart it is running on. O(maxHarts), fine for a signal send's cold
// path.
func hartRunning(target *TCB) (uint64, bool) {
	for hart := uint64(0); hart < maxHarts; hart++ {
		if current[hart] == target {
			return hart, true
		}
	}
	return 0, false
}

// notifyFn posts a signal-notify IPI to hart, installed by whatever
// package brings up ipi/ at boot (task/ otherwise has no reason to import
// ipi/, keeping this package's import graph the same shape as trap/'s and
// vfs/'s *Fn seams).
var notifyFn = func(hart uint64) {}

// SetNotifyFn installs the real ipi.SendOne(hart, ipi.KindSignalNotify)
// wiring. Split out from the var itself so callers don't need to import
// ipi/'s Kind type into this file's signature.
func SetNotifyFn(fn func(hart uint64)) {
	notifyFn = fn
}
