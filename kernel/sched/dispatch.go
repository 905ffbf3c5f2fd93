package sched

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/ipi"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
)

// sliceUs is the quantum a task keeps the hart for before Tick forces a
// Reschedule.
const sliceUs = 10 * timer.TickIntervalUs

// IdleLoop is hart's permanent dispatch loop: entered once, from boot on
// the primary hart or from secondary bring-up on every other one, and not
// expected to return. Each iteration either finds a Ready task and
// dispatches it -- which hands the hart to trap.ReturnToUser and does not
// come back here -- or, finding none, parks the hart in WFI until the
// next interrupt (a wake, a timer tick, an IPI) gives it something to
// reconsider.
func IdleLoop(hart uint64) {
	for {
		ipi.FeedWatchdog(timer.Now())
		t := PickNext(hart)
		if t == nil {
			cpu.Halt()
			continue
		}
		Dispatch(hart, t)
	}
}

// Dispatch commits hart to running t: records it as current, arms the
// next timer tick, and transfers control to user mode via
// trap.ReturnToUser. Per that function's own contract this does not
// return -- the hart's next appearance in Go code is a fresh call to
// trap.Handle from the vectored trap entry, not a resumption of this
// call.
func Dispatch(hart uint64, t *task.TCB) {
	t.Status = task.StatusRunning
	t.Sched.SliceRemainUs = sliceUs
	task.SetCurrentOnHart(hart, t)
	timer.SetNextDeadline()
	trap.ReturnToUser(t.AS.Token())
}

// Reschedule is wired as trap.RescheduleFn: it runs at the end of every
// trap taken from user mode, after the handler (syscall, page fault,
// timer tick, IPI) has done its work. The task that was running when the
// trap fired is put back on its runqueue unless the handler already
// changed its status (parked it Sleeping, stopped it, or made it a
// Zombie), and the hart picks up whatever PickNext now returns -- often
// the same task, if nothing more important became Ready.
func Reschedule(hart uint64) {
	if cur := task.CurrentOnHart(hart); cur != nil {
		if cur.Status == task.StatusRunning {
			EnqueueHome(cur)
		}
		task.SetCurrentOnHart(hart, nil)
	}
	IdleLoop(hart)
}

// Yield is wired as task.YieldFn: the calling task voluntarily gives up
// the remainder of its slice. Called from deep inside a
// syscall handler's own call chain, so -- like ParkCurrent -- it does not
// return to its caller in practice; the task's next appearance in Go code
// is the fresh trap its next dispatch causes when it re-issues whatever
// ecall it was in the middle of.
func Yield() {
	Reschedule(cpu.HartID())
}

// ParkCurrent is wired as task.ParkCurrentFn: the caller has already
// marked the current task's new status (Sleeping, for a condition some
// other task or interrupt will resolve) and recorded whatever state it
// needs to recheck that condition from scratch. Control passes to
// whatever this hart dispatches next exactly as Yield's does.
func ParkCurrent() {
	Reschedule(cpu.HartID())
}

// Wake moves t from Sleeping or Stopped back to Ready on its home hart.
// Wired as task.WakeFn.
func Wake(t *task.TCB) {
	EnqueueHome(t)
}
