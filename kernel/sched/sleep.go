package sched

import (
	"rvkernel/kernel/signal"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
)

var (
	sleepLock sync.Spinlock
	sleeping  []*task.TCB

	alarmLock sync.Spinlock
	armed     []*task.TCB
)

// ArmAlarm records t's next alarm(2) deadline. A task keeps running while
// its alarm is armed; a repeat call only ever overwrites the deadline,
// never parks anything, unlike Sleep.
func ArmAlarm(t *task.TCB, deadlineUs uint64) {
	alarmLock.Acquire()
	defer alarmLock.Release()
	t.AlarmAtUs = deadlineUs
	for _, existing := range armed {
		if existing == t {
			return
		}
	}
	armed = append(armed, t)
}

// fireDueAlarms raises SIGALRM on every armed task whose deadline has
// passed and drops it from the armed list.
func fireDueAlarms(now uint64) {
	alarmLock.Acquire()
	defer alarmLock.Release()

	var remaining []*task.TCB
	for _, t := range armed {
		if t.AlarmAtUs != 0 && t.AlarmAtUs <= now {
			t.AlarmAtUs = 0
			t.Signals.SetPending(signal.SIGALRM)
		} else {
			remaining = append(remaining, t)
		}
	}
	armed = remaining
}

// Sleep implements nanosleep's blocking half: t is marked Sleeping with
// wakeAtUs recorded, queued on the global sleep list, and parked. The
// caller (syscall/'s nanosleep handler) has already validated the
// requested duration and computed wakeAtUs from timer.Now().
func Sleep(t *task.TCB, wakeAtUs uint64) {
	t.WakeAtUs = wakeAtUs
	t.Status = task.StatusSleeping
	sleepLock.Acquire()
	sleeping = append(sleeping, t)
	sleepLock.Release()
	ParkCurrent()
}

// wakeDue removes and returns every sleeper whose deadline has passed.
func wakeDue(now uint64) []*task.TCB {
	sleepLock.Acquire()
	defer sleepLock.Release()

	var due, remaining []*task.TCB
	for _, t := range sleeping {
		if t.WakeAtUs <= now {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	sleeping = remaining
	return due
}

// Tick is wired as timer.TickFn: it fires once per tick on whichever hart
// took the timer interrupt. It wakes every sleeper whose deadline has
// passed, then charges the currently running task's slice and forces a
// Reschedule once it runs out.
func Tick(hart uint64) {
	now := timer.Now()
	for _, t := range wakeDue(now) {
		Wake(t)
	}
	fireDueAlarms(now)

	cur := task.CurrentOnHart(hart)
	if cur == nil {
		return
	}
	cur.Sched.VRuntime += timer.TickIntervalUs
	if cur.Sched.SliceRemainUs <= timer.TickIntervalUs {
		Reschedule(hart)
		return
	}
	cur.Sched.SliceRemainUs -= timer.TickIntervalUs
}
