package sched

import (
	"rvkernel/kernel/task"
	"testing"
)

func resetProcs(t *testing.T, n int) {
	t.Helper()
	var saved [maxHarts]*processor
	copy(saved[:], procs[:])
	savedSleeping := sleeping
	sleeping = nil
	Init(n)
	t.Cleanup(func() {
		copy(procs[:], saved[:])
		sleeping = savedSleeping
	})
}

func TestEnqueuePicksLeastLoadedHart(t *testing.T) {
	resetProcs(t, 2)

	busy := &task.TCB{PID: 1}
	Enqueue(busy)
	if busy.Sched.HomeHart != 0 {
		t.Fatalf("expected first task on hart 0, got %d", busy.Sched.HomeHart)
	}

	idle := &task.TCB{PID: 2}
	Enqueue(idle)
	if idle.Sched.HomeHart != 1 {
		t.Fatalf("expected second task on the still-empty hart 1, got %d", idle.Sched.HomeHart)
	}
}

func TestPickNextOrdersByBandThenVRuntime(t *testing.T) {
	resetProcs(t, 1)

	low := &task.TCB{PID: 1, Sched: task.SchedInfo{Band: 2}}
	high := &task.TCB{PID: 2, Sched: task.SchedInfo{Band: 0}}
	normalSlow := &task.TCB{PID: 3, Sched: task.SchedInfo{Band: 1, VRuntime: 100}}
	normalFast := &task.TCB{PID: 4, Sched: task.SchedInfo{Band: 1, VRuntime: 10}}

	for _, tc := range []*task.TCB{low, high, normalSlow, normalFast} {
		tc.Sched.HomeHart = 0
		EnqueueHome(tc)
	}

	if got := PickNext(0); got != high {
		t.Fatalf("expected the high-band task first, got pid %d", got.PID)
	}
	if got := PickNext(0); got != normalFast {
		t.Fatalf("expected the lower-VRuntime normal task next, got pid %d", got.PID)
	}
	if got := PickNext(0); got != normalSlow {
		t.Fatalf("expected the remaining normal task next, got pid %d", got.PID)
	}
	if got := PickNext(0); got != low {
		t.Fatalf("expected the low-band task last, got pid %d", got.PID)
	}
	if got := PickNext(0); got != nil {
		t.Fatalf("expected nil once every queue is drained, got pid %d", got.PID)
	}
}

func TestEnqueueHomeSetsStatusReady(t *testing.T) {
	resetProcs(t, 1)

	tc := &task.TCB{PID: 1, Status: task.StatusSleeping, Sched: task.SchedInfo{HomeHart: 0}}
	EnqueueHome(tc)
	if tc.Status != task.StatusReady {
		t.Fatalf("expected EnqueueHome to mark the task Ready, got %v", tc.Status)
	}
}

func TestWakeDueSeparatesExpiredFromPending(t *testing.T) {
	resetProcs(t, 1)

	early := &task.TCB{PID: 1, WakeAtUs: 100}
	late := &task.TCB{PID: 2, WakeAtUs: 1000}
	sleeping = []*task.TCB{early, late}

	due := wakeDue(500)
	if len(due) != 1 || due[0] != early {
		t.Fatalf("expected only the expired sleeper, got %+v", due)
	}
	if len(sleeping) != 1 || sleeping[0] != late {
		t.Fatalf("expected the still-pending sleeper left in the queue, got %+v", sleeping)
	}
}
