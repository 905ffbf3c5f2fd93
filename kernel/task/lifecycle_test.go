package task

import (
	"rvkernel/kernel/signal"
	"testing"
)

func resetHooks(t *testing.T) {
	t.Helper()
	savedPark, savedWake, savedNotify, savedRelease := ParkCurrentFn, WakeFn, notifyFn, ReleaseLocksFn
	savedInit := initTask
	t.Cleanup(func() {
		ParkCurrentFn, WakeFn, notifyFn, ReleaseLocksFn = savedPark, savedWake, savedNotify, savedRelease
		initTask = savedInit
	})
}

func newTestTCB(pid int32) *TCB {
	t := &TCB{PID: pid, Status: StatusReady, Files: nil}
	register(t)
	return t
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	resetHooks(t)

	init := newTestTCB(1)
	SetInitTask(init)
	defer unregister(init.PID)

	parent := newTestTCB(2)
	child := newTestTCB(3)
	child.Parent = parent
	parent.Children = []*TCB{child}
	defer unregister(parent.PID)
	defer unregister(child.PID)

	var woke *TCB
	WakeFn = func(tt *TCB) { woke = tt }

	Exit(parent, 0)

	if parent.Status != StatusZombie || parent.ExitCode != 0 {
		t.Fatalf("expected parent to become a zombie with code 0, got %v/%d", parent.Status, parent.ExitCode)
	}
	if child.Parent != init {
		t.Fatalf("expected child to be reparented to init, got %+v", child.Parent)
	}
	if len(init.Children) != 1 || init.Children[0] != child {
		t.Fatalf("expected init to inherit the orphan, got %+v", init.Children)
	}
	if len(parent.Children) != 0 {
		t.Fatalf("expected parent's own child list to be cleared")
	}
	_ = woke // parent.Parent is nil here, so no wake is expected
}

func TestExitWakesWaitingParent(t *testing.T) {
	resetHooks(t)

	parent := newTestTCB(10)
	child := newTestTCB(11)
	child.Parent = parent
	defer unregister(parent.PID)
	defer unregister(child.PID)

	var woke *TCB
	WakeFn = func(tt *TCB) { woke = tt }

	Exit(child, 7)

	if woke != parent {
		t.Fatalf("expected Exit to wake the parent, got %+v", woke)
	}
}

func TestWaitReturnsErrorWithNoMatchingChild(t *testing.T) {
	resetHooks(t)

	parent := newTestTCB(20)
	defer unregister(parent.PID)

	if _, _, err := Wait(parent, -1); err == nil {
		t.Fatal("expected an error waiting with no children at all")
	}

	other := newTestTCB(21)
	parent.Children = []*TCB{other}
	defer unregister(other.PID)

	if _, _, err := Wait(parent, 999); err == nil {
		t.Fatal("expected an error waiting for a pid that isn't a child")
	}
}

func TestWaitReapsAlreadyZombieChild(t *testing.T) {
	resetHooks(t)

	parent := newTestTCB(30)
	child := newTestTCB(31)
	child.Status = StatusZombie
	child.ExitCode = 42
	parent.Children = []*TCB{child}
	defer unregister(parent.PID)

	pid, code, err := Wait(parent, child.PID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if pid != child.PID || code != 42 {
		t.Fatalf("Wait() = %d, %d; want %d, 42", pid, code, child.PID)
	}
	if len(parent.Children) != 0 {
		t.Fatalf("expected child removed from parent.Children")
	}
	if Lookup(child.PID) != nil {
		t.Fatalf("expected child removed from the process table")
	}
}

func TestWaitParksUntilChildBecomesZombie(t *testing.T) {
	resetHooks(t)

	parent := newTestTCB(40)
	child := newTestTCB(41)
	parent.Children = []*TCB{child}
	defer unregister(parent.PID)

	parked := make(chan struct{})
	resume := make(chan struct{})
	ParkCurrentFn = func() { parked <- struct{}{}; <-resume }

	done := make(chan int32, 1)
	go func() {
		pid, _, err := Wait(parent, -1)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		done <- pid
	}()

	<-parked // first iteration found the child still Ready

	child.lock.Acquire()
	child.Status = StatusZombie
	child.ExitCode = 5
	child.lock.Release()
	close(resume)

	if pid := <-done; pid != child.PID {
		t.Fatalf("Wait() returned pid %d, want %d", pid, child.PID)
	}
}

func TestSendWakesSleepingTarget(t *testing.T) {
	resetHooks(t)

	target := newTestTCB(50)
	target.Status = StatusSleeping
	defer unregister(target.PID)

	var woke *TCB
	WakeFn = func(tt *TCB) { woke = tt }

	Send(target, signal.SIGTERM)

	if !target.Signals.IsPending(signal.SIGTERM) {
		t.Fatal("expected SIGTERM to be recorded pending")
	}
	if woke != target {
		t.Fatalf("expected Send to wake a Sleeping target, got %+v", woke)
	}
}

func TestSendRestoresStoppedStatusOnSigcont(t *testing.T) {
	resetHooks(t)

	target := newTestTCB(51)
	target.Status = StatusStopped
	target.StoppedFrom = StatusReady
	defer unregister(target.PID)

	var woke *TCB
	WakeFn = func(tt *TCB) { woke = tt }

	Send(target, signal.SIGCONT)

	if target.Status != StatusReady {
		t.Fatalf("expected status restored to StoppedFrom, got %v", target.Status)
	}
	if woke != target {
		t.Fatal("expected SIGCONT to wake the stopped target")
	}
}

func TestSendNotifiesRunningTargetOnAnotherHart(t *testing.T) {
	resetHooks(t)

	target := newTestTCB(52)
	target.Status = StatusRunning
	defer unregister(target.PID)

	SetCurrentOnHart(3, target)
	defer SetCurrentOnHart(3, nil)

	var notified uint64
	var called bool
	notifyFn = func(hart uint64) { notified, called = hart, true }

	Send(target, signal.SIGUSR1)

	if !called || notified != 3 {
		t.Fatalf("expected a notify IPI to hart 3, got called=%v hart=%d", called, notified)
	}
}
