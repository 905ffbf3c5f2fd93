package syscall

import (
	"rvkernel/kernel/signal"
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
	"testing"
)

func TestValidSignalRejectsOutOfRange(t *testing.T) {
	if _, ok := validSignal(0); ok {
		t.Fatal("expected signal 0 to be invalid")
	}
	if _, ok := validSignal(32); ok {
		t.Fatal("expected signal 32 to be invalid")
	}
	if n, ok := validSignal(9); !ok || n != signal.SIGKILL {
		t.Fatalf("expected SIGKILL, got %v/%v", n, ok)
	}
}

func TestSysSignalRejectsUncatchable(t *testing.T) {
	tc := &task.TCB{}
	ctx := &trap.Context{}
	setArg(ctx, 0, uint64(signal.SIGKILL))
	r := sysSignal(ctx, tc)
	if r.err == nil {
		t.Fatal("expected an error installing a handler for SIGKILL")
	}
}

func TestSysSignalInstallsIgnoreAndReturnsOldDisposition(t *testing.T) {
	tc := &task.TCB{}
	ctx := &trap.Context{}
	setArg(ctx, 0, uint64(signal.SIGUSR1))
	setArg(ctx, 1, sigIgn)
	if r := sysSignal(ctx, tc); r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if h := tc.Signals.HandlerOf(signal.SIGUSR1); h.Action != signal.ActionIgnore {
		t.Fatalf("expected the handler to now be Ignore, got %v", h.Action)
	}

	setArg(ctx, 1, sigDfl)
	r := sysSignal(ctx, tc)
	if r.err != nil || r.val != sigIgn {
		t.Fatalf("expected the previous disposition (Ignore) back, got %d/%v", r.val, r.err)
	}
}

func TestSysAlarmArmsAndReportsRemaining(t *testing.T) {
	tc := &task.TCB{}
	ctx := &trap.Context{}
	setArg(ctx, 0, 5)
	r := sysAlarm(ctx, tc)
	if r.err != nil || r.val != 0 {
		t.Fatalf("expected no previous alarm, got %d/%v", r.val, r.err)
	}
	if tc.AlarmAtUs == 0 {
		t.Fatal("expected AlarmAtUs to be armed")
	}

	setArg(ctx, 0, 0)
	r = sysAlarm(ctx, tc)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if tc.AlarmAtUs != 0 {
		t.Fatal("expected alarm(0) to disarm the pending alarm")
	}
}
