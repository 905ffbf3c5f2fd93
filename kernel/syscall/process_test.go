package syscall

import (
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
	"testing"
)

func setArg(ctx *trap.Context, i int, v uint64) {
	ctx.Regs[trap.RegA0+i] = v
}

func TestGetpidReturnsCurrentPID(t *testing.T) {
	tc := &task.TCB{PID: 42}
	ctx := &trap.Context{}
	r := dispatchProcess(ctx, tc, SysGetpid)
	if r.err != nil || r.val != 42 {
		t.Fatalf("expected (42, nil), got (%d, %v)", r.val, r.err)
	}
}

func TestSetGetpriorityRoundtrip(t *testing.T) {
	tc := &task.TCB{PID: 1}
	ctx := &trap.Context{}
	setArg(ctx, 2, uint64(int64(-5)))
	if r := dispatchProcess(ctx, tc, SysSetpriority); r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	r := dispatchProcess(ctx, tc, SysGetpriority)
	if r.err != nil || int64(r.val) != -5 {
		t.Fatalf("expected nice -5 back, got %d/%v", int64(r.val), r.err)
	}
}

func TestSetpriorityRejectsOutOfRange(t *testing.T) {
	tc := &task.TCB{PID: 1}
	ctx := &trap.Context{}
	setArg(ctx, 2, 100)
	r := dispatchProcess(ctx, tc, SysSetpriority)
	if r.err == nil {
		t.Fatal("expected an error for a nice value outside [-20,19]")
	}
}

func TestKillUnknownPidFails(t *testing.T) {
	tc := &task.TCB{PID: 1}
	ctx := &trap.Context{}
	setArg(ctx, 0, 9999)
	setArg(ctx, 1, 15)
	r := dispatchProcess(ctx, tc, SysKill)
	if r.err == nil {
		t.Fatal("expected ESRCH for a pid with no matching task")
	}
}

func TestSchedSetGetschedulerAreNoops(t *testing.T) {
	tc := &task.TCB{PID: 1}
	ctx := &trap.Context{}
	if r := dispatchProcess(ctx, tc, SysSchedSetscheduler); r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r := dispatchProcess(ctx, tc, SysSchedGetscheduler); r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
}
