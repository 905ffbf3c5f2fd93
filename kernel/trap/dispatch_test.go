package trap

import "testing"

func withCause(t *testing.T, scause, stval uint64) {
	t.Helper()
	origScause, origStval := scauseFn, stvalFn
	t.Cleanup(func() { scauseFn, stvalFn = origScause, origStval })
	scauseFn = func() uint64 { return scause }
	stvalFn = func() uint64 { return stval }
}

func resetHooks(t *testing.T) {
	t.Helper()
	origTimer, origExt, origIPI := TimerTickFn, ExternalInterruptFn, IPIHandlerFn
	origSyscall, origSig, origSigret, origTerm, origPanic, origResched :=
		SyscallFn, DeliverPendingSignalFn, SigreturnFn, TerminateFn, PanicFn, RescheduleFn
	t.Cleanup(func() {
		TimerTickFn, ExternalInterruptFn, IPIHandlerFn = origTimer, origExt, origIPI
		SyscallFn, DeliverPendingSignalFn, SigreturnFn, TerminateFn, PanicFn, RescheduleFn =
			origSyscall, origSig, origSigret, origTerm, origPanic, origResched
	})
}

func TestHandleTimerInterrupt(t *testing.T) {
	resetHooks(t)
	withCause(t, causeInterruptBit|causeSupervisorTimerInterrupt, 0)

	var called bool
	TimerTickFn = func() { called = true }

	Handle(&Context{}, false)
	if !called {
		t.Fatal("expected TimerTickFn to run on a timer interrupt")
	}
}

func TestHandleExternalInterrupt(t *testing.T) {
	resetHooks(t)
	withCause(t, causeInterruptBit|causeSupervisorExternalInterrupt, 0)

	var called bool
	ExternalInterruptFn = func() { called = true }

	Handle(&Context{}, false)
	if !called {
		t.Fatal("expected ExternalInterruptFn to run on an external interrupt")
	}
}

func TestHandleUserEcall(t *testing.T) {
	resetHooks(t)
	withCause(t, causeUserEcall, 0)

	var syscallRan, signalChecked bool
	SyscallFn = func(ctx *Context) { syscallRan = true }
	DeliverPendingSignalFn = func(ctx *Context) { signalChecked = true }

	ctx := &Context{Sepc: 0x1000}
	Handle(ctx, false)

	if ctx.Sepc != 0x1004 {
		t.Errorf("expected sepc advanced by 4; got %#x", ctx.Sepc)
	}
	if !syscallRan || !signalChecked {
		t.Fatal("expected both SyscallFn and DeliverPendingSignalFn to run")
	}
}

func TestHandleSigreturn(t *testing.T) {
	resetHooks(t)
	withCause(t, causeInstructionPageFault, uint64(SigreturnVA))

	var called bool
	SigreturnFn = func(ctx *Context) { called = true }

	Handle(&Context{}, false)
	if !called {
		t.Fatal("expected SigreturnFn to run when stval matches the sigreturn sentinel")
	}
}

func TestHandleOtherExceptionTerminates(t *testing.T) {
	resetHooks(t)
	withCause(t, causeInstructionPageFault, 0xdead)

	var gotCode int
	var called bool
	TerminateFn = func(code int) { called = true; gotCode = code }

	Handle(&Context{}, false)
	if !called {
		t.Fatal("expected TerminateFn to run for an unrecognized user-mode exception")
	}
	if gotCode != 128+causeInstructionPageFault {
		t.Errorf("expected exit code %d; got %d", 128+causeInstructionPageFault, gotCode)
	}
}

func TestHandleRunsRescheduleOnUserReturn(t *testing.T) {
	resetHooks(t)
	withCause(t, causeUserEcall, 0)

	var resched bool
	RescheduleFn = func() { resched = true }

	Handle(&Context{}, false)
	if !resched {
		t.Fatal("expected RescheduleFn to run at the kernel-exit boundary")
	}
}

func TestHandleFromKernelPanics(t *testing.T) {
	resetHooks(t)
	withCause(t, causeInstructionPageFault, 0)

	var gotScause, gotStval uint64
	PanicFn = func(scause, stval uint64) { gotScause, gotStval = scause, stval }

	Handle(&Context{}, true)
	if gotScause != causeInstructionPageFault || gotStval != 0 {
		t.Fatalf("expected PanicFn to receive the raw scause/stval; got %#x %#x", gotScause, gotStval)
	}
}
