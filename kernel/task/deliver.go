package task

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/signal"
	"rvkernel/kernel/trap"
)

// DeliverPending is wired as trap.DeliverPendingSignalFn: on every return
// to user mode it resolves the lowest-numbered deliverable signal on the
// current task, if any, and acts on its disposition. Ignored signals are
// consumed in the same pass, so a single check drains everything that
// needs no user-visible action.
func DeliverPending(ctx *trap.Context) {
	t := CurrentOnHart(cpu.HartID())
	if t == nil {
		return
	}
	for {
		n, ok := t.Signals.NextDeliverable()
		if !ok {
			return
		}
		h := t.Signals.HandlerOf(n)
		switch h.Action {
		case signal.ActionIgnore, signal.ActionContinue:
			// Continue already acted at send time.
			continue
		case signal.ActionTerminate:
			Exit(t, 128+int(n))
			return
		case signal.ActionStop:
			t.lock.Acquire()
			t.StoppedFrom = StatusReady
			t.Status = StatusStopped
			t.lock.Release()
			return
		case signal.ActionUserHandler:
			stackLow, stackHigh := userStackBounds(t)
			if err := signal.Deliver(&t.Signals, t.AS, ctx, n, h, stackLow, stackHigh); err != nil {
				// A task whose stack cannot even hold a signal
				// frame is beyond help from its own handler.
				Exit(t, 128+int(n))
			}
			return
		}
	}
}

// userStackBounds returns the [low, high) VA range of t's user stack
// region, the only place a signal frame may be built.
func userStackBounds(t *TCB) (uintptr, uintptr) {
	r := t.AS.FindRegion(t.AS.StackTop - 1)
	if r == nil {
		return 0, 0
	}
	return r.Start, r.End
}

// SigreturnCtx is wired as trap.SigreturnFn, the fault-on-sentinel entry
// into sigreturn; the explicit syscall path lands in the same
// signal.Sigreturn below.
func SigreturnCtx(ctx *trap.Context) {
	t := CurrentOnHart(cpu.HartID())
	if t == nil {
		return
	}
	if err := signal.Sigreturn(&t.Signals, t.AS, ctx); err != nil {
		// A forged or corrupted frame: the saved context is gone, so
		// the task cannot resume.
		Exit(t, 128+int(signal.SIGSEGV))
	}
}
