package signal

import "testing"

func TestNextDeliverablePicksLowestNumbered(t *testing.T) {
	var s State
	s.SetPending(SIGTERM)
	s.SetPending(SIGINT)
	s.SetPending(SIGHUP)

	n, ok := s.NextDeliverable()
	if !ok || n != SIGHUP {
		t.Fatalf("NextDeliverable() = (%v, %v), want (SIGHUP, true)", n, ok)
	}
	if s.IsPending(SIGHUP) {
		t.Fatalf("NextDeliverable did not clear the signal it returned")
	}
	if !s.IsPending(SIGINT) || !s.IsPending(SIGTERM) {
		t.Fatalf("NextDeliverable cleared signals it did not return")
	}
}

func TestBlockedSignalIsNotDeliverable(t *testing.T) {
	var s State
	s.SetPending(SIGUSR1)
	s.Block(bit(SIGUSR1))

	if s.HasDeliverable() {
		t.Fatalf("HasDeliverable() = true for a blocked-only pending signal")
	}
	if _, ok := s.NextDeliverable(); ok {
		t.Fatalf("NextDeliverable() returned a blocked signal")
	}
}

func TestResetForForkDuplicatesHandlersAndBlockedClearsPending(t *testing.T) {
	var parent State
	parent.SetHandler(SIGUSR1, Handler{Action: ActionUserHandler, Address: 0x1000})
	parent.Block(bit(SIGUSR1))
	parent.SetPending(SIGTERM)

	var child State
	child.ResetForFork(&parent)

	if child.IsPending(SIGTERM) {
		t.Fatalf("ResetForFork did not clear pending")
	}
	if child.Mask() != parent.Mask() {
		t.Fatalf("ResetForFork did not duplicate blocked")
	}
	if got := child.HandlerOf(SIGUSR1); got.Action != ActionUserHandler || got.Address != 0x1000 {
		t.Fatalf("ResetForFork did not duplicate handlers, got %+v", got)
	}
}

func TestResetForExecKeepsIgnoreResetsOthers(t *testing.T) {
	var s State
	s.SetHandler(SIGUSR1, Handler{Action: ActionIgnore})
	s.SetHandler(SIGUSR2, Handler{Action: ActionUserHandler, Address: 0x2000})
	s.SetPending(SIGTERM)
	s.Block(bit(SIGCHLD))

	s.ResetForExec()

	if got := s.HandlerOf(SIGUSR1); got.Action != ActionIgnore {
		t.Fatalf("ResetForExec dropped an Ignore disposition, got %+v", got)
	}
	if got := s.HandlerOf(SIGUSR2); got.Action == ActionUserHandler {
		t.Fatalf("ResetForExec did not reset a UserHandler disposition")
	}
	if s.IsPending(SIGTERM) {
		t.Fatalf("ResetForExec did not clear pending")
	}
	if s.Mask()&bit(SIGCHLD) == 0 {
		t.Fatalf("ResetForExec cleared blocked, should keep it")
	}
}

func TestDefaultActionsMatchFixedSemantics(t *testing.T) {
	cases := map[Num]Action{
		SIGSTOP: ActionStop,
		SIGTSTP: ActionStop,
		SIGCONT: ActionContinue,
		SIGCHLD: ActionIgnore,
		SIGTERM: ActionTerminate,
	}
	var s State
	for n, want := range cases {
		if got := s.HandlerOf(n).Action; got != want {
			t.Errorf("HandlerOf(%d).Action = %v, want %v", n, got, want)
		}
	}
}
