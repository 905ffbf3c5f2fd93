package timer

import "testing"

func withFakeClock(t *testing.T, now uint64) {
	t.Helper()
	prev := readTimeFn
	readTimeFn = func() uint64 { return now }
	t.Cleanup(func() { readTimeFn = prev })
}

func TestNowBeforeInitIsZero(t *testing.T) {
	prev := timebaseHz
	timebaseHz = 0
	defer func() { timebaseHz = prev }()
	withFakeClock(t, 123456)

	if got := Now(); got != 0 {
		t.Fatalf("Now() before Init = %d, want 0", got)
	}
}

func TestNowDividesByTimebase(t *testing.T) {
	Init(1_000_000) // 1 MHz timebase: ticks convert 1:1 to microseconds
	withFakeClock(t, 42)

	if got := Now(); got != 42 {
		t.Fatalf("Now() = %d, want 42", got)
	}
}

func TestWallClockAddsEpoch(t *testing.T) {
	Init(1_000_000)
	withFakeClock(t, 10)
	SetWallClockEpoch(1_000)
	defer SetWallClockEpoch(0)

	if got := WallClock(); got != 1_010 {
		t.Fatalf("WallClock() = %d, want 1010", got)
	}
}

func TestTickInvokesTickFn(t *testing.T) {
	Init(1_000_000)
	withFakeClock(t, 0)
	prevSetTimer := setTimerFn
	setTimerFn = func(uint64) {}
	defer func() { setTimerFn = prevSetTimer }()
	prevTick := TickFn
	called := false
	TickFn = func() { called = true }
	defer func() { TickFn = prevTick }()

	Tick()

	if !called {
		t.Fatalf("Tick() did not invoke TickFn")
	}
}

func TestSetNextDeadlineProgramsTimer(t *testing.T) {
	Init(1_000_000)
	withFakeClock(t, 0)
	prevSetTimer := setTimerFn
	var gotDeadline uint64
	setTimerFn = func(d uint64) { gotDeadline = d }
	defer func() { setTimerFn = prevSetTimer }()

	SetNextDeadline()

	if gotDeadline != TickIntervalUs {
		t.Fatalf("SetNextDeadline() programmed %d, want %d", gotDeadline, TickIntervalUs)
	}
}
