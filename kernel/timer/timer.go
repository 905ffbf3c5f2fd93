// Package timer turns the free-running `time` CSR and the SBI timer
// extension into a monotonic microsecond clock and a per-hart periodic
// tick, and checks the watchdog on every tick.
package timer

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/ipi"
	"rvkernel/kernel/sbi"
	"sync/atomic"
)

// TickIntervalUs is how far ahead of "now" each SetNextDeadline call
// schedules the next interrupt. sched's quantum (sliceUs) is defined as ten
// of these ticks, so changing it scales the quantum too. Tick always
// reprograms the next deadline off the current reading rather than adding
// to the last one.
const TickIntervalUs = 10_000

// readTimeFn indirects the asm-backed cpu.ReadTime CSR read, and
// setTimerFn indirects the SBI ecall that programs the next interrupt; the
// same seam idiom used throughout trap/ and ipi/ for primitives a host
// test cannot call directly.
var readTimeFn = cpu.ReadTime
var setTimerFn = sbi.SetTimer

// TickFn is called once per tick, after the watchdog has been checked and
// the next deadline programmed, so that sched/ can drive preemption without
// timer/ importing it. Defaults to a no-op until cmd/kernel/main.go wires
// the real scheduler tick.
var TickFn = func() {}

var timebaseHz uint64

// wallClockEpochUs is the microsecond Unix timestamp corresponding to
// `time` CSR value 0, as established by SetWallClockEpoch.
var wallClockEpochUs uint64

// Init records the board's timebase frequency, discovered from the device
// tree's timebase-frequency property. Must run once, on the boot hart,
// before Now or Tick is called on any hart.
func Init(freqHz uint64) {
	atomic.StoreUint64(&timebaseHz, freqHz)
}

// Now returns the current time as a microsecond count since the `time` CSR
// was last zero (typically power-on), derived by dividing the free-running
// counter by the board's timebase frequency.
func Now() uint64 {
	hz := atomic.LoadUint64(&timebaseHz)
	if hz == 0 {
		return 0
	}
	return readTimeFn() * 1_000_000 / hz
}

// SetWallClockEpoch records the wall-clock time, in microseconds since the
// Unix epoch, that corresponds to Now() == 0. Called once during boot from
// whatever real-time source the board provides (RTC MMIO device, or a
// value baked into the device tree's chosen node); until called,
// WallClock simply returns Now().
func SetWallClockEpoch(epochUs uint64) {
	atomic.StoreUint64(&wallClockEpochUs, epochUs)
}

// WallClock returns the best estimate of wall-clock time in microseconds
// since the Unix epoch.
func WallClock() uint64 {
	return atomic.LoadUint64(&wallClockEpochUs) + Now()
}

// SetNextDeadline programs the next timer interrupt TickIntervalUs ahead of
// the current reading. Called once per hart at boot and once per tick
// thereafter from Tick.
func SetNextDeadline() {
	hz := atomic.LoadUint64(&timebaseHz)
	if hz == 0 {
		return
	}
	nowTicks := readTimeFn()
	deadline := nowTicks + (TickIntervalUs*hz)/1_000_000
	setTimerFn(deadline)
}

// Tick is wired as trap.TimerTickFn: it runs on whichever hart's timer
// interrupt fired, reprograms that hart's next deadline first so a slow
// tick handler never causes the next interrupt to be late, then checks the
// watchdog and finally calls TickFn to let the scheduler consider
// preemption.
func Tick() {
	SetNextDeadline()
	ipi.CheckWatchdog(cpu.HartID(), Now())
	TickFn()
}
