package ipi

import (
	"rvkernel/kernel/driver/console"
	"sync/atomic"
)

// Thresholds, in microseconds, past which the watchdog escalates. Feeding
// happens at known liveness points: scheduler idle-loop entry and syscall
// return.
const (
	watchdogWarnThresholdUs  = 5_000_000
	watchdogFatalThresholdUs = 15_000_000
)

var (
	lastFedUs     uint64
	warnedAlready uint32
)

// FeedWatchdog records now as the last observed liveness point.
func FeedWatchdog(nowUs uint64) {
	atomic.StoreUint64(&lastFedUs, nowUs)
	atomic.StoreUint32(&warnedAlready, 0)
}

// CheckWatchdog is called once per timer tick, on whichever hart's timer
// fired, with the current monotonic time. Before the first feed it is a
// no-op: the watchdog has nothing to measure against yet.
func CheckWatchdog(hartID, nowUs uint64) {
	fed := atomic.LoadUint64(&lastFedUs)
	if fed == 0 {
		return
	}

	elapsed := nowUs - fed
	switch {
	case elapsed >= watchdogFatalThresholdUs:
		PanicFreeze(hartID, 0, 0)
	case elapsed >= watchdogWarnThresholdUs:
		if atomic.CompareAndSwapUint32(&warnedAlready, 0, 1) {
			printWatchdogWarning(elapsed)
		}
	}
}

func printWatchdogWarning(elapsedUs uint64) {
	w := func(b []byte) { console.Get().EmergencyWrite(b) }
	w([]byte("watchdog: warning, "))
	w(uitoa(elapsedUs))
	w([]byte(" us since last feed\n"))
}
