package ipi

import (
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/driver/console"
	"rvkernel/kernel/sbi"
	"sync/atomic"
	"unsafe"
)

// maxBacktraceDepth bounds the frame-pointer walk performed for each
// frozen hart so a corrupted frame chain cannot loop forever.
const maxBacktraceDepth = 16

// snapshot is one hart's captured register state at the moment it entered
// the panic-freeze path.
type snapshot struct {
	valid             bool
	hartID            uint64
	sepc, scause, stval, sstatus uint64
	sp, fp, ra        uintptr
	backtrace         [maxBacktraceDepth]uintptr
	backtraceLen      int
}

var (
	// freezeLeader is CAS'd from 0 to 1 by whichever hart panics first;
	// every later panic on any hart records its own snapshot and parks in
	// freezeThisHart.
	freezeLeader uint32

	// frozenMask has bit i set once hart i has recorded its snapshot.
	frozenMask uint64

	snapshots [maxHarts]snapshot

	// expectedMask is the set of harts the leader waits to see join the
	// freeze before it gives up waiting and prints whatever it has.
	expectedMask uint64
)

// SetExpectedHarts records which harts are active (and therefore expected
// to eventually join a freeze) once SMP bring-up has started them. Called
// once by the boot hart after bring-up completes.
func SetExpectedHarts(mask uint64) {
	atomic.StoreUint64(&expectedMask, mask)
}

// PanicFreeze is the kernel-mode panic path: the first hart to call
// it wins a CAS on freezeLeader, broadcasts KindPanicFreeze to every other
// active hart, records its own snapshot, spins a bounded number of times
// waiting for the others to join, then prints every snapshot collected so
// far and asks the firmware to shut the machine down. It never returns.
func PanicFreeze(hartID, scause, stval uint64) {
	if atomic.CompareAndSwapUint32(&freezeLeader, 0, 1) {
		others := atomic.LoadUint64(&expectedMask) &^ (1 << hartID)
		if others != 0 {
			Send(others, KindPanicFreeze)
		}
		recordSnapshot(hartID, scause, stval)

		const spinBudget = 1 << 20
		for spins := 0; spins < spinBudget; spins++ {
			if atomic.LoadUint64(&frozenMask)&atomic.LoadUint64(&expectedMask) == atomic.LoadUint64(&expectedMask) {
				break
			}
		}

		printSnapshots()
		shutdown()
	}

	// A non-leader hart that panics independently (rather than via an
	// incoming freeze IPI) still needs its own snapshot recorded.
	recordSnapshot(hartID, scause, stval)
	freezeThisHart()
}

// freezeThisHart is reached either from PanicFreeze itself or from
// Handle when a hart observes an incoming KindPanicFreeze; either way it
// never returns.
func freezeThisHart() {
	cpu.Halt()
	for {
		cpu.Halt()
	}
}

func recordSnapshot(hartID, scause, stval uint64) {
	s := &snapshots[hartID]
	s.valid = true
	s.hartID = hartID
	s.sepc = cpu.ReadSepc()
	s.scause = scause
	s.stval = stval
	s.sstatus = cpu.ReadSstatus()
	s.sp = cpu.ReadStackPointer()
	s.fp = cpu.ReadFramePointer()
	s.ra = cpu.ReadReturnAddress()
	s.backtraceLen = walkBacktrace(s.fp, s.backtrace[:])
	setFrozen(hartID)
}

func setFrozen(hartID uint64) {
	for {
		old := atomic.LoadUint64(&frozenMask)
		if atomic.CompareAndSwapUint64(&frozenMask, old, old|(1<<hartID)) {
			return
		}
	}
}

// walkBacktrace performs a simple frame-pointer walk starting at fp,
// writing return addresses into out and returning how many it collected.
// A frame-pointer chain that does not terminate within len(out) hops is
// simply truncated; this backtrace is a debugging aid, not a guarantee.
func walkBacktrace(fp uintptr, out []uintptr) int {
	n := 0
	for fp != 0 && n < len(out) {
		ra := readWordAt(fp - 8)
		if ra == 0 {
			break
		}
		out[n] = ra
		n++
		next := readWordAt(fp - 16)
		if next == 0 || next == fp {
			break
		}
		fp = next
	}
	return n
}

func printSnapshots() {
	for i := range snapshots {
		if !snapshots[i].valid {
			continue
		}
		printSnapshot(&snapshots[i])
	}
}

func printSnapshot(s *snapshot) {
	w := func(b []byte) { console.Get().EmergencyWrite(b) }
	w([]byte("\nhart "))
	w(uitoa(s.hartID))
	w([]byte(": sepc="))
	w(hexString(s.sepc))
	w([]byte(" scause="))
	w(hexString(s.scause))
	w([]byte(" stval="))
	w(hexString(s.stval))
	w([]byte(" sp="))
	w(hexString(uint64(s.sp)))
	w([]byte("\n  backtrace:"))
	for i := 0; i < s.backtraceLen; i++ {
		w([]byte(" "))
		w(hexString(uint64(s.backtrace[i])))
	}
	w([]byte("\n"))
}

func shutdown() {
	sbi.SystemReset(sbi.ResetTypeShutdown, sbi.ResetReasonFailure)
	freezeThisHart()
}

// readWordAt reads a 64-bit word directly from the current hart's own
// kernel stack; fp is always a kernel VA already, so no phys/virt
// translation is needed the way region-backed user memory requires.
func readWordAt(addr uintptr) uintptr {
	return uintptr(*(*uint64)(unsafe.Pointer(addr)))
}

// uitoa renders v in decimal. A tiny, allocation-free formatter kept local
// to this file rather than routed through kfmt.Printf: the panic-freeze
// path must never go anywhere near the spinlock-guarded console writer,
// since the hart that holds it may be the one already frozen.
func uitoa(v uint64) []byte {
	if v == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return buf[i:]
}

// hexString renders v as a 0x-prefixed hex string, for the same
// lock-avoidance reason as uitoa.
func hexString(v uint64) []byte {
	const digits = "0123456789abcdef"
	var buf [18]byte
	buf[0], buf[1] = '0', 'x'
	for i := 0; i < 16; i++ {
		shift := uint(60 - i*4)
		buf[2+i] = digits[(v>>shift)&0xf]
	}
	return buf[:]
}
