package signal

import (
	"rvkernel/kernel"
	"rvkernel/kernel/trap"
)

// Translator is the narrow slice of vmm.AddressSpace that delivery needs:
// writing the signal frame into user memory and reading it back on
// sigreturn. Kept as an interface (rather than importing vmm.AddressSpace
// directly) purely for host-test isolation from the real translation path.
type Translator interface {
	CopyOut(va uintptr, src []byte) *kernel.Error
	CopyIn(dst []byte, va uintptr) *kernel.Error
}

var errBadStack = &kernel.Error{Module: "signal", Message: "signal frame does not fit in the user stack"}
var errBadSigreturn = &kernel.Error{Module: "signal", Message: "sigreturn frame failed validation"}

// frameSize is the on-stack layout: 32 saved integer registers, sepc,
// sstatus, the delivered signal number, and the sentinel return address
// written into ra so a stray `ret` from inside the handler traps back into
// Sigreturn via trap.SigreturnVA.
const frameWords = 32 + 4
const frameSize = frameWords * 8

// sstatusSafeBits are the only sstatus bits sigreturn restores: SPP, SPIE,
// SIE. Every other bit keeps whatever the trampoline's own re-entry left in
// place, so a forged frame cannot smuggle in supervisor-mode state.
const sstatusSafeBits = (1 << 8) | (1 << 5) | (1 << 1)

// Deliver performs user-handler setup: given the next
// deliverable signal and its handler, build a signal frame on the current
// user stack, copy it out via as, and retarget ctx so execution resumes in
// the handler. stackLow/stackHigh bound the task's user stack region; the
// frame is rejected with errBadStack if it would not fit inside that
// range.
func Deliver(s *State, as Translator, ctx *trap.Context, n Num, h Handler, stackLow, stackHigh uintptr) *kernel.Error {
	switch h.Action {
	case ActionIgnore:
		return nil
	case ActionTerminate, ActionStop, ActionContinue:
		// Caller (task/) is responsible for acting on these; Deliver
		// only builds UserHandler frames.
		return nil
	}

	sp := (uintptr(ctx.StackPointer()) - frameSize) &^ 0xf
	if sp < stackLow || sp+frameSize > stackHigh {
		return errBadStack
	}

	frame := make([]byte, frameSize)
	for i := 0; i < 32; i++ {
		putU64(frame[i*8:], ctx.Regs[i])
	}
	putU64(frame[32*8:], ctx.Sepc)
	putU64(frame[33*8:], ctx.Sstatus)
	putU64(frame[34*8:], uint64(n))
	putU64(frame[35*8:], uint64(trap.SigreturnVA))

	if err := as.CopyOut(sp, frame); err != nil {
		return err
	}

	s.SavedMask = s.Mask()

	ctx.Sepc = h.Address
	ctx.Regs[trap.RegA0] = uint64(n)
	ctx.Regs[trap.RegSP] = uint64(sp)
	ctx.Regs[trap.RegRA] = uint64(trap.SigreturnVA)

	newBlocked := s.Mask() | h.Mask
	if h.Flags&SANoDefer == 0 {
		newBlocked |= bit(n)
	}
	s.SetMask(newBlocked)
	return nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
