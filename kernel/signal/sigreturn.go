package signal

import (
	"rvkernel/kernel"
	"rvkernel/kernel/trap"
)

// Sigreturn undoes a delivery: reads the frame this task's own
// previous Deliver call left at ctx's current (post-handler) stack pointer,
// restores the integer registers, pc and the safe bits of sstatus, restores
// the saved mask, and leaves ctx ready to resume the interrupted code. The
// frame's sentinel-address slot is re-validated so a handler that
// overwrote its own stack cannot redirect sigreturn into arbitrary state.
func Sigreturn(s *State, as Translator, ctx *trap.Context) *kernel.Error {
	sp := uintptr(ctx.StackPointer())

	frame := make([]byte, frameSize)
	if err := as.CopyIn(frame, sp); err != nil {
		return err
	}
	if getU64(frame[35*8:]) != uint64(trap.SigreturnVA) {
		return errBadSigreturn
	}

	for i := 0; i < 32; i++ {
		ctx.Regs[i] = getU64(frame[i*8:])
	}
	ctx.Sepc = getU64(frame[32*8:])
	savedSstatus := getU64(frame[33*8:])
	ctx.Sstatus = (ctx.Sstatus &^ sstatusSafeBits) | (savedSstatus & sstatusSafeBits)

	s.SetMask(s.SavedMask)
	return nil
}
