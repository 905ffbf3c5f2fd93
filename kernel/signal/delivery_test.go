package signal

import (
	"rvkernel/kernel"
	"rvkernel/kernel/trap"
	"testing"
)

// fakeStack backs Translator with a plain byte slice addressed by a fixed
// base VA, standing in for a real AddressSpace's page-table-walking
// CopyIn/CopyOut for these pure-logic tests.
type fakeStack struct {
	base uintptr
	mem  []byte
}

func newFakeStack(base uintptr, size int) *fakeStack {
	return &fakeStack{base: base, mem: make([]byte, size)}
}

func (f *fakeStack) CopyOut(va uintptr, src []byte) *kernel.Error {
	off := va - f.base
	copy(f.mem[off:], src)
	return nil
}

func (f *fakeStack) CopyIn(dst []byte, va uintptr) *kernel.Error {
	off := va - f.base
	copy(dst, f.mem[off:])
	return nil
}

func TestDeliverRetargetsContextToHandler(t *testing.T) {
	const stackBase = 0x1000
	const stackSize = 0x1000
	stack := newFakeStack(stackBase, stackSize)

	var s State
	ctx := &trap.Context{}
	ctx.Regs[trap.RegSP] = stackBase + stackSize - 16

	h := Handler{Action: ActionUserHandler, Address: 0x4000, Mask: bit(SIGUSR2)}
	if err := Deliver(&s, stack, ctx, SIGUSR1, h, stackBase, stackBase+stackSize); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if ctx.Sepc != 0x4000 {
		t.Fatalf("Sepc = %#x, want handler address", ctx.Sepc)
	}
	if ctx.Regs[trap.RegA0] != uint64(SIGUSR1) {
		t.Fatalf("a0 = %d, want signal number", ctx.Regs[trap.RegA0])
	}
	if ctx.Regs[trap.RegRA] != uint64(trap.SigreturnVA) {
		t.Fatalf("ra = %#x, want sigreturn sentinel", ctx.Regs[trap.RegRA])
	}
	if s.Mask()&bit(SIGUSR1) == 0 {
		t.Fatalf("delivering signal was not added to blocked (no SA_NODEFER)")
	}
	if s.Mask()&bit(SIGUSR2) == 0 {
		t.Fatalf("handler mask was not merged into blocked")
	}
}

func TestDeliverRejectsFrameOutsideStack(t *testing.T) {
	stack := newFakeStack(0x1000, 0x1000)
	var s State
	ctx := &trap.Context{}
	ctx.Regs[trap.RegSP] = 0x1000 + 8 // far too little room for the frame

	h := Handler{Action: ActionUserHandler, Address: 0x4000}
	if err := Deliver(&s, stack, ctx, SIGUSR1, h, 0x1000, 0x1000+0x1000); err == nil {
		t.Fatalf("Deliver() with undersized stack succeeded, want errBadStack")
	}
}

func TestSigreturnRoundTrip(t *testing.T) {
	const stackBase = 0x1000
	const stackSize = 0x1000
	stack := newFakeStack(stackBase, stackSize)

	var s State
	s.Block(bit(SIGCHLD))
	ctx := &trap.Context{}
	ctx.Sepc = 0x5000
	ctx.Sstatus = 1 << 8
	ctx.Regs[trap.RegSP] = stackBase + stackSize - 16
	origSP := ctx.Regs[trap.RegSP]

	h := Handler{Action: ActionUserHandler, Address: 0x4000}
	if err := Deliver(&s, stack, ctx, SIGUSR1, h, stackBase, stackBase+stackSize); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if err := Sigreturn(&s, stack, ctx); err != nil {
		t.Fatalf("Sigreturn() error = %v", err)
	}
	if ctx.Sepc != 0x5000 {
		t.Fatalf("Sepc after Sigreturn = %#x, want original 0x5000", ctx.Sepc)
	}
	if ctx.Regs[trap.RegSP] != origSP {
		t.Fatalf("sp after Sigreturn = %#x, want original %#x", ctx.Regs[trap.RegSP], origSP)
	}
	if s.Mask()&bit(SIGCHLD) == 0 {
		t.Fatalf("Sigreturn did not restore the pre-delivery mask")
	}
	if s.Mask()&bit(SIGUSR1) != 0 {
		t.Fatalf("Sigreturn left the delivered signal blocked")
	}
}

func TestSigreturnRejectsForgedFrame(t *testing.T) {
	stack := newFakeStack(0x1000, 0x1000)
	var s State
	ctx := &trap.Context{}
	ctx.Regs[trap.RegSP] = 0x1000 // never written by Deliver; all zero

	if err := Sigreturn(&s, stack, ctx); err == nil {
		t.Fatalf("Sigreturn() accepted a frame with no sentinel, want errBadSigreturn")
	}
}
