package task

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/trap"
)

// Exec replaces t's address space and stack with a fresh one built from
// image: signal handlers revert to default except those set to Ignore
// (see signal.State.ResetForExec), open fds survive untouched, and the
// kernel stack/trap-context page are kept --
// only the user-visible address space changes identity.
func Exec(t *TCB, image []byte) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	newAS, err := vmm.New()
	if err != nil {
		return err
	}
	entry, err := LoadELF(newAS, image)
	if err != nil {
		newAS.Teardown()
		return err
	}

	oldAS := t.AS
	t.AS = newAS
	oldAS.Teardown()

	if err := t.AS.SetTrapContext(t.trapCtxFrame.Frame()); err != nil {
		return err
	}

	for i := range t.TrapCtx.Regs {
		t.TrapCtx.Regs[i] = 0
	}
	t.TrapCtx.Sepc = uint64(entry)
	t.TrapCtx.Regs[trap.RegSP] = uint64(t.AS.StackTop)

	t.Signals.ResetForExec()
	return nil
}
