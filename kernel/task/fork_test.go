package task

import (
	"testing"
	"unsafe"

	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/signal"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
)

// testArenas pins every arena handed to the frame allocator for the
// process lifetime: a Tracker finalizer from an earlier test may release
// its frame into the allocator long after that test finished, and the
// frame's memory has to stay valid if it gets handed out again.
var testArenas [][]byte

// seedTestFrames points the frame allocator at a page-aligned arena inside
// this test process. Frame addresses then resolve straight into the arena
// (PhysToVirtOffset is 0 on the host), so page-table walks, region copies
// and trap-context setup all run against ordinary Go memory -- the whole
// fork path touches no CSR.
func seedTestFrames(t *testing.T, pages int) {
	t.Helper()
	arena := make([]byte, (pages+1)*int(mem.PageSize))
	testArenas = append(testArenas, arena)
	base := (uintptr(unsafe.Pointer(&arena[0])) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	allocator.Seed(pmm.Frame(base>>mem.PageShift), pmm.Frame(base>>mem.PageShift)+pmm.Frame(pages))
}

const testRegionVA = uintptr(0x10000)

// newForkableTCB builds a TCB with a real address space (one framed,
// initialized region), a real trap context and a real file table -- the
// parts Fork actually duplicates.
func newForkableTCB(t *testing.T, fill byte) *TCB {
	t.Helper()

	as, err := vmm.New()
	if err != nil {
		t.Fatalf("vmm.New() error = %v", err)
	}
	data := make([]byte, mem.PageSize)
	for i := range data {
		data[i] = fill
	}
	if _, err := as.PushRegion(testRegionVA, mem.PageSize, vmm.KindFramed, vmm.PermRead|vmm.PermWrite|vmm.PermUser, data); err != nil {
		t.Fatalf("PushRegion() error = %v", err)
	}

	frame, ctx, err := newTrapContext(as)
	if err != nil {
		t.Fatalf("newTrapContext() error = %v", err)
	}
	ctx.Sepc = 0x4242
	ctx.Regs[trap.RegA0] = 99 // parent-side fork() return slot, must not leak to the child

	tcb := &TCB{
		PID:          allocPID(),
		Status:       StatusRunning,
		AS:           as,
		trapCtxFrame: frame,
		TrapCtx:      ctx,
		Files:        vfs.NewTable(),
		Cwd:          "/",
	}
	register(tcb)
	return tcb
}

// regionByte reads the first byte of the test region through the address
// space's own translation, the same way the running task would see it.
func regionByte(t *testing.T, as *vmm.AddressSpace) byte {
	t.Helper()
	pa, err := as.Translate(testRegionVA)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	return *(*byte)(unsafe.Pointer(vmm.PhysToVirtOffset + pa))
}

func TestForkExitWaitRoundTrip(t *testing.T) {
	resetHooks(t)
	seedTestFrames(t, 64)

	parent := newForkableTCB(t, 0x5a)
	defer unregister(parent.PID)
	childrenBefore := len(parent.Children)

	child, err := Fork(parent)
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}

	if child.PID == parent.PID {
		t.Fatal("expected the child to get its own PID")
	}
	if child.Status != StatusReady {
		t.Fatalf("expected the child Ready, got %v", child.Status)
	}
	if child.Parent != parent || len(parent.Children) != childrenBefore+1 {
		t.Fatal("expected the child linked under the parent")
	}
	if got := child.TrapCtx.Regs[trap.RegA0]; got != 0 {
		t.Fatalf("expected the child's a0 zeroed, got %d", got)
	}
	if child.TrapCtx.Sepc != parent.TrapCtx.Sepc {
		t.Fatal("expected the child to resume at the parent's pc")
	}
	if child.Files == parent.Files {
		t.Fatal("expected a cloned file table, not the parent's own")
	}

	// The address spaces must be independent: flipping the parent's page
	// afterwards must not show through in the child.
	if got := regionByte(t, child.AS); got != 0x5a {
		t.Fatalf("expected the child to see the parent's page contents, got %#x", got)
	}
	pa, terr := parent.AS.Translate(testRegionVA)
	if terr != nil {
		t.Fatalf("Translate() error = %v", terr)
	}
	*(*byte)(unsafe.Pointer(vmm.PhysToVirtOffset + pa)) = 0xa7
	if got := regionByte(t, child.AS); got != 0x5a {
		t.Fatalf("expected the child's copy unaffected by the parent's write, got %#x", got)
	}

	Exit(child, 42)

	pid, code, werr := Wait(parent, -1)
	if werr != nil {
		t.Fatalf("Wait() error = %v", werr)
	}
	if pid != child.PID || code != 42 {
		t.Fatalf("Wait() = %d, %d; want %d, 42", pid, code, child.PID)
	}
	if len(parent.Children) != childrenBefore {
		t.Fatalf("expected the children list back at %d entries, got %d", childrenBefore, len(parent.Children))
	}
	if Lookup(child.PID) != nil {
		t.Fatal("expected the reaped child gone from the process table")
	}
}

func TestForkInheritsHandlersNotPending(t *testing.T) {
	resetHooks(t)
	seedTestFrames(t, 64)

	parent := newForkableTCB(t, 0)
	defer unregister(parent.PID)

	parent.Signals.SetHandler(10, signal.Handler{Action: signal.ActionUserHandler, Address: 0x8000})
	parent.Signals.SetPending(15)

	child, err := Fork(parent)
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	defer func() { Exit(child, 0); Wait(parent, -1) }()

	if got := child.Signals.HandlerOf(10); got.Address != 0x8000 {
		t.Fatalf("expected the parent's handler inherited, got %+v", got)
	}
	if child.Signals.IsPending(15) {
		t.Fatal("expected the parent's pending signal not inherited")
	}
}
