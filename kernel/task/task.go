// Package task implements the task control block, the process table, and
// fork/exec/wait/exit. It holds no
// scheduling policy of its own -- runqueue placement, yielding and sleeping
// are reached through a handful of function-variable hooks that sched/
// installs at boot, the same dependency-inversion idiom trap/ and vfs/
// already use to stay import-cycle-free from the subsystems that drive
// them.
package task

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/signal"
	"rvkernel/kernel/sync"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
	"unsafe"
)

// Status is a TCB's scheduling state.
type Status int32

const (
	StatusReady Status = iota
	StatusRunning
	StatusSleeping
	StatusStopped
	StatusZombie
)

// KernelStackPages is the size, in pages, of every task's kernel stack.
const KernelStackPages = 4

// maxHarts bounds the per-hart "current task" table; matches ipi's and
// sched's own bound since no board this core targets exceeds it.
const maxHarts = 64

var current [maxHarts]*TCB

// TCB is the per-task control block. Parent is a plain strong reference
// in Go's terms (the GC tolerates the parent/child cycle, so no weak
// reference is needed), but the lifetime discipline is still enforced
// explicitly: a child is only ever removed from Parent.Children (dropping
// the process table's own strong reference) by Wait, never by Go's
// collector on its own.
type TCB struct {
	PID    int32
	Parent *TCB
	lock   sync.Spinlock

	Children []*TCB
	ExitCode int
	Status   Status
	// StoppedFrom records the status a SIGSTOP target held before being
	// stopped, so SIGCONT can restore it exactly.
	StoppedFrom Status

	AS *vmm.AddressSpace

	trapCtxFrame *pmm.Tracker
	TrapCtx      *trap.Context

	kernelStack *pmm.Tracker

	Sched SchedInfo

	Signals signal.State

	Files *vfs.Table
	Cwd   string

	// WakeAtUs is the absolute deadline of the task's nanosleep in
	// progress, set by sched.Sleep and cleared by the nanosleep handler
	// when the woken task re-enters the call. sched/'s sleep queue keeps
	// no order by this value; each check scans every sleeper against it.
	WakeAtUs uint64

	// AlarmAtUs is the deadline of this task's single pending alarm(2)
	// request, or 0 if none is armed. Unlike WakeAtUs, a task with an
	// alarm armed keeps running; sched/'s alarm queue only raises
	// SIGALRM once AlarmAtUs passes, never parks anything.
	AlarmAtUs uint64
}

// SchedInfo is the scheduling-policy bookkeeping sched/ reads and writes
// directly; task/ only ever copies it across fork, never interprets it.
type SchedInfo struct {
	Band           int // 0 = high, 1 = normal (fair/vruntime), 2 = low
	Nice           int
	VRuntime       uint64
	SliceRemainUs  uint64
	HomeHart       uint64
}

var (
	tableLock sync.Spinlock
	table     = make(map[int32]*TCB)
	nextPID   int32 = 1

	errNoMem = &kernel.Error{Module: "task", Message: "out of memory creating task"}
)

// newTrapContext allocates the per-task trap-context frame, maps it into as
// at mem.TrapContextVA, and returns a Go pointer to its contents reached
// through the kernel's own identity mapping of physical RAM -- the kernel
// side of the same physical frame the task's own address space maps at a
// fixed user-invisible VA.
func newTrapContext(as *vmm.AddressSpace) (*pmm.Tracker, *trap.Context, *kernel.Error) {
	frame, err := allocator.Alloc()
	if err != nil {
		return nil, nil, errNoMem
	}
	mem.Memset(vmm.PhysToVirtOffset+frame.Frame().Address(), 0, mem.PageSize)
	if err := as.SetTrapContext(frame.Frame()); err != nil {
		frame.Release()
		return nil, nil, err
	}
	ctx := (*trap.Context)(unsafe.Pointer(vmm.PhysToVirtOffset + frame.Frame().Address()))
	return frame, ctx, nil
}

func allocPID() int32 {
	tableLock.Acquire()
	defer tableLock.Release()
	pid := nextPID
	nextPID++
	return pid
}

// register inserts t into the process table, keyed by its PID.
func register(t *TCB) {
	tableLock.Acquire()
	defer tableLock.Release()
	table[t.PID] = t
}

// unregister drops t from the process table. Called once Wait has reaped it.
func unregister(pid int32) {
	tableLock.Acquire()
	defer tableLock.Release()
	delete(table, pid)
}

// Lookup returns the live TCB for pid, or nil.
func Lookup(pid int32) *TCB {
	tableLock.Acquire()
	defer tableLock.Release()
	return table[pid]
}

// ForEach visits every live TCB in the process table, in unspecified order.
func ForEach(fn func(*TCB)) {
	tableLock.Acquire()
	snapshot := make([]*TCB, 0, len(table))
	for _, t := range table {
		snapshot = append(snapshot, t)
	}
	tableLock.Release()
	for _, t := range snapshot {
		fn(t)
	}
}

// CurrentOnHart returns the task hartID is currently running, or nil if
// that hart is idle.
func CurrentOnHart(hartID uint64) *TCB {
	return current[hartID]
}

// SetCurrentOnHart records t as hartID's currently running task. Called by
// sched/ immediately before dispatching t via trap.ReturnToUser.
func SetCurrentOnHart(hartID uint64, t *TCB) {
	current[hartID] = t
}

// NewInit constructs the very first task: a fresh address space loaded from
// an ELF image, a root file table seeded with fds 0-2 over stdio, and no
// parent. Called exactly once, on the boot hart, before the scheduler's
// idle loop starts pulling tasks.
func NewInit(elfImage []byte, stdio vfs.Inode) (*TCB, *kernel.Error) {
	as, err := vmm.New()
	if err != nil {
		return nil, err
	}
	entry, err := LoadELF(as, elfImage)
	if err != nil {
		as.Teardown()
		return nil, err
	}

	kstack, err := allocator.AllocContiguous(KernelStackPages)
	if err != nil {
		as.Teardown()
		return nil, err
	}

	frame, ctx, err := newTrapContext(as)
	if err != nil {
		as.Teardown()
		return nil, err
	}
	ctx.Sepc = uint64(entry)
	ctx.Regs[trap.RegSP] = uint64(as.StackTop)
	ctx.KernelSatp = vmm.KernelToken()
	ctx.KernelSP = uint64(vmm.PhysToVirtOffset+kstack.Frame().Address()) + uint64(KernelStackPages)*uint64(mem.PageSize)

	files := vfs.NewTable()
	for fd := 0; fd < 3; fd++ {
		files.InstallAt(fd, vfs.NewFile(stdio, vfs.OpenReadWrite))
	}

	t := &TCB{
		PID:          allocPID(),
		Status:       StatusReady,
		AS:           as,
		trapCtxFrame: frame,
		TrapCtx:      ctx,
		kernelStack:  kstack,
		Files:        files,
		Cwd:          "/",
	}
	register(t)
	return t, nil
}
