package task

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/trap"
)

// Fork duplicates parent's TCB: a cloned address space (fresh frames,
// contents copied verbatim, no copy-on-write), a fresh
// kernel stack, a new trap-context page copied from the parent's with a0
// zeroed for the child, inherited signal handlers with pending cleared, and
// a shallow-cloned file table. parent and child are serialized against each
// other and the process table by parent.lock/tableLock for the duration of
// the call; fork and exec are fully serialised per TCB.
func Fork(parent *TCB) (*TCB, *kernel.Error) {
	parent.lock.Acquire()
	defer parent.lock.Release()

	childAS, err := parent.AS.Clone()
	if err != nil {
		return nil, err
	}

	kstack, err := allocator.AllocContiguous(KernelStackPages)
	if err != nil {
		childAS.Teardown()
		return nil, err
	}

	frame, ctx, err := newTrapContext(childAS)
	if err != nil {
		childAS.Teardown()
		return nil, err
	}
	*ctx = *parent.TrapCtx
	ctx.Regs[trap.RegA0] = 0 // child's fork() return value
	ctx.KernelSP = uint64(vmm.PhysToVirtOffset+kstack.Frame().Address()) + uint64(KernelStackPages)*uint64(mem.PageSize)

	child := &TCB{
		PID:          allocPID(),
		Parent:       parent,
		Status:       StatusReady,
		AS:           childAS,
		trapCtxFrame: frame,
		TrapCtx:      ctx,
		kernelStack:  kstack,
		Files:        parent.Files.Clone(),
		Cwd:          parent.Cwd,
		Sched:        parent.Sched,
	}
	child.Sched.VRuntime = 0
	child.Signals.ResetForFork(&parent.Signals)

	parent.Children = append(parent.Children, child)
	register(child)
	EnqueueFn(child)
	return child, nil
}
