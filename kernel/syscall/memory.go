package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/task"
	"rvkernel/kernel/trap"
)

var (
	errBadBrk  = &kernel.Error{Module: "syscall", Message: "brk target below heap base", Errno: EINVAL}
	errBadMmap = &kernel.Error{Module: "syscall", Message: "mmap length must be non-zero", Errno: EINVAL}
	errNoAnon  = &kernel.Error{Module: "syscall", Message: "only anonymous mappings are supported", Errno: ENOTSUP}
)

// mmapBase is where the search for a free run of unmapped pages starts
// for an anonymous mapping with no caller-supplied address. LoadELF puts
// the data break and the user stack directly above the highest PT_LOAD
// segment, so for an image linked well below this address the search
// starts above all of them.
const mmapBase = uintptr(0x5000_0000)

const protRead = 1
const protWrite = 2
const protExec = 4

// dispatchMemory implements the memory call group (brk, sbrk, mmap
// anonymous-only, munmap) directly against the current task's address
// space regions.
func dispatchMemory(ctx *trap.Context, t *task.TCB, num uint64) result {
	as := t.AS
	switch num {
	case SysBrk:
		newBrk := uintptr(ctx.Arg(0))
		if newBrk == 0 {
			return ok(uint64(as.HeapTop))
		}
		if newBrk < as.HeapBase {
			return fail(errBadBrk)
		}
		if err := resizeHeap(as, newBrk); err != nil {
			return fail(err)
		}
		return ok(uint64(as.HeapTop))

	case SysSbrk:
		old := as.HeapTop
		inc := int64(ctx.Arg(0))
		if inc == 0 {
			return ok(uint64(old))
		}
		newBrk := uintptr(int64(old) + inc)
		if newBrk < as.HeapBase {
			return fail(errBadBrk)
		}
		if err := resizeHeap(as, newBrk); err != nil {
			return fail(err)
		}
		return ok(uint64(old))

	case SysMmap:
		length := mem.Size(ctx.Arg(1))
		if length == 0 {
			return fail(errBadMmap)
		}
		fd := int32(ctx.Arg(4))
		if fd != -1 {
			return fail(errNoAnon)
		}
		perm := vmm.PermUser
		prot := ctx.Arg(2)
		if prot&protRead != 0 {
			perm |= vmm.PermRead
		}
		if prot&protWrite != 0 {
			perm |= vmm.PermWrite
		}
		if prot&protExec != 0 {
			perm |= vmm.PermExec
		}

		addr := uintptr(ctx.Arg(0))
		if addr == 0 {
			var found bool
			addr, found = findFreeRun(as, length)
			if !found {
				return fail(errNoMem)
			}
		}
		if _, err := as.PushRegion(addr, length, vmm.KindFramed, perm, nil); err != nil {
			return fail(err)
		}
		return ok(uint64(addr))

	case SysMunmap:
		length := ctx.Arg(1)
		if length == 0 {
			return fail(errBadMmap)
		}
		if err := as.RemoveRegion(uintptr(ctx.Arg(0))); err != nil {
			return fail(err)
		}
		return ok(0)
	}
	return fail(errNoSys)
}

// resizeHeap grows or shrinks the data-break region to end at newBrk,
// pushing a fresh region the first time brk/sbrk is ever called (LoadELF
// only reserves the zero-length bookkeeping for the data-break).
func resizeHeap(as *vmm.AddressSpace, newBrk uintptr) *kernel.Error {
	if as.HeapTop == as.HeapBase && newBrk > as.HeapBase {
		if _, err := as.PushRegion(as.HeapBase, mem.Size(newBrk-as.HeapBase), vmm.KindFramed, vmm.PermRead|vmm.PermWrite|vmm.PermUser, nil); err != nil {
			return err
		}
		as.HeapTop = newBrk
		return nil
	}
	if newBrk > as.HeapTop {
		if err := as.AppendRegion(as.HeapBase, newBrk); err != nil {
			return err
		}
	} else if newBrk < as.HeapTop {
		if err := as.ShrinkRegion(as.HeapBase, newBrk); err != nil {
			return err
		}
	}
	as.HeapTop = newBrk
	return nil
}

// mmapSearchLimit bounds findFreeRun's scan so a pathological address
// space cannot turn mmap into an unbounded walk.
const mmapSearchLimit = uintptr(0x8000_0000)

// findFreeRun picks the first page-aligned address at or above mmapBase
// that holds no existing region for length bytes.
func findFreeRun(as *vmm.AddressSpace, length mem.Size) (uintptr, bool) {
	for candidate := mmapBase; candidate+uintptr(length) < mmapSearchLimit; candidate += uintptr(mem.PageSize) {
		free := true
		for off := uintptr(0); off < uintptr(length); off += uintptr(mem.PageSize) {
			if as.FindRegion(candidate+off) != nil {
				free = false
				break
			}
		}
		if free {
			return candidate, true
		}
	}
	return 0, false
}

var errNoMem = &kernel.Error{Module: "syscall", Message: "no free virtual address range for mmap", Errno: ENOMEM}
