// Package kmain ties every subsystem together into the boot sequence: it
// is the first Go code the boot hart runs after the bootloader's stub has
// set up a minimal stack and forwarded the SBI handoff registers.
package kmain

import (
	"unsafe"

	"rvkernel/kernel"
	"rvkernel/kernel/board"
	"rvkernel/kernel/cpu"
	"rvkernel/kernel/driver/console"
	"rvkernel/kernel/dtb"
	"rvkernel/kernel/goruntime"
	"rvkernel/kernel/ipi"
	"rvkernel/kernel/kfmt"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/heap"
	"rvkernel/kernel/mem/pmm"
	"rvkernel/kernel/mem/pmm/allocator"
	"rvkernel/kernel/mem/vmm"
	"rvkernel/kernel/sched"
	"rvkernel/kernel/smp"
	"rvkernel/kernel/syscall"
	"rvkernel/kernel/task"
	"rvkernel/kernel/timer"
	"rvkernel/kernel/trap"
	"rvkernel/kernel/vfs"
	"rvkernel/kernel/virtio"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoHarts       = &kernel.Error{Module: "kmain", Message: "device tree describes no harts"}
	errNoInitrd      = &kernel.Error{Module: "kmain", Message: "no initrd in the device tree; nothing to run as init"}
)

// inputDevices holds every probed virtio-input device so the external
// interrupt path can drain their completions.
var inputDevices []*virtio.InputDevice

// Kmain is the only Go symbol visible to the boot stub. It is invoked on
// the boot hart with traps and paging disabled, a0/a1 forwarded as
// hartID/dtbPhys, and the kernel image's physical load range taken from
// the stub's linker symbols.
//
// Kmain is not expected to return. If it does, the stub halts the hart.
//
//go:noinline
func Kmain(hartID, dtbPhys, kernelStart, kernelEnd uintptr) {
	cpu.SetHartID(uint64(hartID))

	info, err := dtb.Parse(dtbBlob(dtbPhys))
	if err != nil {
		kfmt.Panic(err)
	}
	board.Init(info)
	if len(info.Harts) == 0 {
		kfmt.Panic(errNoHarts)
	}

	console.Init(uintptr(info.UART.Base))
	kfmt.SetOutputSink(console.Get())
	kfmt.Printf("rvkernel: booting on hart %d, %d hart(s) described\n", uint64(hartID), len(info.Harts))

	allocator.InitEarlyAllocator(kernelStart, kernelEnd)
	allocator.PrintEarlyMemoryMap()
	seedFrameAllocator(info, kernelEnd, dtbPhys)

	// The kernel owns the identity window: every byte of DRAM and every
	// discovered MMIO range is reachable at its physical address, so
	// paging can come on without the kernel moving.
	vmm.Init(0)
	kernelSpace, err := buildKernelSpace(info)
	if err != nil {
		kfmt.Panic(err)
	}
	vmm.InitKernelSpace(kernelSpace)
	cpu.WriteSatp(vmm.KernelToken())
	cpu.FlushTLBAll()

	heap.Init()
	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	if err := trap.InstallTrampoline(); err != nil {
		kfmt.Panic(err)
	}
	trap.EnableStvec()
	wireTrapSeams()

	timer.Init(info.Harts[0].TimebaseFreq)
	sched.Init(board.HartCount())
	syscall.Init()

	root := buildRootFS(info)
	syscall.SetRoot(root)

	smp.Bringup(uint64(hartID))
	ipi.SetExpectedHarts(hartMask(info))
	ipi.FeedWatchdog(timer.Now())
	kfmt.Printf("rvkernel: %d hart(s) online\n", smp.OnlineCount())

	initTask, err := task.NewInit(initrdImage(info), consoleNode)
	if err != nil {
		kfmt.Panic(err)
	}
	sched.Enqueue(initTask)
	kfmt.Printf("rvkernel: init is pid %d\n", initTask.PID)

	cpu.EnableInterrupts()
	timer.SetNextDeadline()
	sched.IdleLoop(uint64(hartID))

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// dtbBlob views the flattened device tree at dtbPhys as a byte slice. The
// blob's total size lives at offset 4, big-endian, so the header's first
// two words are peeked before the full slice is formed.
func dtbBlob(dtbPhys uintptr) []byte {
	header := unsafe.Slice((*byte)(unsafe.Pointer(dtbPhys)), 8)
	size := uint32(header[4])<<24 | uint32(header[5])<<16 | uint32(header[6])<<8 | uint32(header[7])
	return unsafe.Slice((*byte)(unsafe.Pointer(dtbPhys)), int(size))
}

// seedFrameAllocator hands the stack allocator every DRAM frame above the
// highest address the boot environment still needs: the kernel image, the
// device tree blob, and the initrd all sit low in the first memory region,
// so everything past the highest of the three is free.
func seedFrameAllocator(info *dtb.BoardInfo, kernelEnd, dtbPhys uintptr) {
	highest := uint64(kernelEnd)
	if end := uint64(dtbPhys) + uint64(len(dtbBlob(dtbPhys))); end > highest {
		highest = end
	}
	if end := info.Initrd.Base + info.Initrd.Len; end > highest {
		highest = end
	}

	pageSizeMinus1 := uint64(mem.PageSize - 1)
	firstFree := pmm.Frame((highest + pageSizeMinus1) >> mem.PageShift)

	var limit pmm.Frame
	board.VisitMemRegions(func(r dtb.MemRegion) bool {
		if end := pmm.Frame((r.Base + r.Len) >> mem.PageShift); end > limit {
			limit = end
		}
		return true
	})
	allocator.Seed(firstFree, limit)
}

// hartMask builds the bitmask of every hart ID the device tree describes,
// the set the panic-freeze leader waits on.
func hartMask(info *dtb.BoardInfo) uint64 {
	var mask uint64
	for _, h := range info.Harts {
		if h.ID < 64 {
			mask |= 1 << h.ID
		}
	}
	return mask
}

// buildKernelSpace constructs the shared supervisor page table: all of
// DRAM plus each discovered MMIO window, identity-mapped.
func buildKernelSpace(info *dtb.BoardInfo) (*vmm.RootTable, *kernel.Error) {
	table, err := vmm.NewRootTable()
	if err != nil {
		return nil, err
	}

	for _, r := range info.Memory {
		if err := mapRange(table, uintptr(r.Base), uintptr(r.Len), vmm.PermRead|vmm.PermWrite|vmm.PermExec); err != nil {
			return nil, err
		}
	}

	windows := append([]dtb.MMIORegion{info.UART, info.PLIC, info.CLINT}, info.VirtioMMIO...)
	for _, w := range windows {
		if w.Len == 0 {
			continue
		}
		if err := mapRange(table, uintptr(w.Base), uintptr(w.Len), vmm.PermRead|vmm.PermWrite); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func mapRange(table *vmm.RootTable, base, length uintptr, perm vmm.Permission) *kernel.Error {
	pageSizeMinus1 := uintptr(mem.PageSize - 1)
	end := (base + length + pageSizeMinus1) &^ pageSizeMinus1
	for va := base &^ pageSizeMinus1; va < end; va += uintptr(mem.PageSize) {
		if err := table.Map(va, pmm.Frame(va>>mem.PageShift), perm); err != nil {
			return err
		}
	}
	return nil
}

// wireTrapSeams installs the cross-subsystem hooks trap/ and task/ expose
// instead of importing their drivers directly. sched.Init and syscall.Init
// wire their own seams; everything left over is wired here, the one place
// with every package in scope.
func wireTrapSeams() {
	trap.TimerTickFn = timer.Tick
	trap.IPIHandlerFn = func() { ipi.Handle(cpu.HartID()) }
	trap.ExternalInterruptFn = drainInputDevices
	trap.DeliverPendingSignalFn = task.DeliverPending
	trap.SigreturnFn = task.SigreturnCtx
	trap.TerminateFn = func(exitCode int) {
		if t := task.CurrentOnHart(cpu.HartID()); t != nil {
			kfmt.Printf("rvkernel: pid %d killed by fault (exit code %d)\n", t.PID, exitCode)
			task.Exit(t, exitCode)
		}
	}
	trap.PanicFn = func(scause, stval uint64) {
		ipi.PanicFreeze(cpu.HartID(), scause, stval)
	}
	task.SetNotifyFn(func(hart uint64) { ipi.SendOne(hart, ipi.KindSignalNotify) })
}

func drainInputDevices() {
	for _, d := range inputDevices {
		d.Drain()
	}
}

// consoleNode is the /dev/console inode handed to init as stdio, kept
// package-level so Kmain's FS construction and task construction agree on
// the same object.
var consoleNode vfs.Inode

// buildRootFS assembles the in-memory root filesystem: /dev with the
// console, any probed virtio-blk disks (vda, vdb, ...), /dev/input with
// one eventN node per virtio-input device, and an empty /tmp.
func buildRootFS(info *dtb.BoardInfo) vfs.Inode {
	root := vfs.NewMemDir()
	dev := mustDir(root, "dev")
	mustDir(root, "tmp")
	inputDir := mustDir(dev, "input")

	consoleNode = console.NewNode(console.Get(), vfs.AllocInodeID())
	dev.Mount("console", consoleNode)

	var disks, inputs int
	for _, w := range info.VirtioMMIO {
		m := virtio.NewMMIO(uintptr(w.Base))
		if !m.Probe() {
			continue
		}
		switch m.DeviceID() {
		case virtio.DeviceIDBlock:
			b, err := virtio.NewBlockDevice(uintptr(w.Base))
			if err != nil {
				kfmt.Printf("rvkernel: virtio-blk at 0x%x failed: %s\n", w.Base, err.Message)
				continue
			}
			name := "vd" + string(rune('a'+disks))
			dev.Mount(name, virtio.NewBlockNode(b, vfs.AllocInodeID()))
			kfmt.Printf("rvkernel: /dev/%s: %d sectors\n", name, b.NumSectors())
			disks++
		case virtio.DeviceIDInput:
			d, err := virtio.NewInputDevice(uintptr(w.Base), vfs.AllocInodeID())
			if err != nil {
				kfmt.Printf("rvkernel: virtio-input at 0x%x failed: %s\n", w.Base, err.Message)
				continue
			}
			inputDevices = append(inputDevices, d)
			name := "event" + string(rune('0'+inputs))
			inputDir.Mount(name, d.Node())
			kfmt.Printf("rvkernel: /dev/input/%s online\n", name)
			inputs++
		}
	}
	return root
}

func mustDir(parent *vfs.MemDir, name string) *vfs.MemDir {
	child, err := parent.CreateDirectory(name)
	if err != nil {
		kfmt.Panic(err)
	}
	return child.(*vfs.MemDir)
}

// initrdImage returns the boot payload the bootloader placed in memory and
// described under /chosen: the ELF executable that becomes init.
func initrdImage(info *dtb.BoardInfo) []byte {
	if info.Initrd.Len == 0 {
		kfmt.Panic(errNoInitrd)
	}
	va := vmm.PhysToVirtOffset + uintptr(info.Initrd.Base)
	return unsafe.Slice((*byte)(unsafe.Pointer(va)), int(info.Initrd.Len))
}
