// Package cpu exposes the RISC-V 64 primitives that the rest of the kernel
// needs in order to manage traps, paging and per-hart state. The actual CSR
// accesses are implemented in hart-specific assembly and linked in at build
// time; the declarations below only describe the Go-visible contract.
package cpu

// SV39Mode is the value of the MODE field of satp that selects the Sv39
// paging scheme.
const SV39Mode = 8

// EnableInterrupts sets SIE in sstatus, allowing S-mode interrupts to fire.
func EnableInterrupts()

// DisableInterrupts clears SIE in sstatus.
func DisableInterrupts()

// InterruptsEnabled reports whether SIE is currently set.
func InterruptsEnabled() bool

// Halt parks the hart in WFI until the next interrupt.
func Halt()

// HartID returns the value stashed in tp at hart startup, i.e. the logical
// CPU index used to index the per-hart data array.
func HartID() uint64

// SetHartID stores the logical hart index in tp. Called once by each hart
// before any other kernel code runs on it.
func SetHartID(id uint64)

// ReadSatp returns the current value of the satp CSR.
func ReadSatp() uint64

// WriteSatp installs a new root page table token into satp and issues a
// local sfence.vma so the hart observes the new mappings immediately.
func WriteSatp(token uint64)

// FlushTLBEntry issues sfence.vma for a single virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLBAll issues a global sfence.vma with no operands.
func FlushTLBAll()

// ReadSepc / ReadScause / ReadStval return the trap CSRs snapshotted by the
// trampoline on entry; they are mostly used by the panic path, which reads
// them directly rather than through the saved TrapContext.
func ReadSepc() uint64
func ReadScause() uint64
func ReadStval() uint64

// ReadSstatus returns the current sstatus CSR.
func ReadSstatus() uint64

// ReadTime returns the free-running `time` CSR (the hart's view of the
// CLINT mtime register), counted in timebase ticks since an arbitrary
// epoch. The timer package divides by the device tree's timebase-frequency
// to derive microseconds.
func ReadTime() uint64

// ReadFramePointer / ReadStackPointer / ReadReturnAddress support the
// frame-pointer walk used to produce panic backtraces.
func ReadFramePointer() uintptr
func ReadStackPointer() uintptr
func ReadReturnAddress() uintptr

// SatpToken builds a satp value for the given root page-table PPN, using
// ASID 0 since the core does not recycle address-space identifiers.
func SatpToken(rootPPN uint64) uint64 {
	return (uint64(SV39Mode) << 60) | rootPPN
}
