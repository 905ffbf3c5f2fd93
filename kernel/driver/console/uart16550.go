// Package console drives the single UART16550-compatible console device
// the board description points at: one MMIO
// window, a spinlocked writer used by every normal Printf call, and an
// emergency-bypass path that the panic handler uses once the spinlock
// itself might be the thing that's wedged.
package console

import (
	"rvkernel/kernel/sync"
	"unsafe"
)

// register offsets into the UART16550 MMIO window, in DLAB=0 mode.
const (
	regRBR = 0x0 // receiver buffer (read)
	regTHR = 0x0 // transmitter holding (write)
	regIER = 0x1 // interrupt enable
	regLSR = 0x5 // line status

	lsrTHRE = 1 << 5 // transmit-holding-register empty
	lsrDR   = 1 << 0 // data ready
)

// UART is a memory-mapped UART16550 console behind a spinlock, matching the
// external interface's "single device... behind a spinlocked writer with an
// emergency-bypass path used only from the panic handler."
type UART struct {
	lock sync.Spinlock
	base uintptr
}

var console UART

// Init records the UART's MMIO base address, discovered from the device
// tree, and disables its interrupt sources (this core polls the line status
// register rather than taking UART interrupts).
func Init(mmioBase uintptr) {
	console.base = mmioBase
	console.reg(regIER).store(0)
}

// Get returns the process-wide console singleton. Must be called after
// Init.
func Get() *UART {
	return &console
}

// WriteByte blocks until the transmit holding register is empty, then
// writes b. Safe for concurrent use.
func (u *UART) WriteByte(b byte) error {
	u.lock.Acquire()
	defer u.lock.Release()
	u.writeByteLocked(b)
	return nil
}

// Write implements io.Writer, one byte at a time (the UART has no burst
// transfer mode at this level).
func (u *UART) Write(p []byte) (int, error) {
	u.lock.Acquire()
	defer u.lock.Release()
	for _, b := range p {
		u.writeByteLocked(b)
	}
	return len(p), nil
}

func (u *UART) writeByteLocked(b byte) {
	for u.reg(regLSR).load()&lsrTHRE == 0 {
	}
	u.reg(regTHR).store(b)
}

// ReadByte returns the next received byte and true, or false if the
// receiver has nothing buffered.
func (u *UART) ReadByte() (byte, bool) {
	u.lock.Acquire()
	defer u.lock.Release()
	if u.reg(regLSR).load()&lsrDR == 0 {
		return 0, false
	}
	return u.reg(regRBR).load(), true
}

// EmergencyWrite bypasses the spinlock entirely. Used only by the
// panic-freeze path, which may run while another hart holds the
// console lock and will never release it (it's frozen in WFI).
func (u *UART) EmergencyWrite(p []byte) {
	for _, b := range p {
		for u.reg(regLSR).load()&lsrTHRE == 0 {
		}
		u.reg(regTHR).store(b)
	}
}

// register is a single byte-wide MMIO register.
type register uintptr

func (u *UART) reg(offset uintptr) register {
	return register(u.base + offset)
}

// regLoadFn/regStoreFn indirect every register access so tests can back a
// UART with an ordinary Go byte slice instead of real MMIO.
var (
	regLoadFn  = func(addr uintptr) byte { return *(*byte)(unsafe.Pointer(addr)) }
	regStoreFn = func(addr uintptr, b byte) { *(*byte)(unsafe.Pointer(addr)) = b }
)

func (r register) load() byte {
	return regLoadFn(uintptr(r))
}

func (r register) store(b byte) {
	regStoreFn(uintptr(r), b)
}
