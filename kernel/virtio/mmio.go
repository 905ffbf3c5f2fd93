// Package virtio implements the legacy VirtIO-MMIO transport:
// the register map and status/feature negotiation sequence common to
// every device variant, the split virtqueue the device and driver share,
// and the block and input device variants built on top of it.
package virtio

import "unsafe"

// Register offsets into a device's MMIO window, legacy (version 1) layout.
const (
	regMagicValue      = 0x000
	regVersion         = 0x004
	regDeviceID        = 0x008
	regVendorID        = 0x00c
	regDeviceFeatures  = 0x010
	regDeviceFeatSel   = 0x014
	regDriverFeatures  = 0x020
	regDriverFeatSel   = 0x024
	regGuestPageSize   = 0x028
	regQueueSel        = 0x030
	regQueueNumMax     = 0x034
	regQueueNum        = 0x038
	regQueueAlign      = 0x03c
	regQueuePFN        = 0x040
	regQueueReady      = 0x044
	regQueueNotify     = 0x050
	regInterruptStatus = 0x060
	regInterruptAck    = 0x064
	regStatus          = 0x070
	regConfig          = 0x100
)

// Device status bits (written to regStatus in sequence during negotiation).
const (
	StatusAcknowledge uint32 = 1
	StatusDriver      uint32 = 2
	StatusDriverOK    uint32 = 4
	StatusFeaturesOK  uint32 = 8
	StatusFailed      uint32 = 128
)

// Device IDs this core recognizes.
const (
	DeviceIDBlock uint32 = 2
	DeviceIDInput uint32 = 18
)

const (
	magicValue  = 0x74726976 // "virt", little-endian
	legacyMaxVersion = 2
)

// mmioLoad32Fn/mmioStore32Fn indirect every 32-bit register access so host
// tests can back an MMIO window with a plain byte slice instead of a real
// device, the same seam `driver/console`'s `regLoadFn`/`regStoreFn` uses
// for the UART.
var (
	mmioLoad32Fn  = func(addr uintptr) uint32 { return *(*uint32)(unsafe.Pointer(addr)) }
	mmioStore32Fn = func(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }
)

// MMIO wraps one device's memory-mapped register window.
type MMIO struct {
	base uintptr
}

// NewMMIO records base as a device's MMIO window. base is whatever address
// the caller's own kernel mapping makes the device visible at -- this
// package never applies an offset of its own, matching how
// `driver/console.Init` takes its UART base directly.
func NewMMIO(base uintptr) *MMIO {
	return &MMIO{base: base}
}

func (m *MMIO) load(offset uintptr) uint32     { return mmioLoad32Fn(m.base + offset) }
func (m *MMIO) store(offset uintptr, v uint32) { mmioStore32Fn(m.base+offset, v) }

// Probe reports whether the MMIO window actually holds a VirtIO device:
// the magic value matches and the version is one this driver understands.
func (m *MMIO) Probe() bool {
	magic := m.load(regMagicValue)
	version := m.load(regVersion)
	return magic == magicValue && version >= 1 && version <= legacyMaxVersion
}

// DeviceID returns the device-type ID from the MMIO header (2 = block,
// 18 = input).
func (m *MMIO) DeviceID() uint32 { return m.load(regDeviceID) }

// VendorID returns the device's vendor ID.
func (m *MMIO) VendorID() uint32 { return m.load(regVendorID) }

// DeviceFeatures returns the feature bits the device offers.
func (m *MMIO) DeviceFeatures() uint32 { return m.load(regDeviceFeatures) }

// SetDriverFeatures writes the subset of DeviceFeatures this driver accepts.
func (m *MMIO) SetDriverFeatures(features uint32) { m.store(regDriverFeatures, features) }

// Status returns the current device status bits.
func (m *MMIO) Status() uint32 { return m.load(regStatus) }

// SetStatus overwrites the device status register.
func (m *MMIO) SetStatus(status uint32) { m.store(regStatus, status) }

// SetGuestPageSize tells the device the driver's page size, required before
// any queue is configured on the legacy interface.
func (m *MMIO) SetGuestPageSize(size uint32) { m.store(regGuestPageSize, size) }

// SelectQueue makes queue the target of every subsequent queue register
// access.
func (m *MMIO) SelectQueue(queue uint32) { m.store(regQueueSel, queue) }

// QueueMaxSize returns the selected queue's maximum size in descriptors.
func (m *MMIO) QueueMaxSize() uint32 { return m.load(regQueueNumMax) }

// SetQueueSize records the size (in descriptors) this driver is using for
// the selected queue.
func (m *MMIO) SetQueueSize(size uint32) { m.store(regQueueNum, size) }

// SetQueueAlign sets the selected queue's used-ring alignment.
func (m *MMIO) SetQueueAlign(align uint32) { m.store(regQueueAlign, align) }

// SetQueuePFN publishes the selected queue's buffer as a guest page frame
// number (physical address >> 12).
func (m *MMIO) SetQueuePFN(pfn uint32) { m.store(regQueuePFN, pfn) }

// SetQueueReady marks the selected queue ready (1) or not (0).
func (m *MMIO) SetQueueReady(ready uint32) { m.store(regQueueReady, ready) }

// NotifyQueue tells the device new buffers are available on queue.
func (m *MMIO) NotifyQueue(queue uint32) { m.store(regQueueNotify, queue) }

// InterruptStatus returns the pending-interrupt bitmask.
func (m *MMIO) InterruptStatus() uint32 { return m.load(regInterruptStatus) }

// InterruptAck acknowledges the bits in mask.
func (m *MMIO) InterruptAck(mask uint32) { m.store(regInterruptAck, mask) }

// ReadConfig32 reads a little-endian u32 from the device-specific
// configuration space at offset.
func (m *MMIO) ReadConfig32(offset uintptr) uint32 { return m.load(regConfig + offset) }

// ReadConfig64 reads a little-endian u64 from the device-specific
// configuration space at offset, as two adjacent 32-bit register reads.
func (m *MMIO) ReadConfig64(offset uintptr) uint64 {
	lo := uint64(m.load(regConfig + offset))
	hi := uint64(m.load(regConfig + offset + 4))
	return lo | hi<<32
}

// Negotiate runs the common status/feature-negotiation sequence:
// reset, ACKNOWLEDGE, DRIVER, accept no optional features,
// FEATURES_OK (verified by re-read), then the guest page size. Callers set
// up queues and finally OR in DRIVER_OK themselves, since queue count and
// layout differ by device variant.
func (m *MMIO) Negotiate() bool {
	m.SetStatus(0)
	m.SetStatus(StatusAcknowledge)
	m.SetStatus(StatusAcknowledge | StatusDriver)

	_ = m.DeviceFeatures()
	m.SetDriverFeatures(0)

	m.SetStatus(StatusAcknowledge | StatusDriver | StatusFeaturesOK)
	if m.Status()&StatusFeaturesOK == 0 {
		return false
	}

	m.SetGuestPageSize(4096)
	return true
}
