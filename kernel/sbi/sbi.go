// Package sbi wraps the Supervisor Binary Interface calls the kernel needs
// from the M-mode firmware: timer programming, inter-processor interrupts,
// hart lifecycle management, the legacy console and system reset. Every call
// is a single ecall trap into M-mode; the assembly trampoline that performs
// the trap is hart-agnostic and lives outside the Go source tree.
package sbi

// ExtensionID identifies an SBI extension by its registered ID.
type ExtensionID int64

// Extension IDs for the SBI v2.0 base and the extensions this kernel relies
// on.
const (
	ExtBase  ExtensionID = 0x10
	ExtTimer ExtensionID = 0x54494D45 // "TIME"
	ExtIPI   ExtensionID = 0x735049   // "sPI"
	ExtHSM   ExtensionID = 0x48534D   // "HSM"
	ExtSRST  ExtensionID = 0x53525354 // "SRST"
	ExtLegacyConsolePutChar ExtensionID = 0x01
	ExtLegacyConsoleGetChar ExtensionID = 0x02
)

// HartState mirrors the states reported by sbi_hart_get_status.
type HartState uint64

const (
	HartStarted        HartState = 0
	HartStopped        HartState = 1
	HartStartPending   HartState = 2
	HartStopPending    HartState = 3
	HartSuspended      HartState = 4
	HartSuspendPending HartState = 5
	HartResumePending  HartState = 6
)

// ResetType / ResetReason select the shutdown flavor passed to srst.
const (
	ResetTypeShutdown   = 0
	ResetTypeColdReboot = 1
	ResetTypeWarmReboot = 2

	ResetReasonNone    = 0
	ResetReasonFailure = 1
)

// ecall performs the actual trap into M-mode. It is implemented in
// hart-specific assembly: a0-a5 carry the arguments, a6 the function ID and
// a7 the extension ID; on return a0 holds the SBI error code and a1 the
// value.
func ecall(ext ExtensionID, fid int64, arg0, arg1, arg2 uint64) (errorCode int64, value uint64)

// ProbeExtension reports whether the firmware implements the given
// extension; used during boot to decide whether the HSM-based bring-up path
// is available or whether the kernel must fall back to the legacy calls.
func ProbeExtension(ext ExtensionID) bool {
	errorCode, value := ecall(ExtBase, 3, uint64(ext), 0, 0)
	return errorCode == 0 && value != 0
}

// SetTimer schedules the next S-mode timer interrupt to fire at the given
// absolute mtime value and unmasks STIE as a side effect of the trap return.
func SetTimer(deadline uint64) {
	ecall(ExtTimer, 0, deadline, 0, 0)
}

// SendIPI raises a supervisor software interrupt on every hart whose bit is
// set in mask, starting at hart hartBase. The receiver clears SSIP itself;
// this call only guarantees that the interrupt has been posted, not that it
// has been observed.
func SendIPI(hartMask uint64, hartBase uint64) {
	ecall(ExtIPI, 0, hartMask, hartBase, 0)
}

// HartStart requests that the firmware bring hartID out of reset (or out of
// a stopped state) and begin execution at startAddr with a1 = opaque.
func HartStart(hartID uint64, startAddr uintptr, opaque uint64) int64 {
	errorCode, _ := ecall(ExtHSM, 0, hartID, uint64(startAddr), opaque)
	return errorCode
}

// HartStop parks the calling hart; it never returns on success.
func HartStop() int64 {
	errorCode, _ := ecall(ExtHSM, 1, 0, 0, 0)
	return errorCode
}

// HartGetStatus queries the firmware-tracked state of hartID.
func HartGetStatus(hartID uint64) HartState {
	_, value := ecall(ExtHSM, 2, hartID, 0, 0)
	return HartState(value)
}

// SystemReset asks the firmware to shut the machine down. Used both for a
// clean exit and from the panic-freeze path once every hart has been
// captured.
func SystemReset(resetType, reason uint64) {
	ecall(ExtSRST, 0, resetType, reason, 0)
}

// LegacyConsolePutChar writes a single byte via the deprecated legacy
// console extension. Used only as a fallback before the UART driver has been
// probed, or from the panic emergency-bypass path.
func LegacyConsolePutChar(c byte) {
	ecall(ExtLegacyConsolePutChar, 0, uint64(c), 0, 0)
}
