package mem

// Sv39 paging geometry. A virtual address is carved into three 9-bit VPN
// fields plus a 12-bit page offset; VPN[2] selects the root-level entry.
const (
	// PointerShift is log2(unsafe.Sizeof(uintptr)) for riscv64.
	PointerShift = 3

	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PTEIndexBits is the width of each VPN field in a virtual address.
	PTEIndexBits = 9

	// PTLevels is the number of page-table levels in Sv39.
	PTLevels = 3

	// PTEsPerPage is the number of page-table entries that fit in one
	// PageSize page (512 for Sv39's 8-byte PTEs).
	PTEsPerPage = int(PageSize) / 8
)

// Fixed high virtual addresses, identical across every address space.
// TrampolineVA sits in the topmost page of the 64-bit VA window and
// TrapContextVA immediately below it, leaving room to grow without
// colliding with a well-behaved user stack.
const (
	// TrampolineVA is the fixed VA of the single kernel trampoline page
	// mapped R+X (no U) into every address space.
	TrampolineVA uintptr = 0xfffffffffffff000

	// TrapContextVA is the fixed VA, one page below TrampolineVA, of the
	// per-task trap-context page mapped R+W (no U).
	TrapContextVA uintptr = TrampolineVA - uintptr(PageSize)
)
