package mem

import "rvkernel/kernel"

// Memset sets size bytes at addr to value. Thin wrapper around the root
// kernel package's allocation-free implementation so callers throughout
// mem/pmm/vmm can write mem.Memset(addr, v, pageSizedValue) without juggling
// the Size/uintptr distinction at every call site.
func Memset(addr uintptr, value byte, size Size) {
	kernel.Memset(addr, value, uintptr(size))
}

// Memcopy copies size bytes from src to dst.
func Memcopy(dst, src uintptr, size Size) {
	kernel.Memcopy(src, dst, uintptr(size))
}
