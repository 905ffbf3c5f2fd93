package vmm

import (
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
)

var errBadAddress = &kernel.Error{Module: "vmm", Message: "user address not mapped or permission mismatch"}

// CopyIn copies len(dst) bytes starting at user virtual address va into dst,
// walking the address space page by page since va's range need not be
// backed by physically contiguous frames. This is the core's "translated
// byte buffer": syscalls use it instead of ever dereferencing a user
// pointer directly.
func (as *AddressSpace) CopyIn(dst []byte, va uintptr) *kernel.Error {
	return as.copyPages(dst, va, false)
}

// CopyOut copies src into user virtual address va, page by page.
func (as *AddressSpace) CopyOut(va uintptr, src []byte) *kernel.Error {
	return as.copyPages(src, va, true)
}

func (as *AddressSpace) copyPages(buf []byte, va uintptr, toUser bool) *kernel.Error {
	remaining := buf
	cur := va
	for len(remaining) > 0 {
		phys, err := as.Translate(cur)
		if err != nil {
			return errBadAddress
		}

		offsetInPage := cur & uintptr(mem.PageSize-1)
		chunk := uintptr(mem.PageSize) - offsetInPage
		if chunk > uintptr(len(remaining)) {
			chunk = uintptr(len(remaining))
		}

		pageVA := physToVirt(phys)
		if toUser {
			copy(pageBytes(pageVA)[:chunk], remaining[:chunk])
		} else {
			copy(remaining[:chunk], pageBytes(pageVA)[:chunk])
		}

		remaining = remaining[chunk:]
		cur += chunk
	}
	return nil
}

// CopyInString reads a NUL-terminated string starting at va, up to maxLen
// bytes, used for path arguments.
func (as *AddressSpace) CopyInString(va uintptr, maxLen int) (string, *kernel.Error) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for len(buf) < maxLen {
		if err := as.CopyIn(one, va+uintptr(len(buf))); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, one[0])
	}
	return string(buf), nil
}
