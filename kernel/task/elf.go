package task

import (
	"encoding/binary"
	"rvkernel/kernel"
	"rvkernel/kernel/mem"
	"rvkernel/kernel/mem/vmm"
)

// ELF64 constants needed to load a RISC-V 64-bit little-endian ET_EXEC
// image with PT_LOAD segments: no dynamic relocations,
// entry point honoured verbatim.
const (
	elfMagic   = 0x464c457f // "\x7fELF"
	ptLoad     = 1
	pfExec     = 1 << 0
	pfWrite    = 1 << 1
	pfRead     = 1 << 2
	guardPages = 1 // one guard page below the user stack
)

var (
	errBadELF = &kernel.Error{Module: "task", Message: "not a valid riscv64 ET_EXEC image"}
)

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type programHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const elfHeaderSize = 64
const phdrSize = 56

// LoadELF parses image as an ELF64 little-endian ET_EXEC binary, creates one
// framed Region per PT_LOAD segment with permissions derived from
// PF_R/W/X (plus U, since every loaded segment is user-accessible), places
// the user stack above the highest segment end with one guard page below
// it, and reserves a zero-length region at the data break for brk/sbrk
// growth. Returns the entry point.
func LoadELF(as *vmm.AddressSpace, image []byte) (uintptr, *kernel.Error) {
	if len(image) < elfHeaderSize {
		return 0, errBadELF
	}
	if binary.LittleEndian.Uint32(image[0:4]) != elfMagic {
		return 0, errBadELF
	}

	var hdr elfHeader
	hdr.Entry = binary.LittleEndian.Uint64(image[24:32])
	hdr.Phoff = binary.LittleEndian.Uint64(image[32:40])
	hdr.Phentsize = binary.LittleEndian.Uint16(image[54:56])
	hdr.Phnum = binary.LittleEndian.Uint16(image[56:58])

	var highestEnd uintptr
	for i := uint16(0); i < hdr.Phnum; i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		if off+phdrSize > uint64(len(image)) {
			return 0, errBadELF
		}
		ph := parsePhdr(image[off:])
		if ph.Type != ptLoad {
			continue
		}
		if ph.Offset+ph.Filesz > uint64(len(image)) {
			return 0, errBadELF
		}

		perm := vmm.PermUser
		if ph.Flags&pfRead != 0 {
			perm |= vmm.PermRead
		}
		if ph.Flags&pfWrite != 0 {
			perm |= vmm.PermWrite
		}
		if ph.Flags&pfExec != 0 {
			perm |= vmm.PermExec
		}

		fileBytes := image[ph.Offset : ph.Offset+ph.Filesz]
		_, err := as.PushRegion(uintptr(ph.Vaddr), mem.Size(ph.Memsz), vmm.KindFramed, perm, fileBytes)
		if err != nil {
			return 0, err
		}

		end := uintptr(ph.Vaddr + ph.Memsz)
		if end > highestEnd {
			highestEnd = end
		}
	}

	highestEnd = (highestEnd + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)

	// Zero-length data-break region, grown in place by brk/sbrk.
	as.HeapBase = highestEnd
	as.HeapTop = highestEnd

	stackBase := highestEnd + uintptr(guardPages)*uintptr(mem.PageSize)
	const userStackSize = mem.Size(64 * 1024)
	if _, err := as.PushRegion(stackBase, userStackSize, vmm.KindFramed, vmm.PermRead|vmm.PermWrite|vmm.PermUser, nil); err != nil {
		return 0, err
	}
	as.StackTop = stackBase + uintptr(userStackSize)

	return uintptr(hdr.Entry), nil
}

func parsePhdr(b []byte) programHeader {
	var ph programHeader
	ph.Type = binary.LittleEndian.Uint32(b[0:4])
	ph.Flags = binary.LittleEndian.Uint32(b[4:8])
	ph.Offset = binary.LittleEndian.Uint64(b[8:16])
	ph.Vaddr = binary.LittleEndian.Uint64(b[16:24])
	ph.Paddr = binary.LittleEndian.Uint64(b[24:32])
	ph.Filesz = binary.LittleEndian.Uint64(b[32:40])
	ph.Memsz = binary.LittleEndian.Uint64(b[40:48])
	ph.Align = binary.LittleEndian.Uint64(b[48:56])
	return ph
}
