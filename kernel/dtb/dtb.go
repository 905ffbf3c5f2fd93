// Package dtb parses the flattened device tree blob handed to the kernel by
// the bootloader in a1 into a BoardInfo the rest of the kernel can consume
// without ever touching the raw FDT byte stream again.
//
// Only the handful of properties the core actually needs are extracted:
// the memory node, the hart IDs and timebase-frequency under /cpus, the
// MMIO base of the uart, plic, clint and any virtio-mmio nodes, and the
// initrd location under /chosen. Everything else in the tree is walked
// over and discarded.
package dtb

import (
	"encoding/binary"
	"rvkernel/kernel"
	"strings"
)

const (
	magicFDT      = 0xd00dfeed
	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

type header struct {
	Magic           uint32
	TotalSize       uint32
	OffDTStruct     uint32
	OffDTStrings    uint32
	OffMemRsvMap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDTStrings   uint32
	SizeDTStruct    uint32
}

// MemRegion describes one physically contiguous, available DRAM extent.
type MemRegion struct {
	Base uint64
	Len  uint64
}

// HartDesc describes one hart entry under /cpus.
type HartDesc struct {
	ID           uint64
	TimebaseFreq uint64
}

// MMIORegion describes a single MMIO window, e.g. for the UART, PLIC, CLINT
// or a virtio-mmio transport.
type MMIORegion struct {
	Base uint64
	Len  uint64
}

// BoardInfo is the parsed, immutable board description the rest of the
// kernel initializes itself from.
type BoardInfo struct {
	Memory       []MemRegion
	Harts        []HartDesc
	UART         MMIORegion
	PLIC         MMIORegion
	CLINT        MMIORegion
	VirtioMMIO   []MMIORegion

	// Initrd is the [start, start+len) physical range of the boot
	// payload named by /chosen's linux,initrd-start/linux,initrd-end
	// properties, zero if the tree carries none.
	Initrd MemRegion
}

var (
	errBadMagic = &kernel.Error{Module: "dtb", Message: "device tree blob has an invalid magic number"}
)

// Parse walks the flattened device tree held in blob and returns the
// extracted BoardInfo.
func Parse(blob []byte) (*BoardInfo, *kernel.Error) {
	if len(blob) < 40 {
		return nil, errBadMagic
	}

	var hdr header
	hdr.Magic = binary.BigEndian.Uint32(blob[0:4])
	if hdr.Magic != magicFDT {
		return nil, errBadMagic
	}
	hdr.OffDTStruct = binary.BigEndian.Uint32(blob[8:12])
	hdr.OffDTStrings = binary.BigEndian.Uint32(blob[12:16])

	strBlock := blob[hdr.OffDTStrings:]
	structBlock := blob[hdr.OffDTStruct:]

	info := &BoardInfo{}
	w := &walker{blob: structBlock, strings: strBlock, info: info}
	w.run()
	return info, nil
}

type walker struct {
	blob     []byte
	strings  []byte
	off      uint32
	path     []string
	addrCells, sizeCells uint32
	timebase uint64
	info     *BoardInfo
}

func (w *walker) run() {
	w.addrCells, w.sizeCells = 2, 2 // root defaults
	for {
		tok := w.readU32()
		switch tok {
		case tokenBeginNode:
			name := w.readString()
			w.path = append(w.path, name)
			w.visitNode(name)
		case tokenEndNode:
			if len(w.path) > 0 {
				w.path = w.path[:len(w.path)-1]
			}
		case tokenProp:
			w.skipProp()
		case tokenNop:
		case tokenEnd:
			return
		default:
			return
		}
		if int(w.off) >= len(w.blob) {
			return
		}
	}
}

func (w *walker) curPath() string {
	return "/" + strings.Join(w.path, "/")
}

func (w *walker) visitNode(name string) {
	path := w.curPath()
	switch {
	case strings.HasPrefix(name, "memory@") || name == "memory":
		w.readMemoryNode()
	case name == "cpus":
		// Nothing is recorded for /cpus itself, and its
		// #address-cells/#size-cells are not read: readCPUNode takes
		// the hart ID from the last cell of each cpu's reg.
	case strings.HasPrefix(name, "cpu@"):
		w.readCPUNode()
	case strings.HasPrefix(name, "uart@") || strings.Contains(path, "uart"):
		w.info.UART = w.readReg()
	case strings.HasPrefix(name, "plic@"):
		w.info.PLIC = w.readReg()
	case strings.HasPrefix(name, "clint@"):
		w.info.CLINT = w.readReg()
	case strings.HasPrefix(name, "virtio_mmio@"):
		w.info.VirtioMMIO = append(w.info.VirtioMMIO, w.readReg())
	case name == "chosen":
		w.readChosenNode()
	}
}

// readChosenNode pulls the initrd location out of /chosen's
// linux,initrd-start/linux,initrd-end properties, the same convention the
// Linux riscv64 boot protocol uses, so this core locates its init payload
// without needing a bootloader-specific handoff.
func (w *walker) readChosenNode() {
	var start, end uint64
	for {
		tok := peekU32(w.blob, w.off)
		if tok != tokenProp {
			break
		}
		name, data := w.peekProp()
		switch name {
		case "linux,initrd-start":
			start = decodeCells(data)
		case "linux,initrd-end":
			end = decodeCells(data)
		}
		w.skipProp()
	}
	if end > start {
		w.info.Initrd = MemRegion{Base: start, Len: end - start}
	}
}

// decodeCells interprets data as a big-endian integer spanning however many
// 32-bit cells it contains (1 or 2, in practice), matching decodeReg's own
// cell-counting convention.
func decodeCells(data []byte) uint64 {
	var v uint64
	for off := 0; off+4 <= len(data); off += 4 {
		v = (v << 32) | uint64(binary.BigEndian.Uint32(data[off:off+4]))
	}
	return v
}

// readMemoryNode and readCPUNode consume only the properties they need and
// rely on run()'s main loop to keep reading tokens for the rest of the node;
// they peek at the upcoming property stream directly instead of recursing.
func (w *walker) readMemoryNode() {
	saved := w.off
	for {
		tok := peekU32(w.blob, w.off)
		if tok != tokenProp {
			break
		}
		name, data := w.peekProp()
		if name == "reg" {
			w.info.Memory = append(w.info.Memory, decodeReg(data, w.addrCells, w.sizeCells)...)
		}
		w.skipProp()
	}
	_ = saved
}

func (w *walker) readCPUNode() {
	var id uint64
	for {
		tok := peekU32(w.blob, w.off)
		if tok != tokenProp {
			break
		}
		name, data := w.peekProp()
		switch name {
		case "reg":
			if len(data) >= 4 {
				id = uint64(binary.BigEndian.Uint32(data[len(data)-4:]))
			}
		case "timebase-frequency":
			if len(data) >= 4 {
				w.timebase = uint64(binary.BigEndian.Uint32(data[len(data)-4:]))
			}
		}
		w.skipProp()
	}
	w.info.Harts = append(w.info.Harts, HartDesc{ID: id, TimebaseFreq: w.timebase})
}

func (w *walker) readReg() MMIORegion {
	for {
		tok := peekU32(w.blob, w.off)
		if tok != tokenProp {
			break
		}
		name, data := w.peekProp()
		if name == "reg" {
			regions := decodeReg(data, w.addrCells, w.sizeCells)
			w.skipProp()
			if len(regions) > 0 {
				return MMIORegion{Base: regions[0].Base, Len: regions[0].Len}
			}
			return MMIORegion{}
		}
		w.skipProp()
	}
	return MMIORegion{}
}

func decodeReg(data []byte, addrCells, sizeCells uint32) []MemRegion {
	cellBytes := int(addrCells+sizeCells) * 4
	var out []MemRegion
	for off := 0; off+cellBytes <= len(data); off += cellBytes {
		var base, length uint64
		p := off
		for i := uint32(0); i < addrCells; i++ {
			base = (base << 32) | uint64(binary.BigEndian.Uint32(data[p:p+4]))
			p += 4
		}
		for i := uint32(0); i < sizeCells; i++ {
			length = (length << 32) | uint64(binary.BigEndian.Uint32(data[p:p+4]))
			p += 4
		}
		out = append(out, MemRegion{Base: base, Len: length})
	}
	return out
}

func (w *walker) readU32() uint32 {
	v := peekU32(w.blob, w.off)
	w.off += 4
	return v
}

func peekU32(blob []byte, off uint32) uint32 {
	if int(off)+4 > len(blob) {
		return tokenEnd
	}
	return binary.BigEndian.Uint32(blob[off : off+4])
}

func (w *walker) readString() string {
	start := w.off
	for int(w.off) < len(w.blob) && w.blob[w.off] != 0 {
		w.off++
	}
	s := string(w.blob[start:w.off])
	w.off++
	w.off = align4(w.off)
	return s
}

// peekProp decodes the property header at the current offset without
// advancing past it; skipProp is responsible for the actual advance.
func (w *walker) peekProp() (name string, data []byte) {
	off := w.off + 4 // skip the FDT_PROP token
	length := binary.BigEndian.Uint32(w.blob[off : off+4])
	nameOff := binary.BigEndian.Uint32(w.blob[off+4 : off+8])
	dataStart := off + 8
	name = cString(w.strings[nameOff:])
	data = w.blob[dataStart : dataStart+length]
	return name, data
}

func (w *walker) skipProp() {
	off := w.off + 4
	length := binary.BigEndian.Uint32(w.blob[off : off+4])
	dataStart := off + 8
	w.off = align4(dataStart + length)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func align4(off uint32) uint32 {
	return (off + 3) &^ 3
}
