package vmm

import (
	"rvkernel/kernel/mem"
	"testing"
)

func TestVPNParts(t *testing.T) {
	va := uintptr(0x0000003F_C0201000)
	parts := vpnParts(va)
	if parts[2] != (uint64(va)>>12)&0x1FF {
		t.Errorf("unexpected level-0 VPN: %d", parts[2])
	}
}

func TestRegionContains(t *testing.T) {
	r := &Region{Start: 0x1000, End: 0x3000}
	if !r.Contains(0x1000) || !r.Contains(0x2fff) {
		t.Error("expected region to contain its boundary pages")
	}
	if r.Contains(0x3000) {
		t.Error("expected region end to be exclusive")
	}
	if r.Pages() != int(uint64(0x2000)/uint64(mem.PageSize)) {
		t.Errorf("unexpected page count: %d", r.Pages())
	}
}
