package cpu

import "testing"

func TestSatpToken(t *testing.T) {
	specs := []struct {
		rootPPN uint64
		exp     uint64
	}{
		{0, uint64(SV39Mode) << 60},
		{0x1234, (uint64(SV39Mode) << 60) | 0x1234},
	}

	for specIndex, spec := range specs {
		if got := SatpToken(spec.rootPPN); got != spec.exp {
			t.Errorf("[spec %d] expected token %x; got %x", specIndex, spec.exp, got)
		}
	}
}
