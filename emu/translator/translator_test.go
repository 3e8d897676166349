package translator

import (
	"testing"

	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/tlb"
)

func TestKSEGBypass(t *testing.T) {
	m := tlb.New(1)
	va := kseg | 0x1234
	pa, result := Translate(m, 0, tlb.D, va, Read, cpustate.Kernel, 0, false)
	if result != Success {
		t.Fatalf("result = %v, want Success", result)
	}
	if pa != 0x1234 {
		t.Fatalf("pa = %#x, want 0x1234", pa)
	}
}

func TestPhysicalModeBypass(t *testing.T) {
	m := tlb.New(1)
	va := physModeBase | 0x40
	pa, result := Translate(m, 0, tlb.D, va, Read, cpustate.Kernel, 0, true)
	if result != Success || pa != 0x40 {
		t.Fatalf("Translate physical-mode bypass = (%#x,%v), want (0x40,Success)", pa, result)
	}

	// Without physicalMode set, the same VA must miss the TLB instead.
	if _, result := Translate(m, 0, tlb.D, va, Read, cpustate.Kernel, 0, false); result != DTBMiss {
		t.Fatalf("result without physicalMode = %v, want DTBMiss", result)
	}
}

func TestTLBMissClassifiedByRealm(t *testing.T) {
	m := tlb.New(1)
	if _, result := Translate(m, 0, tlb.I, 0x1000, Execute, cpustate.Kernel, 0, false); result != ITBMiss {
		t.Fatalf("I-realm miss = %v, want ITBMiss", result)
	}
	if _, result := Translate(m, 0, tlb.D, 0x1000, Read, cpustate.Kernel, 0, false); result != DTBMiss {
		t.Fatalf("D-realm miss = %v, want DTBMiss", result)
	}
}

func TestPermissionFaults(t *testing.T) {
	m := tlb.New(1)
	page := uint64(1) << tlb.PageOffsetBits
	m.Insert(0, tlb.D, 0, page, tlb.PTE{Valid: true, KRE: true, PFN: 5})

	if _, result := Translate(m, 0, tlb.D, page, Write, cpustate.Kernel, 0, false); result != AccessViolation {
		t.Fatalf("write without KWE = %v, want AccessViolation", result)
	}
	if _, result := Translate(m, 0, tlb.D, page, Read, cpustate.User, 0, false); result != AccessViolation {
		t.Fatalf("user read without URE = %v, want AccessViolation", result)
	}
	if pa, result := Translate(m, 0, tlb.D, page, Read, cpustate.Kernel, 0, false); result != Success || pa != 5<<tlb.PageOffsetBits {
		t.Fatalf("kernel read = (%#x,%v), want (%#x,Success)", pa, result, 5<<tlb.PageOffsetBits)
	}
}

func TestInvalidPTE(t *testing.T) {
	m := tlb.New(1)
	page := uint64(2) << tlb.PageOffsetBits
	m.Insert(0, tlb.D, 0, page, tlb.PTE{Valid: false, KRE: true, PFN: 5})

	if _, result := Translate(m, 0, tlb.D, page, Read, cpustate.Kernel, 0, false); result != InvalidPTE {
		t.Fatalf("read of invalid PTE = %v, want InvalidPTE", result)
	}
}

func TestFaultOnOverride(t *testing.T) {
	m := tlb.New(1)
	page := uint64(4) << tlb.PageOffsetBits
	m.Insert(0, tlb.D, 0, page, tlb.PTE{Valid: true, KRE: true, KWE: true, FOW: true, PFN: 5})

	if _, result := Translate(m, 0, tlb.D, page, Write, cpustate.Kernel, 0, false); result != FaultOnWrite {
		t.Fatalf("write with KWE+FOW = %v, want FaultOnWrite", result)
	}
	if _, result := Translate(m, 0, tlb.D, page, Read, cpustate.Kernel, 0, false); result != Success {
		t.Fatalf("read with KWE+FOW = %v, want Success", result)
	}
}

func TestOffsetPreserved(t *testing.T) {
	m := tlb.New(1)
	page := uint64(3) << tlb.PageOffsetBits
	m.Insert(0, tlb.D, 0, page, tlb.PTE{Valid: true, KRE: true, PFN: 9})

	pa, result := Translate(m, 0, tlb.D, page+0x42, Read, cpustate.Kernel, 0, false)
	if result != Success {
		t.Fatalf("result = %v, want Success", result)
	}
	want := (uint64(9) << tlb.PageOffsetBits) + 0x42
	if pa != want {
		t.Fatalf("pa = %#x, want %#x", pa, want)
	}
}
