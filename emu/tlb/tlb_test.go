package tlb

import "testing"

const page1 = uint64(1) << PageOffsetBits

func TestInsertAndLookup(t *testing.T) {
	m := New(2)
	pte := PTE{Valid: true, KRE: true, KWE: true, PFN: 0x123}
	m.Insert(0, D, 5, page1, pte)

	e, hit := m.Lookup(0, D, page1, 5)
	if !hit {
		t.Fatalf("Lookup miss after Insert")
	}
	if e.PFN != 0x123 {
		t.Fatalf("PFN = %#x, want 0x123", e.PFN)
	}

	if _, hit := m.Lookup(0, D, page1, 6); hit {
		t.Fatalf("Lookup hit for wrong ASN")
	}
	if _, hit := m.Lookup(0, I, page1, 5); hit {
		t.Fatalf("Lookup hit in wrong realm")
	}
	if _, hit := m.Lookup(1, D, page1, 5); hit {
		t.Fatalf("Lookup hit on wrong CPU")
	}
}

func TestGlobalEntryMatchesAnyASN(t *testing.T) {
	m := New(1)
	pte := PTE{Valid: true, KRE: true, ASM: true, PFN: 0x7}
	m.Insert(0, I, 1, page1, pte)

	if _, hit := m.Lookup(0, I, page1, 99); !hit {
		t.Fatalf("global entry did not match unrelated ASN")
	}
}

func TestInvalidateEntry(t *testing.T) {
	m := New(1)
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 1})
	m.InvalidateEntry(0, D, page1, 1)
	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("entry survived InvalidateEntry")
	}
}

func TestInvalidateByASN(t *testing.T) {
	m := New(1)
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 1})
	m.Insert(0, D, 2, page1*2, PTE{Valid: true, PFN: 2})

	m.InvalidateByASN(0, D, 1)

	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("ASN 1 entry survived InvalidateByASN")
	}
	if _, hit := m.Lookup(0, D, page1*2, 2); !hit {
		t.Fatalf("ASN 2 entry incorrectly removed")
	}
}

func TestInvalidateNonASMKeepsGlobal(t *testing.T) {
	m := New(1)
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 1})
	m.Insert(0, D, 1, page1*2, PTE{Valid: true, ASM: true, PFN: 2})

	m.InvalidateNonASM(0)

	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("non-ASM entry survived InvalidateNonASM")
	}
	if _, hit := m.Lookup(0, D, page1*2, 1); !hit {
		t.Fatalf("ASM entry incorrectly cleared by InvalidateNonASM")
	}
}

func TestInvalidateAll(t *testing.T) {
	m := New(1)
	m.Insert(0, I, 1, page1, PTE{Valid: true, ASM: true, PFN: 1})
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 2})

	m.InvalidateAll(0)

	if _, hit := m.Lookup(0, I, page1, 1); hit {
		t.Fatalf("global I entry survived InvalidateAll")
	}
	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("D entry survived InvalidateAll")
	}
}

func TestTbisFamily(t *testing.T) {
	m := New(1)
	m.Insert(0, I, 1, page1, PTE{Valid: true, PFN: 1})
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 2})

	m.TbisdInvalidate(0, page1, 1)
	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("TbisdInvalidate left D entry in place")
	}
	if _, hit := m.Lookup(0, I, page1, 1); !hit {
		t.Fatalf("TbisdInvalidate incorrectly removed I entry")
	}

	m.TbisiInvalidate(0, page1, 1)
	if _, hit := m.Lookup(0, I, page1, 1); hit {
		t.Fatalf("TbisiInvalidate left I entry in place")
	}

	m.Insert(0, I, 1, page1, PTE{Valid: true, PFN: 1})
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 2})
	m.TbisInvalidate(0, page1, 1)
	if _, hit := m.Lookup(0, I, page1, 1); hit {
		t.Fatalf("TbisInvalidate left I entry in place")
	}
	if _, hit := m.Lookup(0, D, page1, 1); hit {
		t.Fatalf("TbisInvalidate left D entry in place")
	}
}

func TestTbchkProbe(t *testing.T) {
	m := New(1)
	if m.TbchkProbe(0, page1, 1) != 0 {
		t.Fatalf("TbchkProbe hit before insert")
	}
	m.Insert(0, D, 1, page1, PTE{Valid: true, PFN: 1})
	if m.TbchkProbe(0, page1, 1) != 1 {
		t.Fatalf("TbchkProbe miss after insert")
	}
	// Probe must not mutate state.
	if m.TbchkProbe(0, page1, 1) != 1 {
		t.Fatalf("TbchkProbe not idempotent")
	}
}

func TestPermMask(t *testing.T) {
	p := PTE{KRE: true, KWE: true, URE: true, UWE: false}
	want := uint8(1<<0 | 1<<1 | 1<<2)
	if got := p.PermMask(); got != want {
		t.Fatalf("PermMask = %04b, want %04b", got, want)
	}

	p2 := PTE{KRE: true, FOR: true}
	if got := p2.PermMask(); got != 1<<0 {
		t.Fatalf("PermMask with FOR set = %04b, want enable bit still set", got)
	}
	if got := p2.FaultMask(); got != FaultOnRead {
		t.Fatalf("FaultMask = %02b, want FaultOnRead", got)
	}
}
