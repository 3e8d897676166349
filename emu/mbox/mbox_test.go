package mbox

import (
	"math"
	"testing"

	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/memory"
	"github.com/rcornwell/ev6/emu/pipeline"
	"github.com/rcornwell/ev6/emu/reservation"
	"github.com/rcornwell/ev6/emu/tlb"
)

// identityMap installs a kernel-RW global TLB entry so va == pa for the
// low range these tests use, letting MBox tests exercise translation
// without constructing a full page-table walk.
func identityMap(tlbMgr *tlb.Manager, cpu int, va uint64) {
	aligned := va &^ ((uint64(1) << tlb.PageOffsetBits) - 1)
	pfn := aligned >> tlb.PageOffsetBits
	tlbMgr.Insert(cpu, tlb.D, 0, va, tlb.PTE{
		Valid: true, KRE: true, KWE: true, URE: true, UWE: true, ASM: true, PFN: pfn,
	})
}

func newFixture(t *testing.T) (*MBox, *memory.GuestMemory, *tlb.Manager, *reservation.Manager, *cpustate.State) {
	t.Helper()
	mem := memory.New(65536)
	tlbMgr := tlb.New(2)
	resv := reservation.New(2)
	state := cpustate.New(0)
	b := New(0, mem, tlbMgr, resv)
	return b, mem, tlbMgr, resv, state
}

// Scenario A: LDQ aligned.
func TestScenarioA_LDQAligned(t *testing.T) {
	b, mem, tlbMgr, _, state := newFixture(t)
	va := uint64(0x2000)
	identityMap(tlbMgr, 0, va)
	mem.WritePA(va, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.Load(slot, state, va, w64, false, false, 1)

	if slot.FaultPending {
		t.Fatalf("unexpected fault: %+v", slot)
	}
	if slot.Payload != 0x0807060504030201 {
		t.Fatalf("Payload = %#x, want 0x0807060504030201", slot.Payload)
	}
	if !slot.NeedsWriteback || !slot.WriteRa {
		t.Fatalf("expected writeback to Ra")
	}
}

// Scenario B: LDL unaligned.
func TestScenarioB_LDLUnaligned(t *testing.T) {
	b, _, _, _, state := newFixture(t)
	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.Load(slot, state, 1, w32, true, false, 1)

	if !slot.FaultPending {
		t.Fatalf("expected Unalign fault")
	}
	if slot.TrapCode != fault.Unalign {
		t.Fatalf("TrapCode = %v, want Unalign", slot.TrapCode)
	}
	if slot.FaultVA != 1 {
		t.Fatalf("FaultVA = %#x, want 1", slot.FaultVA)
	}
	if slot.NeedsWriteback {
		t.Fatalf("NeedsWriteback true on faulted load")
	}
}

// Scenario C: LL/SC success on a single CPU.
func TestScenarioC_LLSCSuccessSingleCPU(t *testing.T) {
	b, mem, tlbMgr, _, state := newFixture(t)
	va := uint64(0x3000)
	identityMap(tlbMgr, 0, va)

	loadSlot := &pipeline.Slot{Dispatcher: fault.New()}
	b.LoadLocked(loadSlot, state, va, w32, 2)
	if loadSlot.FaultPending {
		t.Fatalf("LoadLocked faulted: %+v", loadSlot)
	}

	storeSlot := &pipeline.Slot{Dispatcher: fault.New()}
	result := b.StoreConditional(storeSlot, state, va, w32, 0xDEADBEEF)
	if result != 1 {
		t.Fatalf("StoreConditional result = %d, want 1", result)
	}

	got, status := mem.Read32(va)
	if status != memory.Ok || got != 0xDEADBEEF {
		t.Fatalf("memory = %#x, %v, want 0xDEADBEEF, Ok", got, status)
	}
}

// Scenario D: LL/SC broken by a peer CPU's store to the same line.
func TestScenarioD_LLSCBrokenByPeer(t *testing.T) {
	b0, mem, tlbMgr, resv, state0 := newFixture(t)
	va := uint64(0x4000)
	identityMap(tlbMgr, 0, va)
	identityMap(tlbMgr, 1, va)

	loadSlot := &pipeline.Slot{Dispatcher: fault.New()}
	b0.LoadLocked(loadSlot, state0, va, w64, 2)
	if loadSlot.FaultPending {
		t.Fatalf("LoadLocked faulted: %+v", loadSlot)
	}

	// CPU 1 performs an ordinary store to the same line.
	b1 := New(1, mem, tlbMgr, resv)
	state1 := cpustate.New(1)
	peerStore := &pipeline.Slot{Dispatcher: fault.New()}
	b1.Store(peerStore, state1, va, w64, 0x1111111111111111)
	if peerStore.FaultPending {
		t.Fatalf("peer store faulted: %+v", peerStore)
	}

	storeSlot := &pipeline.Slot{Dispatcher: fault.New()}
	result := b0.StoreConditional(storeSlot, state0, va, w64, 0x2222222222222222)
	if result != 0 {
		t.Fatalf("StoreConditional result = %d, want 0 (reservation broken by peer)", result)
	}

	got, _ := mem.Read64(va)
	if got != 0x1111111111111111 {
		t.Fatalf("memory = %#x, want peer's write to remain unchanged", got)
	}
}

func TestLoadQUnalignedForcesAlignment(t *testing.T) {
	b, mem, tlbMgr, _, state := newFixture(t)
	page := uint64(0x5000)
	identityMap(tlbMgr, 0, page)
	mem.WritePA(page, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.LoadUnaligned(slot, state, page+3, 1)

	if slot.FaultPending {
		t.Fatalf("LDQ_U faulted on misaligned VA: %+v", slot)
	}
	if slot.Payload != 0x0807060504030201 {
		t.Fatalf("Payload = %#x, want full aligned quadword", slot.Payload)
	}
}

func TestLoadGWritesFaOnly(t *testing.T) {
	b, mem, tlbMgr, _, state := newFixture(t)
	va := uint64(0x7000)
	identityMap(tlbMgr, 0, va)
	mem.WritePA(va, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.LoadG(slot, state, va, 2)

	if slot.FaultPending {
		t.Fatalf("LoadG faulted: %+v", slot)
	}
	if !slot.WriteFa || slot.WriteRa {
		t.Fatalf("LoadG WriteFa=%v WriteRa=%v, want exclusively WriteFa", slot.WriteFa, slot.WriteRa)
	}
}

func TestLoadSWritesFaOnlyAndWidens(t *testing.T) {
	b, mem, tlbMgr, _, state := newFixture(t)
	va := uint64(0x7100)
	identityMap(tlbMgr, 0, va)

	bits := math.Float32bits(1.5)
	buf := make([]byte, 4)
	for i := 0; i < 4; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	mem.WritePA(va, buf)

	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.LoadS(slot, state, va, 2)

	if slot.FaultPending {
		t.Fatalf("LoadS faulted: %+v", slot)
	}
	if !slot.WriteFa || slot.WriteRa {
		t.Fatalf("LoadS WriteFa=%v WriteRa=%v, want exclusively WriteFa", slot.WriteFa, slot.WriteRa)
	}
	if got := math.Float64frombits(slot.Payload); got != 1.5 {
		t.Fatalf("LoadS widened value = %v, want 1.5", got)
	}
}

func TestStoreGAndStoreSNoWriteback(t *testing.T) {
	b, _, tlbMgr, _, state := newFixture(t)
	va := uint64(0x7200)
	identityMap(tlbMgr, 0, va)

	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.StoreG(slot, state, va, 0x1122334455667788)
	if slot.WriteFa || slot.WriteRa || slot.NeedsWriteback {
		t.Fatalf("StoreG set a writeback flag: %+v", slot)
	}

	slot2 := &pipeline.Slot{Dispatcher: fault.New()}
	b.StoreS(slot2, state, va, math.Float64bits(2.0))
	if slot2.WriteFa || slot2.WriteRa || slot2.NeedsWriteback {
		t.Fatalf("StoreS set a writeback flag: %+v", slot2)
	}
}

func TestLoadFStoreFRoundTrip(t *testing.T) {
	b, _, tlbMgr, _, state := newFixture(t)
	va := uint64(0x7300)
	identityMap(tlbMgr, 0, va)

	storeSlot := &pipeline.Slot{Dispatcher: fault.New()}
	b.StoreF(storeSlot, state, va, math.Float64bits(4.0))
	if storeSlot.FaultPending {
		t.Fatalf("StoreF faulted: %+v", storeSlot)
	}

	loadSlot := &pipeline.Slot{Dispatcher: fault.New()}
	b.LoadF(loadSlot, state, va, 1)
	if loadSlot.FaultPending {
		t.Fatalf("LoadF faulted: %+v", loadSlot)
	}
	if !loadSlot.WriteFa || loadSlot.WriteRa {
		t.Fatalf("LoadF WriteFa=%v WriteRa=%v, want exclusively WriteFa", loadSlot.WriteFa, loadSlot.WriteRa)
	}
	if got := math.Float64frombits(loadSlot.Payload); got != 4.0 {
		t.Fatalf("LoadF round-trip = %v, want 4.0", got)
	}
}

func TestStoreBreaksReservationOnSameLine(t *testing.T) {
	b, _, tlbMgr, resv, state := newFixture(t)
	va := uint64(0x6000)
	identityMap(tlbMgr, 0, va)

	resv.SetReservation(0, va)
	slot := &pipeline.Slot{Dispatcher: fault.New()}
	b.Store(slot, state, va, w32, 0x99)

	if resv.Holds(0) {
		t.Fatalf("reservation survived a store to the same line")
	}
}
