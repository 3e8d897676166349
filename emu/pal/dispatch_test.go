package pal

import (
	"testing"

	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/pipeline"
)

func newSlot() *pipeline.Slot {
	return &pipeline.Slot{Dispatcher: fault.New()}
}

func TestDispatchPALHWMfprWhami(t *testing.T) {
	svc, _ := newFixture(t, 3, 4)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeHWMfpr)
	slot.Function = uint32(IPRWhami)
	slot.Ra = 1

	svc.DispatchPAL(slot)

	if svc.State.Reg(1) != 3 {
		t.Fatalf("R1 = %d, want CPU id 3", svc.State.Reg(1))
	}
	if !slot.PalResult.HasReturnValue || slot.PalResult.ReturnReg != 1 {
		t.Fatalf("PalResult = %+v, want HasReturnValue with ReturnReg 1", slot.PalResult)
	}
}

func TestDispatchPALHWMfprWriteOnlyIPRRaisesOpcDec(t *testing.T) {
	svc, _ := newFixture(t, 0, 1)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeHWMfpr)
	slot.Function = uint32(IPRSIRR) // MTPR-only
	slot.Ra = 1

	svc.DispatchPAL(slot)

	ev, ok := svc.Dispatch.Next()
	if !ok || ev.Class != fault.OpcDec {
		t.Fatalf("want a queued OpcDec event, got ok=%v ev=%+v", ok, ev)
	}
	if slot.PalResult.DoesReturn {
		t.Fatalf("DoesReturn = true after an OPCDEC fault")
	}
}

func TestDispatchPALHWMtprASN(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeHWMtpr)
	slot.Function = uint32(IPRASN)
	slot.Rb = 2
	state.SetReg(2, 0x77)

	svc.DispatchPAL(slot)

	if state.ASN != 0x77 {
		t.Fatalf("ASN = %#x, want 0x77", state.ASN)
	}
	if !slot.PalResult.DoesReturn {
		t.Fatalf("DoesReturn = false after a plain MTPR")
	}
}

func TestDispatchPALHWMtprASTENReturnsOldValue(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	state.ASTEN = 0b0011
	slot := newSlot()
	slot.Opcode = uint32(OpcodeHWMtpr)
	slot.Function = uint32(IPRASTEN)
	slot.Rb = 16
	state.SetReg(16, 0b1111_0000) // keep nothing, set all four bits

	svc.DispatchPAL(slot)

	if svc.State.Reg(0) != 0b0011 {
		t.Fatalf("R0 = %#b, want prior ASTEN 0b0011", svc.State.Reg(0))
	}
	if state.ASTEN != 0b1111 {
		t.Fatalf("ASTEN = %#b after masked RMW, want 0b1111", state.ASTEN)
	}
}

func TestDispatchPALUnknownCallPalRaisesOpcDec(t *testing.T) {
	svc, _ := newFixture(t, 0, 1)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = 0xffff

	svc.DispatchPAL(slot)

	ev, ok := svc.Dispatch.Next()
	if !ok || ev.Class != fault.OpcDec {
		t.Fatalf("want a queued OpcDec event, got ok=%v ev=%+v", ok, ev)
	}
}

func TestDispatchPALHalt(t *testing.T) {
	svc, _ := newFixture(t, 0, 1)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalHalt)

	svc.DispatchPAL(slot)

	if !slot.PalResult.NotifyHalt {
		t.Fatalf("NotifyHalt = false after CALL_PAL HALT")
	}
}

func TestDispatchPALAmovrrExchangesRegister(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	state.SetReg(5, 111)
	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalAmovrr)
	slot.Rb = 5
	state.SetReg(17, 222)

	svc.DispatchPAL(slot)

	if state.Reg(5) != 222 {
		t.Fatalf("R5 = %d, want 222 (new value written)", state.Reg(5))
	}
	if svc.State.Reg(0) != 111 {
		t.Fatalf("R0 = %d, want prior value 111", svc.State.Reg(0))
	}
}

func TestDispatchPALQueueInsqhilRoundTrip(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	const header, entry = 0x1000, 0x2000
	state.SetReg(16, header)
	state.SetReg(17, entry)
	svc.Mem.Write64(header, header)
	svc.Mem.Write64(header+8, header)

	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalInsqhil)

	svc.DispatchPAL(slot)

	if !slot.PalResult.HasReturnValue {
		t.Fatalf("queue insert did not populate a return value")
	}
}

func TestDispatchPALSwpctxReadsHWPCBFromMemory(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	state.PS.CM = 0 // Kernel

	const pcbPA = 0x4000
	svc.Mem.Write64(pcbPA+hwpcbKSP, 0xaaaa)
	svc.Mem.Write64(pcbPA+hwpcbPTBR, 0xbbbb)
	svc.Mem.Write64(pcbPA+hwpcbASN, 7)

	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalSwpctx)
	state.SetReg(16, pcbPA)

	svc.DispatchPAL(slot)

	if state.KSP != 0xaaaa || state.PTBR != 0xbbbb || state.ASN != 7 {
		t.Fatalf("SWPCTX did not load HWPCB fields from memory: KSP=%#x PTBR=%#x ASN=%d", state.KSP, state.PTBR, state.ASN)
	}
}

func TestDispatchPALChmkEntersCallCEntryBeg(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	state.PS.CM = 0
	startPC := state.PC

	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalChmk)

	svc.DispatchPAL(slot)

	if state.PC == startPC {
		t.Fatalf("CHMK did not redirect PC into CALL_CENTRY_BEG")
	}
	if slot.PalResult.DoesReturn {
		t.Fatalf("CHMK must not be a returning CALL_PAL function")
	}
}

func TestDispatchPALCserveRoutesThroughConsole(t *testing.T) {
	svc, state := newFixture(t, 0, 1)
	state.SetReg(16, uint64(CservePutc))
	state.SetReg(17, 'A') // Cserve's r16 param, the char to write

	slot := newSlot()
	slot.Opcode = uint32(OpcodeCallPal)
	slot.Function = uint32(PalCserve)

	svc.DispatchPAL(slot)

	fc := svc.Console.(*fakeConsole)
	if len(fc.out) != 1 || fc.out[0] != 'A' {
		t.Fatalf("console output = %v, want ['A']", fc.out)
	}
}
