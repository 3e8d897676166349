/*
 * EV6 - PAL service: CALL_PAL dispatch, HW_MFPR/HW_MTPR, mode transitions.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package pal implements the Privileged Architecture Library: every
// CALL_PAL function, every HW_MFPR/HW_MTPR internal-processor-register
// access, PAL mode transitions, and CSERVE console/environment
// services. No other component may set PAL mode or mutate PC bit 0.
package pal

import (
	"github.com/rcornwell/ev6/emu/console"
	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/ipi"
	"github.com/rcornwell/ev6/emu/membarrier"
	"github.com/rcornwell/ev6/emu/memory"
	"github.com/rcornwell/ev6/emu/pipeline"
	"github.com/rcornwell/ev6/emu/reservation"
	"github.com/rcornwell/ev6/emu/tlb"
	"github.com/rcornwell/ev6/emu/translator"
)

// IPR names an internal processor register accessed through HW_MFPR/
// HW_MTPR. Some values are MTPR-only (TLB maintenance, IPIR): HWMfpr
// reports ok=false for them and DispatchPAL raises OPCDEC, matching the
// architecture's asymmetric set.
type IPR int

const (
	IPRWhami IPR = iota
	IPRIPL
	IPRASN
	IPRPCBB
	IPRPTBR
	IPRSCBB
	IPRSISR
	IPRVPTB
	IPRESP
	IPRSSP
	IPRUSP
	IPRFEN
	IPRMCES
	IPRPRBR
	IPRASTEN
	IPRASTSR
	IPRTBCHK // MFPR-only
	IPRDATFX
	IPRPERFMON
	IPRSIRR    // MTPR-only
	IPRTBIA    // MTPR-only
	IPRTBIAP   // MTPR-only
	IPRTBIS    // MTPR-only
	IPRTBISD   // MTPR-only
	IPRTBISI   // MTPR-only
	IPRIPIR    // MTPR-only
	IPRITBTag     // MTPR-only, stages a TB_FILL tag half
	IPRITBPTETemp // MTPR-only, stages a TB_FILL PTE half and commits on completion
	IPRDTBTag     // MTPR-only
	IPRDTBPTETemp // MTPR-only
)

// ProbeOutcome is the R0 value PROBER/PROBEW report.
type ProbeOutcome uint64

const (
	ProbeOk ProbeOutcome = iota
	ProbeNoMapping
	ProbeNoPermission
)

// Service is one CPU's PAL service: the authoritative owner of that
// CPU's mode transitions, bound to the shared services every PAL
// operation may touch.
type Service struct {
	CPU   int
	State *cpustate.State

	Mem       *memory.GuestMemory
	TLB       *tlb.Manager
	Resv      *reservation.Manager
	Barrier   *membarrier.Coordinator
	IPI       *ipi.Manager
	ASTRouter *ipi.Router
	Vectors   *VectorTable
	Env       *EnvStore
	Console   console.Device
	Dispatch  *fault.Dispatcher

	// ActiveCPUs lists every CPU id participating in this system,
	// consulted by barrier initiation and IPI broadcast.
	ActiveCPUs []int

	idle bool
}

// New constructs a Service for one CPU, wired to the shared services
// the composition root owns.
func New(cpu int, state *cpustate.State, mem *memory.GuestMemory, tlbMgr *tlb.Manager, resv *reservation.Manager, barrier *membarrier.Coordinator, ipiMgr *ipi.Manager, astRouter *ipi.Router, vectors *VectorTable, env *EnvStore, con console.Device, dispatch *fault.Dispatcher, activeCPUs []int) *Service {
	return &Service{
		CPU: cpu, State: state, Mem: mem, TLB: tlbMgr, Resv: resv,
		Barrier: barrier, IPI: ipiMgr, ASTRouter: astRouter, Vectors: vectors, Env: env,
		Console: con, Dispatch: dispatch, ActiveCPUs: activeCPUs,
	}
}

// setPalMode is the only path permitted to mutate PAL mode and PC bit 0.
func (s *Service) setPalMode(enable bool) {
	if enable {
		s.State.PC |= 1
	} else {
		s.State.PC &^= 1
	}
}

// exitPAL clears PAL mode, used by RTI/RFE.
func (s *Service) exitPAL() {
	s.setPalMode(false)
}

func canonicalizePalPC(pc uint64) uint64  { return pc | 1 }
func canonicalizeUserPC(pc uint64) uint64 { return pc &^ 1 }

// PalArgs bundles the R16..R21 values enterPALVector writes.
type PalArgs struct {
	A0, A1, A2, A3, A4, A5 uint64
}

// EnterPALVector implements §4.2.2: resolve vecID, save exceptionPC,
// force PAL mode and CM=0, apply IPL if the vector modifies it, load
// R16..R21, and redirect PC to the canonicalized entry. A missing
// vector escalates to MachineCheck instead of silently doing nothing.
func (s *Service) EnterPALVector(slot *pipeline.Slot, vecID fault.PalVectorID, exceptionPC uint64, args PalArgs) {
	entry, v, ok := s.Vectors.Lookup(vecID)
	if !ok {
		entry, v, ok = s.Vectors.Lookup(fault.VecMCHK)
		if !ok {
			// No MCHK vector registered either: nothing to enter. The
			// caller's dispatcher still holds the original event.
			return
		}
	}

	s.State.ExcAddr = exceptionPC
	s.State.PS.CM = cpustate.Kernel
	s.setPalMode(true)

	if v.Flags&ModifiesIPL != 0 {
		s.State.PS.IPL = v.TargetIPL
	}

	s.State.SetReg(16, args.A0)
	s.State.SetReg(17, args.A1)
	s.State.SetReg(18, args.A2)
	s.State.SetReg(19, args.A3)
	s.State.SetReg(20, args.A4)
	s.State.SetReg(21, args.A5)

	s.State.PC = canonicalizePalPC(entry)
	slot.PalResult.PCModified = true
	slot.PalResult.NewPC = s.State.PC
	slot.PalResult.DoesReturn = false
}

// HWMfpr implements every MFPR_* handler named in §4.2.4: return the
// corresponding IPR zero-extended in R0. ok is false for a write-only
// IPR probed the wrong way.
func (s *Service) HWMfpr(r IPR) (value uint64, ok bool) {
	switch r {
	case IPRWhami:
		return uint64(s.CPU), true
	case IPRIPL:
		return uint64(s.State.PS.IPL), true
	case IPRASN:
		return s.State.ASN, true
	case IPRPCBB:
		return s.State.PCBB, true
	case IPRPTBR:
		return s.State.PTBR, true
	case IPRSCBB:
		return s.State.SCBB, true
	case IPRSISR:
		return s.State.SISR, true
	case IPRVPTB:
		return s.State.VPTB, true
	case IPRESP:
		return s.State.ESP, true
	case IPRSSP:
		return s.State.SSP, true
	case IPRUSP:
		return s.State.USP, true
	case IPRFEN:
		if s.State.FEN {
			return 1, true
		}
		return 0, true
	case IPRMCES:
		return s.State.MCES, true
	case IPRPRBR:
		return s.State.PRBR, true
	case IPRASTEN:
		return uint64(s.State.ASTEN), true
	case IPRASTSR:
		return uint64(s.State.ASTSR), true
	case IPRDATFX:
		return s.State.DATFX, true
	case IPRPERFMON:
		return s.State.PERFMON, true
	default:
		return 0, false
	}
}

// TBCHKProbe implements MFPR_TBCHK: probes the DTB for (va, active ASN)
// without side effects.
func (s *Service) TBCHKProbe(va uint64) uint64 {
	return s.TLB.TbchkProbe(s.CPU, va, s.State.ASN)
}

// maskedRMW implements the ASTEN/ASTSR keep/set encoding common to both
// IPRs: R16 bits[3:0] are a keep-mask, bits[7:4] a set-mask; new = (old
// & keep) | set; old is returned.
func maskedRMW(old uint8, r16 uint64) (newVal, oldVal uint8) {
	keep := uint8(r16 & 0xf)
	set := uint8((r16 >> 4) & 0xf)
	return (old & keep) | set, old
}

// HWMtpr implements every MTPR_* handler named in §4.2.4 except the
// masked-RMW pair (ASTEN/ASTSR have their own entry point below because
// they return a value, unlike a plain MTPR) and TLB maintenance (see
// the TBIA/TBIAP/TBIS/TBISD/TBISI methods in callpal.go).
func (s *Service) HWMtpr(r IPR, value uint64) {
	switch r {
	case IPRASN:
		s.State.ASN = value
	case IPRPCBB:
		s.State.PCBB = value
	case IPRPTBR:
		s.State.PTBR = value
		s.TLB.InvalidateNonASM(s.CPU)
	case IPRIPL:
		lowered := value < uint64(s.State.PS.IPL)
		s.State.PS.IPL = uint8(value)
		if lowered {
			s.Dispatch.ClearPendingEvents()
		}
		s.recomputeASTPending()
	case IPRSCBB:
		s.State.SCBB = value
	case IPRSISR:
		s.State.SISR = value
	case IPRVPTB:
		s.State.VPTB = value
	case IPRESP:
		s.State.ESP = value
	case IPRSSP:
		s.State.SSP = value
	case IPRUSP:
		s.State.USP = value
	case IPRFEN:
		s.State.FEN = value != 0
	case IPRMCES:
		s.State.WriteMCES(value)
	case IPRPRBR:
		s.State.PRBR = value
	case IPRDATFX:
		s.State.DATFX = value
	case IPRPERFMON:
		s.State.PERFMON = value
	case IPRSIRR:
		level := value & 0xf
		if level >= 1 && level <= 15 {
			s.State.SISR |= 1 << level
		}
	case IPRITBTag:
		s.State.StageITBTag(value)
	case IPRITBPTETemp:
		s.State.StageITBPTE(value)
		if tag, pte, ok := s.State.CommitITB(); ok {
			s.TLB.Insert(s.CPU, tlb.I, s.State.ASN, tag, decodeStagedPTE(pte))
		}
	case IPRDTBTag:
		s.State.StageDTBTag(value)
	case IPRDTBPTETemp:
		s.State.StageDTBPTE(value)
		if tag, pte, ok := s.State.CommitDTB(); ok {
			s.TLB.Insert(s.CPU, tlb.D, s.State.ASN, tag, decodeStagedPTE(pte))
		}
	}
}

// Staged PTE bit layout within the PTE-temp half of a TB_FILL: the
// access-enable and fault-on-* bits occupy the low byte, ASM and the
// page-size class follow, and the PFN occupies the upper 32 bits —
// mirroring the ITB_PTE/DTB_PTE IPR's field layout closely enough for
// this core's single-granularity TLB.
const (
	stagedPTEKRE uint64 = 1 << 0
	stagedPTEKWE uint64 = 1 << 1
	stagedPTEURE uint64 = 1 << 2
	stagedPTEUWE uint64 = 1 << 3
	stagedPTEFOR uint64 = 1 << 4
	stagedPTEFOW uint64 = 1 << 5
	stagedPTEFOE uint64 = 1 << 6
	stagedPTEASM uint64 = 1 << 7
)

const (
	stagedPTESCShift = 8
	stagedPTESCMask  = 0x3
	stagedPTEPFNShift = 32
)

// decodeStagedPTE unpacks a committed TB_FILL PTE-temp value into the
// tlb.PTE TB_FILL installs. The architecture only reaches TB_FILL with a
// page table entry software has already validated, so Valid is always
// set here.
func decodeStagedPTE(pteTemp uint64) tlb.PTE {
	return tlb.PTE{
		Valid: true,
		KRE:   pteTemp&stagedPTEKRE != 0,
		KWE:   pteTemp&stagedPTEKWE != 0,
		URE:   pteTemp&stagedPTEURE != 0,
		UWE:   pteTemp&stagedPTEUWE != 0,
		FOR:   pteTemp&stagedPTEFOR != 0,
		FOW:   pteTemp&stagedPTEFOW != 0,
		FOE:   pteTemp&stagedPTEFOE != 0,
		ASM:   pteTemp&stagedPTEASM != 0,
		SC:    uint8((pteTemp >> stagedPTESCShift) & stagedPTESCMask),
		PFN:   pteTemp >> stagedPTEPFNShift,
	}
}

// WriteASTEN applies the masked RMW and returns the prior nibble.
func (s *Service) WriteASTEN(r16 uint64) (old uint8) {
	newVal, oldVal := maskedRMW(s.State.ASTEN, r16)
	s.State.ASTEN = newVal
	s.recomputeASTPending()
	return oldVal
}

// WriteASTSR applies the masked RMW and returns the prior nibble.
func (s *Service) WriteASTSR(r16 uint64) (old uint8) {
	newVal, oldVal := maskedRMW(s.State.ASTSR, r16)
	s.State.ASTSR = newVal
	s.recomputeASTPending()
	return oldVal
}

// SwapASTEN implements SWASTEN: atomically swap ASTEN with r16,
// returning the old value.
func (s *Service) SwapASTEN(r16 uint64) uint64 {
	old := uint64(s.State.ASTEN)
	s.State.ASTEN = uint8(r16)
	s.recomputeASTPending()
	return old
}

// recomputeASTPending re-derives AST eligibility from (ASTER, ASTSR, CM,
// IPL) and raises or clears this CPU's AST line accordingly, per
// §4.2.4's masked-RMW recognition step.
func (s *Service) recomputeASTPending() {
	if s.ASTRouter == nil {
		return
	}
	pending := s.ASTRouter.ASTPending(s.State.ASTEN, s.State.ASTSR, s.State.PS.CM, s.State.PS.IPL)
	s.ASTRouter.SetLine(s.CPU, pending)
}

// SwapIPL implements SWPIPL: atomically swap IPL with r16, returning
// the old value, clearing pending events if IPL was lowered.
func (s *Service) SwapIPL(r16 uint64) uint64 {
	old := uint64(s.State.PS.IPL)
	lowered := r16 < old
	s.State.PS.IPL = uint8(r16)
	if lowered {
		s.Dispatch.ClearPendingEvents()
	}
	s.recomputeASTPending()
	return old
}

// ReadPS implements RD_PS: return the packed PS value.
func (s *Service) ReadPS() uint64 {
	return s.State.PS.Pack()
}

// WritePS implements WR_PS: sanitize the requested value (only CM and
// IPL are architecturally settable this way) before committing it.
func (s *Service) WritePS(value uint64) {
	s.State.PS = cpustate.Unpack(value)
}

// ReadUNQ implements READ_UNQ.
func (s *Service) ReadUNQ() uint64 { return s.State.UNQ }

// WriteUNQ implements WRITE_UNQ.
func (s *Service) WriteUNQ(value uint64) { s.State.UNQ = value }

// SoftwareTrap raises GENTRAP/BPT/BUGCHK/CALLSYS as a non-returning
// SoftwareTrap pending event carrying trapCode in R16.
func (s *Service) SoftwareTrap(slot *pipeline.Slot, trapCode uint64) {
	ev := fault.PendingEvent{Kind: fault.Exception, Class: fault.SoftwareTrap, PalFunc: trapCode, FaultPC: s.State.PC}
	s.Dispatch.RaiseFault(ev)
	slot.PalResult.DoesReturn = false
	slot.PalResult.RaisesException = true
}

// Halt implements HALT: non-fatal within this core (no host process to
// terminate), it records the halt request for the composition root.
func (s *Service) Halt(slot *pipeline.Slot) {
	slot.PalResult.DoesReturn = true
	slot.PalResult.NotifyHalt = true
	slot.PalResult.FlushPipeline = true
}

// IMB implements IMB: request a full memory barrier and an
// instruction-stream flush at the current PC.
func (s *Service) IMB(slot *pipeline.Slot) {
	s.requestBarrier(slot)
	slot.PalResult.FlushPipeline = true
	slot.PalResult.FlushPC = s.State.PC
}

// CFlush / Draina both request a write-buffer drain plus memory
// barrier; CFLUSH additionally names the cache line argument but this
// core has no cache model to flush against.
func (s *Service) CFlush(slot *pipeline.Slot) {
	slot.PalResult.DrainWriteBuffers = true
	s.requestBarrier(slot)
}

func (s *Service) Draina(slot *pipeline.Slot) {
	slot.PalResult.DrainWriteBuffers = true
	s.requestBarrier(slot)
}

// requestBarrier drives the real SMP rendezvous: initiate (or join) a
// barrier, broadcast recognition IPIs to every other active CPU, and
// wait for completion, surfacing a machine check on timeout subject to
// MCES.MME.
func (s *Service) requestBarrier(slot *pipeline.Slot) {
	slot.PalResult.FullMemoryBarrier = true
	if s.Barrier == nil {
		return
	}
	if s.Barrier.InitiateGlobalMemoryBarrier(s.CPU, len(s.ActiveCPUs)) {
		if s.IPI != nil {
			s.IPI.BroadcastExcept(s.CPU, s.ActiveCPUs, ipi.Packet{Command: ipi.Custom})
		}
	}
	ev, ok := s.Barrier.WaitForBarrierAcknowledge(s.CPU)
	if !ok && s.State.MCES&cpustate.MCESMME != 0 {
		s.Dispatch.RaiseFault(ev)
	}
}

// Prober/Probew implement PROBER/PROBEW: translate va through the DTB
// and check the requested permission in the current mode.
func (s *Service) Prober(va uint64) ProbeOutcome {
	return s.probe(va, translator.Read)
}

func (s *Service) Probew(va uint64) ProbeOutcome {
	return s.probe(va, translator.Write)
}

func (s *Service) probe(va uint64, kind translator.AccessKind) ProbeOutcome {
	_, result := translator.Translate(s.TLB, s.CPU, tlb.D, va, kind, s.State.PS.CM, s.State.ASN, false)
	switch result {
	case translator.Success:
		return ProbeOk
	case translator.DTBMiss, translator.ITBMiss:
		return ProbeNoMapping
	default:
		return ProbeNoPermission
	}
}

// WTInt implements WTINT: mark the CPU idle awaiting an interrupt.
func (s *Service) WTInt(slot *pipeline.Slot) {
	s.idle = true
	slot.PalResult.DoesReturn = true
}

// Idle reports whether WTINT has been requested and no IPI/interrupt
// has since cleared it.
func (s *Service) Idle() bool { return s.idle }

// ClearIdle is called by the driver once an IPI or interrupt wakes the
// CPU.
func (s *Service) ClearIdle() { s.idle = false }

// Ldqp implements LDQP: an 8-byte physical load bypassing translation,
// enforcing 8-byte alignment. A memory error escalates to MachineCheck
// with IO_BUS_ERROR.
func (s *Service) Ldqp(slot *pipeline.Slot, pa uint64) (value uint64, ok bool) {
	if pa&7 != 0 {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.Exception, Class: fault.Unalign, FaultVA: pa})
		return 0, false
	}
	v, status := s.Mem.Read64(pa)
	if status != memory.Ok {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.MachineCheck, Class: fault.MCHK, MCReason: fault.MCIOBusError, MCAddr: pa})
		return 0, false
	}
	return v, true
}

// Stqp implements STQP: an 8-byte physical store bypassing translation,
// breaking any reservation covering pa on success.
func (s *Service) Stqp(slot *pipeline.Slot, pa, value uint64) bool {
	if pa&7 != 0 {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.Exception, Class: fault.Unalign, FaultVA: pa})
		return false
	}
	if s.Mem.Write64(pa, value) != memory.Ok {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.MachineCheck, Class: fault.MCHK, MCReason: fault.MCIOBusError, MCAddr: pa})
		return false
	}
	s.Resv.BreakReservationsOnCacheLine(pa)
	return true
}

// Amovrm implements AMOVRM: atomic exchange with a memory quadword.
// Returns the prior value and breaks any reservation on pa.
func (s *Service) Amovrm(pa, newValue uint64) (old uint64, ok bool) {
	old, status := s.Mem.Read64(pa)
	if status != memory.Ok {
		return 0, false
	}
	if s.Mem.Write64(pa, newValue) != memory.Ok {
		return 0, false
	}
	s.Resv.BreakReservationsOnCacheLine(pa)
	return old, true
}

// Amovrr implements AMOVRR: atomic exchange with a named register,
// entirely local to the CPU (no memory or reservation involvement).
func (s *Service) Amovrr(reg int, newValue uint64) uint64 {
	old := s.State.Reg(reg)
	s.State.SetReg(reg, newValue)
	return old
}
