/*
 * EV6 - CALL_PAL dispatch: mode transitions, TLB maintenance, queues.
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

package pal

import (
	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/ipi"
	"github.com/rcornwell/ev6/emu/memory"
	"github.com/rcornwell/ev6/emu/pipeline"
	"github.com/rcornwell/ev6/emu/tlb"
)

// QueueOp names one of the eight INSQ/REMQ CALL_PAL variants.
type QueueOp int

const (
	InsqHIL QueueOp = iota
	InsqHIQ
	InsqTIL
	InsqTIQ
	RemqHIL
	RemqHIQ
	RemqTIL
	RemqTIQ
)

// Queue dispatches one CALL_PAL queue primitive. header and entry are
// physical addresses (queue primitives operate on already-translated
// addresses per the architecture). r1 receives -1 on failure, 0 when a
// REMQ variant finds the queue empty, and 1 on success; entryOut is the
// removed entry's address for REMQ variants and 0 otherwise. DispatchPAL
// turns this pair into the PAL ABI's R0 status and R1 entry address.
func (s *Service) Queue(op QueueOp, header, entry uint64) (entryOut uint64, r1 int64) {
	switch op {
	case InsqHIL:
		if !insqHead(s.Mem, header, entry, linkLong) {
			return 0, -1
		}
		return 0, 1
	case InsqHIQ:
		if !insqHead(s.Mem, header, entry, linkQuad) {
			return 0, -1
		}
		return 0, 1
	case InsqTIL:
		if !insqTail(s.Mem, header, entry, linkLong) {
			return 0, -1
		}
		return 0, 1
	case InsqTIQ:
		if !insqTail(s.Mem, header, entry, linkQuad) {
			return 0, -1
		}
		return 0, 1
	case RemqHIL:
		return s.remq(remqHead, header, linkLong)
	case RemqHIQ:
		return s.remq(remqHead, header, linkQuad)
	case RemqTIL:
		return s.remq(remqTail, header, linkLong)
	case RemqTIQ:
		return s.remq(remqTail, header, linkQuad)
	default:
		return 0, -1
	}
}

func (s *Service) remq(fn func(*memory.GuestMemory, uint64, linkWidth) (uint64, bool, bool), header uint64, w linkWidth) (uint64, int64) {
	entry, empty, ok := fn(s.Mem, header, w)
	if !ok {
		return 0, -1
	}
	if empty {
		return 0, 0
	}
	return entry, 1
}

// TBIA implements MTPR_TBIA: clear every entry in both realms for this
// CPU, then clear any incomplete staged fill.
func (s *Service) TBIA() {
	s.TLB.InvalidateAll(s.CPU)
	s.State.ClearStagedLatches()
}

// TBIAP implements MTPR_TBIAP: clear every non-global entry for this
// CPU.
func (s *Service) TBIAP() {
	s.TLB.InvalidateNonASM(s.CPU)
	s.State.ClearStagedLatches()
}

// TBIS implements MTPR_TBIS: invalidate (va, ASN) in both realms
// locally, then broadcast an IPI asking every other active CPU to do
// the same, per §5's cross-CPU TLB shootdown requirement.
func (s *Service) TBIS(va uint64) {
	s.TLB.TbisInvalidate(s.CPU, va, s.State.ASN)
	if s.IPI != nil {
		s.IPI.BroadcastExcept(s.CPU, s.ActiveCPUs, ipi.Packet{
			Command: ipi.TLBInvalidateVAITB, VA: va, ASN: s.State.ASN,
		})
	}
}

// TBISD implements MTPR_TBISD: data-realm-only single-VA invalidate,
// local only (no broadcast per §5 — only the combined I+D TBIS shoots
// down peers).
func (s *Service) TBISD(va uint64) {
	s.TLB.TbisdInvalidate(s.CPU, va, s.State.ASN)
}

// TBISI implements MTPR_TBISI: instruction-realm-only single-VA
// invalidate, local only.
func (s *Service) TBISI(va uint64) {
	s.TLB.TbisiInvalidate(s.CPU, va, s.State.ASN)
}

// RecognizeTLBShootdowns drains this CPU's IPI mailbox and applies any
// queued TLB-invalidate requests or memory-barrier rendezvous
// acknowledgements, called at the driver's recognition point (§5).
func (s *Service) RecognizeTLBShootdowns() {
	if s.IPI == nil {
		return
	}
	for _, pkt := range s.IPI.Recognize(s.CPU) {
		switch pkt.Command {
		case ipi.TLBInvalidateVAITB:
			s.TLB.TbisInvalidate(s.CPU, pkt.VA, pkt.ASN)
		case ipi.TLBInvalidateASN:
			s.TLB.InvalidateByASN(s.CPU, tlb.I, pkt.ASN)
			s.TLB.InvalidateByASN(s.CPU, tlb.D, pkt.ASN)
		case ipi.Custom:
			if s.Barrier != nil {
				s.Barrier.AcknowledgeMemoryBarrier(s.CPU)
			}
		}
	}
}

// HWPCB mirrors the hardware process control block SWPCTX loads from
// and old-context fields it does not need to save (those live in the
// outgoing process's own HWPCB, owned by OS software).
type HWPCB struct {
	KSP, ESP, SSP, USP uint64
	PTBR               uint64
	ASN                uint64
	ASTEN, ASTSR       uint8
	FEN                bool
	CC                 uint64
	UNQ                uint64
}

// SwapContext implements SWPCTX: r16 names the physical address of the
// new HWPCB, required 128-byte aligned and readable only from kernel
// mode. Returns the prior PCBB in R0; ok is false (no state changed) on
// an alignment or mode violation, with a PendingEvent already raised.
func (s *Service) SwapContext(slot *pipeline.Slot, pcbPA uint64, pcb HWPCB) (oldPCBB uint64, ok bool) {
	if pcbPA&0x7f != 0 {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.Exception, Class: fault.Unalign, FaultVA: pcbPA})
		return 0, false
	}
	if s.State.PS.CM != cpustate.Kernel {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.Exception, Class: fault.OpcDec, FaultPC: s.State.PC})
		return 0, false
	}

	old := s.State.PCBB
	s.State.PCBB = pcbPA

	s.State.KSP = pcb.KSP
	s.State.ESP = pcb.ESP
	s.State.SSP = pcb.SSP
	s.State.USP = pcb.USP
	s.State.ASTEN = pcb.ASTEN
	s.State.ASTSR = pcb.ASTSR
	s.State.FEN = pcb.FEN
	s.State.UNQ = pcb.UNQ

	if pcb.PTBR != s.State.PTBR {
		s.State.PTBR = pcb.PTBR
		s.TLB.InvalidateNonASM(s.CPU)
	}
	s.State.ASN = pcb.ASN

	s.State.SetReg(30, s.State.StackPointer(s.State.PS.CM))

	slot.PalResult.FullMemoryBarrier = true
	slot.PalResult.FlushPipeline = true
	slot.PalResult.ClearBranchPredict = true
	return old, true
}

// CallGate identifies the CHMK/CHME/CHMS/CHMU family's target mode.
type CallGate int

const (
	ChmK CallGate = iota
	ChmE
	ChmS
	ChmU
)

func (g CallGate) mode() cpustate.Mode {
	switch g {
	case ChmK:
		return cpustate.Kernel
	case ChmE:
		return cpustate.Executive
	case ChmS:
		return cpustate.Supervisor
	default:
		return cpustate.User
	}
}

// ChangeMode implements CHMK/CHME/CHMS/CHMU: push PS then PC onto the
// destination mode's stack, switch CM, and redirect execution into the
// CALL_CENTRY_BEG vector (non-returning from the caller's perspective —
// the driver resumes at the new PC).
func (s *Service) ChangeMode(slot *pipeline.Slot, gate CallGate, entryPC uint64) {
	newMode := gate.mode()
	sp := s.State.StackPointer(newMode)

	sp -= 8
	s.writeStackQuad(sp, s.State.PS.Pack())
	sp -= 8
	s.writeStackQuad(sp, s.State.PC)

	s.State.SetStackPointer(newMode, sp)
	s.State.PS.CM = newMode
	s.State.PC = canonicalizePalPC(entryPC)

	slot.PalResult.PCModified = true
	slot.PalResult.NewPC = s.State.PC
	slot.PalResult.DoesReturn = false
}

func (s *Service) writeStackQuad(pa, v uint64) {
	s.Mem.Write64(pa, v)
}

func (s *Service) readStackQuad(pa uint64) uint64 {
	v, _ := s.Mem.Read64(pa)
	return v
}

// Return implements RTI/RFE: pop PC then PS from the current mode's
// stack (RTI order), decode CM/IPL, and canonicalize PC — RTI always
// clears bit 0 (PAL mode), REI/RFE variant behavior is identical for
// this core's single PAL environment.
func (s *Service) Return(slot *pipeline.Slot) {
	sp := s.State.StackPointer(s.State.PS.CM)

	pc := s.readStackQuad(sp)
	sp += 8
	packedPS := s.readStackQuad(sp)
	sp += 8

	s.State.SetStackPointer(s.State.PS.CM, sp)

	newPS := cpustate.Unpack(packedPS)
	ipLowered := newPS.IPL < s.State.PS.IPL
	s.State.PS = newPS
	s.State.PC = canonicalizeUserPC(pc)
	s.exitPAL()

	slot.PalResult.PCModified = true
	slot.PalResult.NewPC = s.State.PC
	slot.PalResult.FlushPipeline = true
	slot.PalResult.DoesReturn = false
	if ipLowered {
		slot.PalResult.ReEvaluatePending = true
		s.Dispatch.ClearPendingEvents()
	}
}

// SwapPAL implements SWPPAL: variant selects one of four PALcode images
// by offsetting PAL_BASE, the only variant-selection scheme this core
// models (no PALcode image replacement).
func (s *Service) SwapPAL(variant uint64) (newBase uint64, ok bool) {
	if variant > 3 {
		return 0, false
	}
	base := s.State.PALBase + variant*0x1000
	s.State.PALBase = base
	s.Vectors.BindPALBase(base)
	return base, true
}
