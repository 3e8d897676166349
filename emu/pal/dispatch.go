/*
 * EV6 - PAL-format instruction dispatch: HW_MFPR/HW_MTPR/CALL_PAL.
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
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/ipi"
	"github.com/rcornwell/ev6/emu/pipeline"
)

// PalOpcode names the three PAL-format major opcodes a Slot can carry.
// The (out-of-scope) pipeline driver decodes these from the raw
// instruction and leaves the result in Slot.Opcode before calling
// Dispatch.
type PalOpcode uint32

const (
	OpcodeCallPal PalOpcode = iota
	OpcodeHWMfpr
	OpcodeHWMtpr
)

// PalFunction names one CALL_PAL function code, carried in
// Slot.Function when Slot.Opcode == OpcodeCallPal.
type PalFunction uint32

const (
	PalHalt PalFunction = iota
	PalCflush
	PalDraina
	PalLdqp
	PalStqp
	PalSwpctx
	PalSwasten
	PalSwpipl
	PalCserve
	PalSwppal
	PalWtint
	PalAmovrm
	PalAmovrr
	PalProber
	PalProbew
	PalRdPS
	PalWrPS
	PalReadUnq
	PalWriteUnq
	PalInsqhil
	PalInsqhiq
	PalInsqtil
	PalInsqtiq
	PalRemqhil
	PalRemqhiq
	PalRemqtil
	PalRemqtiq
	PalImb
	PalRti
	PalBpt
	PalBugchk
	PalGentrap
	PalCallsys
	PalChmk
	PalChme
	PalChms
	PalChmu
)

// DispatchPAL is the single entry point the (out-of-scope) pipeline
// driver calls for every PAL-format instruction: HW_MFPR and HW_MTPR
// IPR accesses, and every CALL_PAL function. It reads its inputs from
// slot and the current register file, invokes the matching handler, and
// writes any result back to R0 (and R1 for the queue primitives) plus
// slot.PalResult, per §4.2.4's calling convention. An unrecognized
// CALL_PAL function code raises OPCDEC through the same dispatcher every
// other fault in this core uses, rather than panicking.
func (s *Service) DispatchPAL(slot *pipeline.Slot) {
	switch PalOpcode(slot.Opcode) {
	case OpcodeHWMfpr:
		s.dispatchHWMfpr(slot)
	case OpcodeHWMtpr:
		s.dispatchHWMtpr(slot)
	default:
		s.dispatchCallPal(slot)
	}
}

func (s *Service) setR0(slot *pipeline.Slot, v uint64) {
	s.State.SetReg(0, v)
	slot.PalResult.HasReturnValue = true
	slot.PalResult.ReturnReg = 0
	slot.PalResult.ReturnValue = v
	slot.PalResult.DoesReturn = true
}

func (s *Service) opcDec(slot *pipeline.Slot) {
	s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.Exception, Class: fault.OpcDec, FaultPC: s.State.PC})
	slot.PalResult.DoesReturn = false
	slot.PalResult.RaisesException = true
}

func (s *Service) dispatchHWMfpr(slot *pipeline.Slot) {
	r := IPR(slot.Function)

	var v uint64
	if r == IPRTBCHK {
		v = s.TBCHKProbe(s.State.Reg(slot.Rb))
	} else {
		var ok bool
		v, ok = s.HWMfpr(r)
		if !ok {
			s.opcDec(slot)
			return
		}
	}

	s.State.SetReg(slot.Ra, v)
	slot.PalResult.HasReturnValue = true
	slot.PalResult.ReturnReg = slot.Ra
	slot.PalResult.ReturnValue = v
	slot.PalResult.DoesReturn = true
}

func (s *Service) dispatchHWMtpr(slot *pipeline.Slot) {
	r := IPR(slot.Function)
	value := s.State.Reg(slot.Rb)

	switch r {
	case IPRASTEN:
		s.setR0(slot, uint64(s.WriteASTEN(value)))
	case IPRASTSR:
		s.setR0(slot, uint64(s.WriteASTSR(value)))
	case IPRTBIA:
		s.TBIA()
		slot.PalResult.DoesReturn = true
	case IPRTBIAP:
		s.TBIAP()
		slot.PalResult.DoesReturn = true
	case IPRTBIS:
		s.TBIS(value)
		slot.PalResult.DoesReturn = true
	case IPRTBISD:
		s.TBISD(value)
		slot.PalResult.DoesReturn = true
	case IPRTBISI:
		s.TBISI(value)
		slot.PalResult.DoesReturn = true
	case IPRIPIR:
		s.dispatchIPIR(value)
		slot.PalResult.DoesReturn = true
	default:
		s.HWMtpr(r, value)
		slot.PalResult.DoesReturn = true
	}
}

// dispatchIPIR implements MTPR_IPIR/WRIPIR: value is a bitmask over
// s.ActiveCPUs' positions, self excluded from the broadcast; a self bit
// only wakes this CPU from WTINT (ClearIdle) and leaves its queued
// pending events as they are.
func (s *Service) dispatchIPIR(value uint64) {
	if s.IPI == nil {
		return
	}
	for _, cpu := range s.ActiveCPUs {
		if value&(1<<uint(cpu)) == 0 {
			continue
		}
		if cpu == s.CPU {
			s.ClearIdle()
			continue
		}
		s.IPI.PostIPI(cpu, ipi.Packet{Command: ipi.Custom})
	}
}

func (s *Service) dispatchCallPal(slot *pipeline.Slot) {
	r16 := s.State.Reg(16)
	r17 := s.State.Reg(17)
	r18 := s.State.Reg(18)
	r19 := s.State.Reg(19)

	switch PalFunction(slot.Function) {
	case PalHalt:
		s.Halt(slot)
	case PalCflush:
		s.CFlush(slot)
	case PalDraina:
		s.Draina(slot)
	case PalImb:
		s.IMB(slot)
	case PalWtint:
		s.WTInt(slot)

	case PalLdqp:
		if v, ok := s.Ldqp(slot, r16); ok {
			s.setR0(slot, v)
		}
	case PalStqp:
		if s.Stqp(slot, r16, r17) {
			slot.PalResult.DoesReturn = true
		}
	case PalAmovrm:
		if old, ok := s.Amovrm(r16, r17); ok {
			s.setR0(slot, old)
		}
	case PalAmovrr:
		s.setR0(slot, s.Amovrr(slot.Rb, r17))

	case PalProber:
		s.setR0(slot, uint64(s.Prober(r16)))
	case PalProbew:
		s.setR0(slot, uint64(s.Probew(r16)))

	case PalSwasten:
		s.setR0(slot, s.SwapASTEN(r16))
	case PalSwpipl:
		s.setR0(slot, s.SwapIPL(r16))
	case PalRdPS:
		s.setR0(slot, s.ReadPS())
	case PalWrPS:
		s.WritePS(r16)
		slot.PalResult.DoesReturn = true
	case PalReadUnq:
		s.setR0(slot, s.ReadUNQ())
	case PalWriteUnq:
		s.WriteUNQ(r16)
		slot.PalResult.DoesReturn = true

	case PalInsqhil, PalInsqhiq, PalInsqtil, PalInsqtiq,
		PalRemqhil, PalRemqhiq, PalRemqtil, PalRemqtiq:
		s.dispatchQueue(slot, r16, r17)

	case PalSwpctx:
		pcbPA := r16
		old, ok := s.SwapContext(slot, pcbPA, s.readHWPCB(pcbPA))
		if ok {
			s.setR0(slot, old)
		}

	case PalChmk:
		s.dispatchChangeMode(slot, ChmK)
	case PalChme:
		s.dispatchChangeMode(slot, ChmE)
	case PalChms:
		s.dispatchChangeMode(slot, ChmS)
	case PalChmu:
		s.dispatchChangeMode(slot, ChmU)
	case PalRti:
		s.Return(slot)

	case PalSwppal:
		if _, ok := s.SwapPAL(r16); ok {
			s.setR0(slot, 0)
		} else {
			s.setR0(slot, ^uint64(0))
		}

	case PalCserve:
		// R16[7:0] names the selector; R17..R19 carry its arguments, so
		// Cserve's r16/r17/r18 parameters line up with R17/R18/R19 here.
		sel := CserveSelector(r16 & 0xff)
		res := s.Cserve(sel, r17, r18, r19)
		s.setR0(slot, uint64(res.R0))

	case PalGentrap:
		s.SoftwareTrap(slot, r16)
	case PalBpt, PalBugchk, PalCallsys:
		s.SoftwareTrap(slot, uint64(slot.Function))

	default:
		s.opcDec(slot)
	}
}

func (s *Service) dispatchQueue(slot *pipeline.Slot, header, entry uint64) {
	var op QueueOp
	switch PalFunction(slot.Function) {
	case PalInsqhil:
		op = InsqHIL
	case PalInsqhiq:
		op = InsqHIQ
	case PalInsqtil:
		op = InsqTIL
	case PalInsqtiq:
		op = InsqTIQ
	case PalRemqhil:
		op = RemqHIL
	case PalRemqhiq:
		op = RemqHIQ
	case PalRemqtil:
		op = RemqTIL
	case PalRemqtiq:
		op = RemqTIQ
	}

	// R0 is 0 on success and 1 on failure or an empty queue; R1 holds the
	// removed entry's address (0 when nothing was removed).
	entryOut, r1 := s.Queue(op, header, entry)
	s.State.SetReg(1, entryOut)
	if r1 == 1 {
		s.setR0(slot, 0)
	} else {
		s.setR0(slot, 1)
	}
}

func (s *Service) dispatchChangeMode(slot *pipeline.Slot, gate CallGate) {
	entry, _, ok := s.Vectors.Lookup(fault.VecCallCEntryBeg)
	if !ok {
		s.Dispatch.RaiseFault(fault.PendingEvent{Kind: fault.MachineCheck, Class: fault.MCHK, MCReason: fault.MCUnknown})
		return
	}
	s.ChangeMode(slot, gate, entry)
}

// HWPCB field layout within the physical HWPCB block SWPCTX reads,
// fixed by this core (no OS ABI constrains it further).
const (
	hwpcbKSP   = 0
	hwpcbESP   = 8
	hwpcbSSP   = 16
	hwpcbUSP   = 24
	hwpcbPTBR  = 32
	hwpcbASN   = 40
	hwpcbASTEN = 48
	hwpcbASTSR = 56
	hwpcbFEN   = 64
	hwpcbUNQ   = 72
)

func (s *Service) readHWPCB(pa uint64) HWPCB {
	read := func(off uint64) uint64 {
		v, _ := s.Mem.Read64(pa + off)
		return v
	}
	return HWPCB{
		KSP:   read(hwpcbKSP),
		ESP:   read(hwpcbESP),
		SSP:   read(hwpcbSSP),
		USP:   read(hwpcbUSP),
		PTBR:  read(hwpcbPTBR),
		ASN:   read(hwpcbASN),
		ASTEN: uint8(read(hwpcbASTEN)),
		ASTSR: uint8(read(hwpcbASTSR)),
		FEN:   read(hwpcbFEN) != 0,
		UNQ:   read(hwpcbUNQ),
	}
}
