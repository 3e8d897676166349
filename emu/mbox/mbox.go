/*
 * EV6 - MBox memory pipeline.
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

// Package mbox executes every memory-access opcode: effective-address
// computation, alignment checking, translation, reservation maintenance,
// and the guest-memory access itself. It never panics; every failure is
// surfaced through the caller's *pipeline.Slot as a fault.
package mbox

import (
	"math"

	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/fault"
	"github.com/rcornwell/ev6/emu/memory"
	"github.com/rcornwell/ev6/emu/pipeline"
	"github.com/rcornwell/ev6/emu/reservation"
	"github.com/rcornwell/ev6/emu/tlb"
	"github.com/rcornwell/ev6/emu/translator"
)

// MBox binds together the guest memory, TLB, and reservation manager a
// single CPU's memory opcodes operate against.
type MBox struct {
	cpu    int
	mem    *memory.GuestMemory
	tlbMgr *tlb.Manager
	resv   *reservation.Manager

	// isBusy is toggled across each operation; schedulers consult it for
	// ordering, mirroring the teacher's per-opcode cycle accounting.
	isBusy bool
}

// New constructs an MBox for the given CPU id, wired to shared memory,
// TLB, and reservation services.
func New(cpu int, mem *memory.GuestMemory, tlbMgr *tlb.Manager, resv *reservation.Manager) *MBox {
	return &MBox{cpu: cpu, mem: mem, tlbMgr: tlbMgr, resv: resv}
}

// IsBusy reports whether an operation is currently in flight.
func (b *MBox) IsBusy() bool {
	return b.isBusy
}

func (b *MBox) fault(slot *pipeline.Slot, ev fault.PendingEvent) {
	slot.FaultPending = true
	slot.FaultVA = ev.FaultVA
	slot.TrapCode = ev.Class
	slot.NeedsWriteback = false
	if ev.Class == fault.Unalign {
		ev.PalFunc = uint64(slot.Opcode)
		ev.R16 = uint64(slot.Ra)
	}
	if slot.Dispatcher != nil {
		slot.Dispatcher.RaiseFault(ev)
	}
}

func unalignFault(va uint64) fault.PendingEvent {
	return fault.PendingEvent{Kind: fault.Exception, Class: fault.Unalign, FaultVA: va}
}

func translationFault(result translator.Result, va uint64, asn uint64) fault.PendingEvent {
	class := fault.DFault
	switch result {
	case translator.DTBMiss:
		class = fault.DTBMissSingle
	case translator.FaultOnRead, translator.FaultOnWrite, translator.FaultOnExecute, translator.AccessViolation, translator.InvalidPTE:
		class = fault.DFault
	}
	return fault.PendingEvent{Kind: fault.Exception, Class: class, FaultVA: va, ASN: asn}
}

// EffectiveAddress computes Rb + sign-extend(disp16). LDAH callers must
// shift disp left 16 before calling. No translation or faults occur
// here; if ra == 31 the caller discards the result instead of writing it.
func EffectiveAddress(rb uint64, disp16 int16) uint64 {
	return rb + uint64(int64(disp16))
}

// width groups the sized-load/store family by access size.
type width int

const (
	w8 width = iota
	w16
	w32
	w64
)

func alignMask(w width) uint64 {
	switch w {
	case w16:
		return 1
	case w32:
		return 3
	case w64:
		return 7
	default:
		return 0
	}
}

// Load performs an aligned load of the given width at va into the
// slot, zero-extending (or sign-extending for LDL's 32→64 widening,
// handled by the caller via signed=true). destFP selects whether the
// result commits to the integer register file (Ra) or the floating
// register file (Fa); the two are mutually exclusive per the slot's
// writeback contract.
func (b *MBox) Load(slot *pipeline.Slot, state *cpustate.State, va uint64, w width, signed bool, destFP bool, reg int) {
	b.isBusy = true
	defer func() { b.isBusy = false }()

	if va&alignMask(w) != 0 {
		b.fault(slot, unalignFault(va))
		return
	}

	pa, result := translator.Translate(b.tlbMgr, b.cpu, tlb.D, va, translator.Read, state.PS.CM, state.ASN, false)
	if result != translator.Success {
		b.fault(slot, translationFault(result, va, state.ASN))
		return
	}

	var raw uint64
	var status memory.Status
	switch w {
	case w8:
		var v uint8
		v, status = b.mem.Read8(pa)
		raw = uint64(v)
	case w16:
		var v uint16
		v, status = b.mem.Read16(pa)
		raw = uint64(v)
	case w32:
		var v uint32
		v, status = b.mem.Read32(pa)
		raw = uint64(v)
	case w64:
		raw, status = b.mem.Read64(pa)
	}
	if status != memory.Ok {
		b.fault(slot, fault.PendingEvent{Kind: fault.Exception, Class: fault.DFault, FaultVA: va, ASN: state.ASN})
		return
	}

	if signed && w == w32 {
		raw = uint64(int64(int32(raw)))
	}

	slot.PA = pa
	slot.VA = va
	slot.Payload = raw
	if reg != 31 {
		slot.NeedsWriteback = true
		if destFP {
			slot.WriteFa = true
		} else {
			slot.WriteRa = true
		}
	}
}

// Store performs an aligned store of the given width: value truncated
// to the width, translated with access-type WRITE, written to memory,
// and any reservation covering the line is broken.
func (b *MBox) Store(slot *pipeline.Slot, state *cpustate.State, va uint64, w width, value uint64) {
	b.isBusy = true
	defer func() { b.isBusy = false }()

	if va&alignMask(w) != 0 {
		b.fault(slot, unalignFault(va))
		return
	}

	pa, result := translator.Translate(b.tlbMgr, b.cpu, tlb.D, va, translator.Write, state.PS.CM, state.ASN, false)
	if result != translator.Success {
		b.fault(slot, translationFault(result, va, state.ASN))
		return
	}

	var status memory.Status
	switch w {
	case w8:
		status = b.mem.Write8(pa, uint8(value))
	case w16:
		status = b.mem.Write16(pa, uint16(value))
	case w32:
		status = b.mem.Write32(pa, uint32(value))
	case w64:
		status = b.mem.Write64(pa, value)
	}
	if status != memory.Ok {
		b.fault(slot, fault.PendingEvent{Kind: fault.Exception, Class: fault.DFault, FaultVA: va, ASN: state.ASN})
		return
	}

	b.resv.BreakReservationsOnCacheLine(pa)
	slot.PA = pa
	slot.VA = va
}

// LoadUnaligned implements LDQ_U: forces va to 8-byte alignment by
// clearing its low 3 bits before translating and reading the full
// quadword. No alignment fault is ever raised.
func (b *MBox) LoadUnaligned(slot *pipeline.Slot, state *cpustate.State, va uint64, ra int) {
	aligned := va &^ 7
	b.Load(slot, state, aligned, w64, false, false, ra)
	if slot.FaultPending {
		slot.FaultVA = va
	}
}

// StoreUnaligned implements STQ_U: the same forced 8-byte alignment as
// LoadUnaligned, storing the full quadword value.
func (b *MBox) StoreUnaligned(slot *pipeline.Slot, state *cpustate.State, va uint64, value uint64) {
	aligned := va &^ 7
	b.Store(slot, state, aligned, w64, value)
	if slot.FaultPending {
		slot.FaultVA = va
	}
}

// LoadLocked performs an aligned load (width w8..w64 restricted to 32
// or 64 bits by the caller) and, on success, records a reservation
// covering the translated physical address.
func (b *MBox) LoadLocked(slot *pipeline.Slot, state *cpustate.State, va uint64, w width, ra int) {
	b.Load(slot, state, va, w, false, false, ra)
	if !slot.FaultPending {
		b.resv.SetReservation(b.cpu, slot.PA)
	}
}

// StoreConditional translates va, checks and clears the CPU's
// reservation, and writes value only if the reservation was still
// valid. Returns via result: 1 on a successful conditional store, 0 if
// the reservation had been broken. A translation failure still raises
// a fault and reports no specific result.
func (b *MBox) StoreConditional(slot *pipeline.Slot, state *cpustate.State, va uint64, w width, value uint64) (result uint64) {
	if va&alignMask(w) != 0 {
		b.fault(slot, unalignFault(va))
		return 0
	}

	pa, tResult := translator.Translate(b.tlbMgr, b.cpu, tlb.D, va, translator.Write, state.PS.CM, state.ASN, false)
	if tResult != translator.Success {
		b.fault(slot, translationFault(tResult, va, state.ASN))
		return 0
	}

	if !b.resv.CheckAndClearReservation(b.cpu, pa) {
		slot.PA = pa
		slot.VA = va
		return 0
	}

	var status memory.Status
	switch w {
	case w32:
		status = b.mem.Write32(pa, uint32(value))
	case w64:
		status = b.mem.Write64(pa, value)
	}
	if status != memory.Ok {
		b.fault(slot, fault.PendingEvent{Kind: fault.Exception, Class: fault.DFault, FaultVA: va, ASN: state.ASN})
		return 0
	}

	b.resv.BreakReservationsOnCacheLine(pa)
	slot.PA = pa
	slot.VA = va
	return 1
}

// LoadG/LoadT load an 8-byte G/T-float quadword verbatim into an FP
// register (the bit pattern needs no conversion for the 64-bit forms).
func (b *MBox) LoadG(slot *pipeline.Slot, state *cpustate.State, va uint64, fa int) {
	b.Load(slot, state, va, w64, false, true, fa)
}

// StoreG/StoreT store an 8-byte G/T-float quadword verbatim.
func (b *MBox) StoreG(slot *pipeline.Slot, state *cpustate.State, va uint64, value uint64) {
	b.Store(slot, state, va, w64, value)
}

// LoadS loads a 4-byte IEEE-single word and widens it to the IEEE-double
// bit pattern an Alpha FP register holds internally.
func (b *MBox) LoadS(slot *pipeline.Slot, state *cpustate.State, va uint64, fa int) {
	b.Load(slot, state, va, w32, false, true, fa)
	if !slot.FaultPending {
		single := math.Float32frombits(uint32(slot.Payload))
		slot.Payload = math.Float64bits(float64(single))
	}
}

// StoreS narrows an IEEE-double FP register value to IEEE-single and
// stores it as a 4-byte word.
func (b *MBox) StoreS(slot *pipeline.Slot, state *cpustate.State, va uint64, value uint64) {
	double := math.Float64frombits(value)
	bits := math.Float32bits(float32(double))
	b.Store(slot, state, va, w32, uint64(bits))
}

// vaxFBiasDelta is the exponent bias difference between VAX F_floating
// (excess-128, hidden bit at 0.1, so 1.0 encodes with exponent 129) and
// IEEE double (excess-1023, hidden bit at 1.0), applied when widening or
// narrowing through the CPU's internal IEEE-double FP register format.
const vaxFBiasDelta = 1023 - 129

// vaxFToFloat64Bits converts a 4-byte VAX F_floating word (already
// loaded as a little-endian uint32) into the IEEE-double bit pattern an
// Alpha FP register holds internally. F_floating swaps its two 16-bit
// halves relative to a normal longword load: the low-addressed word
// carries sign/exponent/high-fraction, the high-addressed word the low
// fraction bits. Reserved-operand (exponent zero) encodes as zero; this
// core does not raise the VAX reserved-operand fault.
func vaxFToFloat64Bits(raw uint32) uint64 {
	word0 := uint16(raw)
	word1 := uint16(raw >> 16)

	sign := uint64(word0>>15) & 1
	exp := uint64(word0>>7) & 0xff
	if exp == 0 {
		return 0
	}
	frac := (uint64(word0&0x7f) << 16) | uint64(word1)

	ieeeExp := exp + vaxFBiasDelta
	return (sign << 63) | (ieeeExp << 52) | (frac << (52 - 23))
}

// float64BitsToVaxF is vaxFToFloat64Bits's inverse, narrowing an
// internal IEEE-double FP register value to a 4-byte VAX F_floating
// word. Values outside F_floating's exponent range collapse to the
// reserved-operand (zero) encoding rather than faulting.
func float64BitsToVaxF(bits uint64) uint32 {
	sign := (bits >> 63) & 1
	ieeeExp := (bits >> 52) & 0x7ff
	frac := (bits >> (52 - 23)) & 0x7fffff

	if ieeeExp == 0 || ieeeExp <= vaxFBiasDelta || ieeeExp-vaxFBiasDelta > 0xff {
		return 0
	}
	vaxExp := ieeeExp - vaxFBiasDelta

	word0 := uint32(sign<<15) | uint32(vaxExp<<7) | uint32(frac>>16)
	word1 := uint32(frac & 0xffff)
	return word0 | word1<<16
}

// LoadF loads a 4-byte legacy VAX F_floating word and converts it to the
// IEEE-double bit pattern Alpha FP registers hold internally.
func (b *MBox) LoadF(slot *pipeline.Slot, state *cpustate.State, va uint64, fa int) {
	b.Load(slot, state, va, w32, false, true, fa)
	if !slot.FaultPending {
		slot.Payload = vaxFToFloat64Bits(uint32(slot.Payload))
	}
}

// StoreF narrows an IEEE-double FP register value to VAX F_floating and
// stores it as a 4-byte word.
func (b *MBox) StoreF(slot *pipeline.Slot, state *cpustate.State, va uint64, value uint64) {
	b.Store(slot, state, va, w32, uint64(float64BitsToVaxF(value)))
}
