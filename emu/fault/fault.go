/*
 * EV6 - Pending-event fault dispatcher.
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

// Package fault defines the PendingEvent record that MBox, the
// translator, and PalService use to report exceptions, machine checks,
// and PAL calls instead of panicking, plus the per-CPU dispatcher that
// queues and classifies them.
package fault

// Kind categorizes a PendingEvent at the top level.
type Kind int

const (
	Exception Kind = iota
	MachineCheck
	PalCall
)

// ExceptionClass enumerates every reason a PendingEvent can be raised.
type ExceptionClass int

const (
	ITBMiss ExceptionClass = iota
	ITBAcv
	DTBMissSingle
	DTBMissDouble
	DFault
	Unalign
	OpcDec
	Fen
	Arith
	Interrupt
	MCHK
	Reset
	CallPal
	SoftwareTrap
)

// PalVectorID indexes the PAL vector table.
type PalVectorID int

const (
	VecReset PalVectorID = iota
	VecMCHK
	VecArith
	VecInterrupt
	VecITBMiss
	VecITBAcv
	VecOpcDec
	VecFen
	VecUnalign
	VecDTBMissSingle
	VecDTBMissDouble
	VecDTBMissNative
	VecCallCEntryBeg
)

// mapClassToPalVector implements the fixed class-to-vector table from
// §4.6: ITB_MISS/ITB_ACV/DTB_MISS_* map 1:1, DFault folds to the native
// DFAULT vector, OpcDec absorbs illegal/subsetted-instruction faults,
// and CallPal (and its siblings BreakPoint/General/SystemService, which
// this core represents with the same ExceptionClass) target the
// CALL_CENTRY_BEG entry whose exact PC is computed from the PAL
// function number by the caller.
func mapClassToPalVector(c ExceptionClass) PalVectorID {
	switch c {
	case ITBMiss:
		return VecITBMiss
	case ITBAcv:
		return VecITBAcv
	case DTBMissSingle:
		return VecDTBMissSingle
	case DTBMissDouble:
		return VecDTBMissDouble
	case DFault:
		return VecDTBMissNative
	case Unalign:
		return VecUnalign
	case OpcDec:
		return VecOpcDec
	case Fen:
		return VecFen
	case Arith:
		return VecArith
	case MCHK:
		return VecMCHK
	case Reset:
		return VecReset
	case Interrupt:
		return VecInterrupt
	case CallPal, SoftwareTrap:
		return VecCallCEntryBeg
	default:
		return VecMCHK
	}
}

// MapClassToPalVector exposes mapClassToPalVector for callers outside
// this package (the PAL vector table's mapException).
func MapClassToPalVector(c ExceptionClass) PalVectorID {
	return mapClassToPalVector(c)
}

// AccessType tags the memory access that produced a translation fault.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

// MachineCheckReason supplements the base IO_BUS_ERROR/SMP_BARRIER_TIMEOUT
// pair with the additional classifications SPEC_FULL.md calls for: a
// catch-all UNKNOWN, DOUBLE_MCHK for a machine check raised while one was
// already pending, and ITB_BAD_VA for a fill whose VA fails canonical
// range checking.
type MachineCheckReason int

const (
	MCUnknown MachineCheckReason = iota
	MCIOBusError
	MCSMPBarrierTimeout
	MCDoubleMchk
	MCITBBadVA
)

// PendingEvent is the uniform record every fault-producing component
// constructs instead of panicking.
type PendingEvent struct {
	Kind  Kind
	Class ExceptionClass

	FaultPC uint64
	FaultVA uint64
	ASN     uint64
	Access  AccessType
	Mode    uint8 // snapshot of PS.CM at fault time

	// PAL call arguments, populated when Kind == PalCall.
	PalFunc uint64
	R16     uint64
	R17     uint64

	// Machine-check detail, populated when Kind == MachineCheck.
	MCReason MachineCheckReason
	MCAddr   uint64
}

// Dispatcher is a per-CPU queue of PendingEvents. setPendingEvent
// enqueues without disturbing current execution; raiseFault additionally
// marks the event for immediate recognition at the next pipeline
// boundary.
type Dispatcher struct {
	queue     []PendingEvent
	immediate bool
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// SetPendingEvent enqueues ev without marking it for immediate delivery,
// used for PalCall requests and deferred faults.
func (d *Dispatcher) SetPendingEvent(ev PendingEvent) {
	d.queue = append(d.queue, ev)
}

// RaiseFault enqueues ev and marks the dispatcher so the pipeline
// recognizes it at the next boundary.
func (d *Dispatcher) RaiseFault(ev PendingEvent) {
	d.queue = append(d.queue, ev)
	d.immediate = true
}

// Pending reports whether any event (immediate or deferred) awaits
// delivery.
func (d *Dispatcher) Pending() bool {
	return len(d.queue) > 0
}

// Immediate reports whether any event raised via RaiseFault (rather than
// SetPendingEvent) has been queued since the queue was last drained
// empty or cleared.
func (d *Dispatcher) Immediate() bool {
	return d.immediate
}

// Next returns and removes the oldest queued event. ok is false if the
// queue was empty.
func (d *Dispatcher) Next() (ev PendingEvent, ok bool) {
	if len(d.queue) == 0 {
		return PendingEvent{}, false
	}
	ev, d.queue = d.queue[0], d.queue[1:]
	if len(d.queue) == 0 {
		d.immediate = false
	}
	return ev, true
}

// ClearPendingEvents discards every queued event.
func (d *Dispatcher) ClearPendingEvents() {
	d.queue = nil
	d.immediate = false
}

// PalArgs builds the PAL R16..R21 argument set for ev per the §4.6
// argument-builder table. Only the registers relevant to ev.Class are
// populated; the rest are zero.
func PalArgs(ev PendingEvent) (r16, r17, r18, r19, r20, r21 uint64) {
	switch ev.Class {
	case DTBMissSingle, DTBMissDouble, DFault:
		r16 = ev.FaultVA
		r17 = uint64(ev.Access)
		r18 = ev.ASN
	case Unalign:
		r16 = ev.FaultVA
		r17 = ev.PalFunc // reused as opcode carrier by MBox
		r18 = ev.R16     // reused as destination register carrier
	case Arith:
		r16 = ev.R16 // exception summary
		r17 = ev.R17 // exception mask
	case CallPal, SoftwareTrap:
		r16 = ev.PalFunc
		r17 = ev.R16
		r18 = ev.R17
	case MCHK:
		r16 = uint64(ev.MCReason)
		r17 = ev.MCAddr
	}
	return
}
