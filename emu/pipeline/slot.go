/*
 * EV6 - Pipeline-slot contract.
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

// Package pipeline defines the plain-data contract the instruction
// driver and MBox/PalService exchange. Slot carries no behavior: the
// driver fills in the inbound fields and reads the outbound fields back
// out after calling into MBox or PalService.
package pipeline

import "github.com/rcornwell/ev6/emu/fault"

// Slot is the inbound/outbound contract for one decoded instruction.
// It is intentionally not an interface: mbox.MBox and pal.Service both
// take a *Slot and mutate its outbound fields, but neither owns its
// lifetime — that belongs to the (out-of-scope) pipeline driver.
type Slot struct {
	// Inbound, filled in by the driver before dispatch.
	Opcode   uint32
	Function uint32
	Ra       int
	Rb       int
	Rc       int
	Raw      uint32
	PC       uint64
	CPU      int

	// Dispatcher receives any PendingEvent MBox raises for this
	// operation; PalService raises through its own Service.Dispatch. The
	// driver owns it per-CPU and is responsible for draining it.
	Dispatcher *fault.Dispatcher

	// Outbound, populated by MBox/PalService.
	VA             uint64
	PA             uint64
	Payload        uint64
	NeedsWriteback bool
	WriteRa        bool
	WriteFa        bool
	FaultPending   bool
	TrapCode       fault.ExceptionClass
	FaultVA        uint64

	// PalResult is populated only when this slot carried a PAL-format
	// instruction (HW_MFPR/HW_MTPR/CALL_PAL); see emu/pal.
	PalResult PalResult
}

// PalResult describes the side-effects PalService requests of the
// pipeline driver after a PAL-format instruction.
type PalResult struct {
	DoesReturn     bool
	HasReturnValue bool
	ReturnReg      int
	ReturnValue    uint64

	PCModified bool
	NewPC      uint64

	DrainWriteBuffers   bool
	FullMemoryBarrier   bool
	FlushPipeline       bool
	FlushPC             uint64
	ClearBranchPredict  bool
	IPLChanged          bool
	ReEvaluatePending   bool
	NotifyHalt          bool

	RaisesException bool
}

// Reset clears a Slot's outbound fields so it can be reused for the
// next instruction without reallocating.
func (s *Slot) Reset() {
	s.VA = 0
	s.PA = 0
	s.Payload = 0
	s.NeedsWriteback = false
	s.WriteRa = false
	s.WriteFa = false
	s.FaultPending = false
	s.TrapCode = 0
	s.FaultVA = 0
	s.PalResult = PalResult{}
}
