/*
 * EV6 - Per-CPU architectural state (IPR bank).
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

// Package cpustate holds one CPU's architectural register file and
// internal processor registers (IPRs), plus the staged TLB fill latches
// that HW_MTPR writes into before a TB_FILL commit.
package cpustate

// Mode is the processor's current privilege mode, held in PS.CM.
type Mode uint8

const (
	Kernel Mode = iota
	Executive
	Supervisor
	User
)

// PS is the processor status register: current mode and interrupt
// priority level, plus the bits CALL_PAL/RTI exchange atomically.
type PS struct {
	CM  Mode
	IPL uint8 // 0..31
}

// Pack encodes PS into its architectural bit layout: IPL in bits 0:4,
// CM in bits 3:4 overlapping per the real encoding's packed fields is
// avoided here — this core keeps CM in bits 5:6 above a 5-bit IPL field,
// which is sufficient for every internal consumer (RD_PS/WR_PS, SWPCTX).
func (p PS) Pack() uint64 {
	return uint64(p.IPL&0x1f) | uint64(p.CM&0x3)<<5
}

// Unpack decodes a packed PS value produced by Pack.
func Unpack(v uint64) PS {
	return PS{
		IPL: uint8(v & 0x1f),
		CM:  Mode((v >> 5) & 0x3),
	}
}

// MCES bit layout (machine check error summary): bits 2:0 are
// write-1-to-clear, bits 4:3 are direct-write.
const (
	MCESMachineCheck uint64 = 1 << 0 // write-1-to-clear
	MCESSystemCheck  uint64 = 1 << 1 // write-1-to-clear
	MCESProcessCheck uint64 = 1 << 2 // write-1-to-clear
	MCESDisableMC    uint64 = 1 << 3 // direct-write
	MCESMME          uint64 = 1 << 4 // direct-write, machine-check-on-mbarrier-timeout enable
)

const mcesW1CMask = MCESMachineCheck | MCESSystemCheck | MCESProcessCheck
const mcesDirectMask = MCESDisableMC | MCESMME

// staged accumulates one half of a TLB fill (ITB or DTB): HW_MTPR writes
// the tag and PTE-temp halves independently, and TB_FILL commits only
// once both have been written.
type staged struct {
	tag     uint64
	pteTemp uint64
	hasTag  bool
	hasPte  bool
}

func (s *staged) writeTag(v uint64) {
	s.tag = v
	s.hasTag = true
}

func (s *staged) writePTE(v uint64) {
	s.pteTemp = v
	s.hasPte = true
}

func (s *staged) ready() bool {
	return s.hasTag && s.hasPte
}

func (s *staged) clear() {
	*s = staged{}
}

// State is one CPU's complete architectural register file.
type State struct {
	CPUID int

	// Integer and floating registers. R31/F31 read as zero; writes to
	// R31/F31 are discarded by the accessor methods below.
	ireg [32]uint64
	freg [32]uint64

	PC     uint64 // bit 0 denotes PAL mode
	ExcAddr uint64 // PC saved by PAL entry, read back by REI/RTI
	PS     PS
	ASN    uint64
	PTBR   uint64

	KSP uint64
	ESP uint64
	SSP uint64
	USP uint64

	CC uint64 // cycle counter

	MCES uint64
	SISR uint64

	ASTEN uint8 // 4-bit mask over the four modes
	ASTSR uint8

	UNQ      uint64
	PALBase  uint64
	VPTB     uint64
	SCBB     uint64
	PCBB     uint64
	PRBR     uint64 // processor base register
	DATFX    uint64
	PERFMON  uint64

	// OSF-style entry vectors.
	EntInt   uint64
	EntArith uint64
	EntMM    uint64
	EntFault uint64
	EntUna   uint64
	EntSys   uint64

	FEN bool

	itb staged
	dtb staged
}

// New returns a State with PC/PS/IPRs all zeroed, matching a CPU at
// reset before PALcode establishes its own environment.
func New(cpuID int) *State {
	return &State{CPUID: cpuID}
}

// PALMode reports whether PC bit 0 (PAL mode) is set.
func (s *State) PALMode() bool {
	return s.PC&1 != 0
}

// Reg reads integer register r. R31 always reads zero.
func (s *State) Reg(r int) uint64 {
	if r == 31 {
		return 0
	}
	return s.ireg[r]
}

// SetReg writes integer register r. Writes to R31 are discarded.
func (s *State) SetReg(r int, v uint64) {
	if r == 31 {
		return
	}
	s.ireg[r] = v
}

// FReg reads floating register r. F31 always reads zero.
func (s *State) FReg(r int) uint64 {
	if r == 31 {
		return 0
	}
	return s.freg[r]
}

// SetFReg writes floating register r. Writes to F31 are discarded.
func (s *State) SetFReg(r int, v uint64) {
	if r == 31 {
		return
	}
	s.freg[r] = v
}

// WriteMCES applies MTPR_MCES semantics: bits 2:0 are write-1-to-clear,
// bits 4:3 are direct-write.
func (s *State) WriteMCES(v uint64) {
	cleared := s.MCES &^ (v & mcesW1CMask)
	s.MCES = (cleared &^ mcesDirectMask) | (v & mcesDirectMask)
}

// StageITBTag records the tag half of a pending ITB fill.
func (s *State) StageITBTag(v uint64) { s.itb.writeTag(v) }

// StageITBPTE records the PTE half of a pending ITB fill.
func (s *State) StageITBPTE(v uint64) { s.itb.writePTE(v) }

// StageDTBTag records the tag half of a pending DTB fill.
func (s *State) StageDTBTag(v uint64) { s.dtb.writeTag(v) }

// StageDTBPTE records the PTE half of a pending DTB fill.
func (s *State) StageDTBPTE(v uint64) { s.dtb.writePTE(v) }

// CommitITB returns the staged (tag, pteTemp) pair and clears the latch
// if both halves were written; ok is false (and the latch left
// untouched) if the fill was incomplete.
func (s *State) CommitITB() (tag, pte uint64, ok bool) {
	if !s.itb.ready() {
		return 0, 0, false
	}
	tag, pte = s.itb.tag, s.itb.pteTemp
	s.itb.clear()
	return tag, pte, true
}

// CommitDTB is CommitITB's D-stream counterpart.
func (s *State) CommitDTB() (tag, pte uint64, ok bool) {
	if !s.dtb.ready() {
		return 0, 0, false
	}
	tag, pte = s.dtb.tag, s.dtb.pteTemp
	s.dtb.clear()
	return tag, pte, true
}

// ClearStagedLatches drops any incomplete ITB/DTB fill. TBIA and TBIAP
// call it; the TBIS family, PTBR writes and SWPCTX leave staged halves
// in place. A commit clears its own realm's latch.
func (s *State) ClearStagedLatches() {
	s.itb.clear()
	s.dtb.clear()
}

// StackPointer returns the stack pointer IPR for the given mode,
// consulted by SWPCTX when loading R30 from the new HWPCB.
func (s *State) StackPointer(m Mode) uint64 {
	switch m {
	case Kernel:
		return s.KSP
	case Executive:
		return s.ESP
	case Supervisor:
		return s.SSP
	default:
		return s.USP
	}
}

// SetStackPointer writes the stack pointer IPR for the given mode.
func (s *State) SetStackPointer(m Mode, v uint64) {
	switch m {
	case Kernel:
		s.KSP = v
	case Executive:
		s.ESP = v
	case Supervisor:
		s.SSP = v
	default:
		s.USP = v
	}
}
