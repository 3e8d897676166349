/*
 * EV6 - VA-to-PA translator.
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

// Package translator resolves a virtual address to a physical address
// using the per-CPU TLB, honoring KSEG physical-mode bypass and the
// read/write/execute permission bits carried in each PTE.
package translator

import (
	"github.com/rcornwell/ev6/emu/cpustate"
	"github.com/rcornwell/ev6/emu/tlb"
)

// AccessKind is the operation being translated.
type AccessKind int

const (
	Read AccessKind = iota
	Write
	Execute
)

// Result classifies the outcome of a translation attempt.
type Result int

const (
	Success Result = iota
	ITBMiss
	DTBMiss
	InvalidPTE
	FaultOnRead
	FaultOnWrite
	FaultOnExecute
	AccessViolation
)

// kseg is the base of the direct-mapped physical segment: VAs at or
// above this bound bypass the TLB entirely, per the Alpha superpage
// convention this core exposes without modeling granularity hints.
const kseg = uint64(1) << 46

// physModeBase marks the mid-range VAs that pass through untranslated
// while the CPU's va_ctl<1> physical-mode bit is clear.
const physModeBase = uint64(1) << 43

// permBit returns which bit of tlb.Entry.Perm governs kind in mode.
func permBit(kind AccessKind, mode cpustate.Mode) uint8 {
	user := mode == cpustate.User
	switch kind {
	case Write:
		if user {
			return 1 << 3
		}
		return 1 << 1
	default: // Read, Execute (execute maps to read per §4.3)
		if user {
			return 1 << 2
		}
		return 1 << 0
	}
}

// faultBit returns which bit of tlb.Entry.Fault governs kind.
func faultBit(kind AccessKind) uint8 {
	switch kind {
	case Write:
		return tlb.FaultOnWrite
	case Execute:
		return tlb.FaultOnExecute
	default:
		return tlb.FaultOnRead
	}
}

// Translate resolves va for the given realm, access kind, and mode.
// physicalMode selects whether mid-range VAs bypass translation (the
// CPU's va_ctl<1> bit).
func Translate(tlbMgr *tlb.Manager, cpu int, realm tlb.Realm, va uint64, kind AccessKind, mode cpustate.Mode, asn uint64, physicalMode bool) (pa uint64, result Result) {
	if va >= kseg {
		return va &^ kseg, Success
	}
	if physicalMode && va >= physModeBase && va < kseg {
		return va &^ physModeBase, Success
	}

	entry, hit := tlbMgr.Lookup(cpu, realm, va, asn)
	if !hit {
		if realm == tlb.I {
			return 0, ITBMiss
		}
		return 0, DTBMiss
	}
	if !entry.Valid {
		return 0, InvalidPTE
	}
	if entry.Perm&permBit(kind, mode) == 0 {
		return 0, AccessViolation
	}
	if entry.Fault&faultBit(kind) != 0 {
		switch kind {
		case Write:
			return 0, FaultOnWrite
		case Execute:
			return 0, FaultOnExecute
		default:
			return 0, FaultOnRead
		}
	}

	offset := va &^ tlb.PageMask
	pageBase := entry.PFN << tlb.PageOffsetBits
	return pageBase | offset, Success
}
