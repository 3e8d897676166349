/*
 * EV6 - PAL vector table.
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
	"sync"

	"github.com/rcornwell/ev6/emu/fault"
)

// VectorFlags carries the per-vector attributes enterPALVector consults.
type VectorFlags uint8

const (
	// ModifiesIPL marks a vector that forces IPL to TargetIPL on entry.
	ModifiesIPL VectorFlags = 1 << iota
)

// Vector describes one entry in the PAL vector table.
type Vector struct {
	Offset    uint64 // offset from PALBase
	TargetIPL uint8
	RequiredCM uint8
	Flags     VectorFlags
	Name      string
}

// VectorTable holds the offset table and is rebased whenever PALBase
// changes.
type VectorTable struct {
	mu       sync.RWMutex
	palBase  uint64
	vectors  map[fault.PalVectorID]Vector
}

// NewVectorTable returns an empty table; vectors must be registered via
// RegisterVector before lookups succeed.
func NewVectorTable() *VectorTable {
	return &VectorTable{vectors: make(map[fault.PalVectorID]Vector)}
}

// BindPALBase sets the base address absolute entry PCs are computed
// from (PAL_BASE IPR). Existing registrations are unaffected; Lookup
// recomputes the absolute PC on every call.
func (t *VectorTable) BindPALBase(base uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.palBase = base
}

// RegisterVector installs or replaces the entry for vecID.
func (t *VectorTable) RegisterVector(vecID fault.PalVectorID, targetIPL, requiredCM uint8, flags VectorFlags, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[vecID] = Vector{TargetIPL: targetIPL, RequiredCM: requiredCM, Flags: flags, Name: name}
}

// Lookup returns the absolute entry PC for vecID and its attributes.
// ok is false if no vector was registered (the caller must escalate to
// MachineCheck per §4.2.2).
func (t *VectorTable) Lookup(vecID fault.PalVectorID) (entryPC uint64, v Vector, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok = t.vectors[vecID]
	if !ok {
		return 0, Vector{}, false
	}
	return t.palBase + v.Offset, v, true
}

// MapException is the vector table's entry point for §4.6's
// mapClassToPalVector, exposed here because the table is what callers
// actually resolve exceptions through.
func (t *VectorTable) MapException(class fault.ExceptionClass) fault.PalVectorID {
	return fault.MapClassToPalVector(class)
}

// DefaultVectorOffsets installs the standard OSF/PALcode vector layout
// (256-byte slots from PAL_BASE), matching the entry-point spacing
// real PALcode images expect.
func DefaultVectorOffsets(t *VectorTable) {
	offsets := []struct {
		id     fault.PalVectorID
		offset uint64
		ipl    uint8
		flags  VectorFlags
		name   string
	}{
		{fault.VecReset, 0x0000, 31, ModifiesIPL, "RESET"},
		{fault.VecMCHK, 0x0100, 31, ModifiesIPL, "MCHK"},
		{fault.VecArith, 0x0200, 0, 0, "ARITH"},
		{fault.VecInterrupt, 0x0300, 0, ModifiesIPL, "INTERRUPT"},
		{fault.VecITBMiss, 0x0400, 0, 0, "ITB_MISS"},
		{fault.VecITBAcv, 0x0500, 0, 0, "ITB_ACV"},
		{fault.VecOpcDec, 0x0600, 0, 0, "OPCDEC"},
		{fault.VecFen, 0x0700, 0, 0, "FEN"},
		{fault.VecUnalign, 0x0800, 0, 0, "UNALIGN"},
		{fault.VecDTBMissSingle, 0x0900, 0, 0, "DTB_MISS_SINGLE"},
		{fault.VecDTBMissDouble, 0x0a00, 0, 0, "DTB_MISS_DOUBLE"},
		{fault.VecDTBMissNative, 0x0b00, 0, 0, "DTB_MISS_NATIVE"},
		{fault.VecCallCEntryBeg, 0x2000, 0, 0, "CALL_CENTRY_BEG"},
	}
	for _, o := range offsets {
		t.RegisterVector(o.id, o.ipl, 0, o.flags, o.name)
		t.mu.Lock()
		v := t.vectors[o.id]
		v.Offset = o.offset
		t.vectors[o.id] = v
		t.mu.Unlock()
	}
}
