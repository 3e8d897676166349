/*
 * EV6 - INSQ/REMQ queue primitives.
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

import "github.com/rcornwell/ev6/emu/memory"

// linkWidth selects longword (32-bit) or quadword (64-bit) queue links.
type linkWidth int

const (
	linkLong linkWidth = iota
	linkQuad
)

func (w linkWidth) size() uint64 {
	if w == linkQuad {
		return 8
	}
	return 4
}

func readLink(mem *memory.GuestMemory, pa uint64, w linkWidth) (uint64, bool) {
	if w == linkQuad {
		v, status := mem.Read64(pa)
		return v, status == memory.Ok
	}
	v, status := mem.Read32(pa)
	return uint64(v), status == memory.Ok
}

func writeLink(mem *memory.GuestMemory, pa, v uint64, w linkWidth) bool {
	if w == linkQuad {
		return mem.Write64(pa, v) == memory.Ok
	}
	return mem.Write32(pa, uint32(v)) == memory.Ok
}

// Queue entry layout: flink at +0, blink at +size(w).
func flinkAddr(entry uint64) uint64            { return entry }
func blinkAddr(entry uint64, w linkWidth) uint64 { return entry + w.size() }

// insqHead implements INSQHIL/INSQHIQ: insert newEntry at the head of
// the queue rooted at header. Returns ok=false on any translated
// address's memory access failure (the caller reports 1 in R0).
func insqHead(mem *memory.GuestMemory, header, newEntry uint64, w linkWidth) bool {
	oldHead, ok := readLink(mem, flinkAddr(header), w)
	if !ok {
		return false
	}
	if !writeLink(mem, flinkAddr(header), newEntry, w) {
		return false
	}
	if !writeLink(mem, flinkAddr(newEntry), oldHead, w) {
		return false
	}
	if !writeLink(mem, blinkAddr(newEntry, w), header, w) {
		return false
	}
	if !writeLink(mem, blinkAddr(oldHead, w), newEntry, w) {
		return false
	}
	return true
}

// insqTail implements INSQTIL/INSQTIQ: insert newEntry at the tail.
// header.blink holds the current tail's address.
func insqTail(mem *memory.GuestMemory, header, newEntry uint64, w linkWidth) bool {
	oldTail, ok := readLink(mem, blinkAddr(header, w), w)
	if !ok {
		return false
	}
	if !writeLink(mem, blinkAddr(header, w), newEntry, w) {
		return false
	}
	if !writeLink(mem, blinkAddr(newEntry, w), oldTail, w) {
		return false
	}
	if !writeLink(mem, flinkAddr(newEntry), header, w) {
		return false
	}
	if !writeLink(mem, flinkAddr(oldTail), newEntry, w) {
		return false
	}
	return true
}

// remqHead implements REMQHIL/REMQHIQ: remove and return the entry at
// the head of the queue rooted at header. empty is true if the queue
// had no entries (R1=0, R0=1 in the PAL ABI per §8 invariant 13).
func remqHead(mem *memory.GuestMemory, header uint64, w linkWidth) (entry uint64, empty, ok bool) {
	head, readOK := readLink(mem, flinkAddr(header), w)
	if !readOK {
		return 0, false, false
	}
	if head == header {
		return 0, true, true
	}
	next, readOK := readLink(mem, flinkAddr(head), w)
	if !readOK {
		return 0, false, false
	}
	if !writeLink(mem, flinkAddr(header), next, w) {
		return 0, false, false
	}
	if !writeLink(mem, blinkAddr(next, w), header, w) {
		return 0, false, false
	}
	return head, false, true
}

// remqTail implements REMQTIL/REMQTIQ: remove and return the entry at
// the tail of the queue rooted at header.
func remqTail(mem *memory.GuestMemory, header uint64, w linkWidth) (entry uint64, empty, ok bool) {
	tail, readOK := readLink(mem, blinkAddr(header, w), w)
	if !readOK {
		return 0, false, false
	}
	if tail == header {
		return 0, true, true
	}
	prev, readOK := readLink(mem, blinkAddr(tail, w), w)
	if !readOK {
		return 0, false, false
	}
	if !writeLink(mem, blinkAddr(header, w), prev, w) {
		return 0, false, false
	}
	if !writeLink(mem, flinkAddr(prev), header, w) {
		return 0, false, false
	}
	return tail, false, true
}

// remqEntry implements the general unlink used by restartable remove
// variants: e.flink.blink = e.blink; e.blink.flink = e.flink.
func remqEntry(mem *memory.GuestMemory, entry uint64, w linkWidth) bool {
	fl, ok := readLink(mem, flinkAddr(entry), w)
	if !ok {
		return false
	}
	bl, ok := readLink(mem, blinkAddr(entry, w), w)
	if !ok {
		return false
	}
	if !writeLink(mem, blinkAddr(fl, w), bl, w) {
		return false
	}
	if !writeLink(mem, flinkAddr(bl), fl, w) {
		return false
	}
	return true
}
