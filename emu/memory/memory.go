/*
 * EV6 - Guest physical memory backing store.
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

// Package memory implements the byte-addressable guest physical memory
// backing store that MBox and the PAL physical-memory helpers read and
// write. It is peripheral infrastructure (see SPEC_FULL.md, §1): it does
// not model caches, storage keys, or channel-visible access bits the way
// the teacher's word-addressed S/370 memory did, only sized accesses and
// a status code.
package memory

import (
	"encoding/binary"
	"sync"
)

// Status is the result of a sized guest memory access.
type Status int

const (
	// Ok indicates the access completed.
	Ok Status = iota
	// OutOfRange indicates the physical address (or the end of a sized
	// access) fell outside the configured memory size.
	OutOfRange
)

// DefaultSize is used when a GuestMemory is constructed with size 0.
const DefaultSize = 64 * 1024 * 1024

// GuestMemory is a flat byte-addressable physical memory array shared by
// every emulated CPU. All accesses are little-endian, matching the Alpha
// architecture's native byte order.
type GuestMemory struct {
	mu   sync.RWMutex
	data []byte
}

// New allocates a GuestMemory of the given size in bytes. A size of 0
// selects DefaultSize.
func New(size int) *GuestMemory {
	if size <= 0 {
		size = DefaultSize
	}
	return &GuestMemory{data: make([]byte, size)}
}

// Size returns the number of addressable bytes.
func (m *GuestMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *GuestMemory) inRange(pa uint64, width int) bool {
	end := pa + uint64(width)
	return end <= uint64(len(m.data)) && end >= pa
}

// Read8 reads one byte at pa.
func (m *GuestMemory) Read8(pa uint64) (uint8, Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(pa, 1) {
		return 0, OutOfRange
	}
	return m.data[pa], Ok
}

// Read16 reads a little-endian halfword at pa.
func (m *GuestMemory) Read16(pa uint64) (uint16, Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(pa, 2) {
		return 0, OutOfRange
	}
	return binary.LittleEndian.Uint16(m.data[pa : pa+2]), Ok
}

// Read32 reads a little-endian longword at pa.
func (m *GuestMemory) Read32(pa uint64) (uint32, Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(pa, 4) {
		return 0, OutOfRange
	}
	return binary.LittleEndian.Uint32(m.data[pa : pa+4]), Ok
}

// Read64 reads a little-endian quadword at pa.
func (m *GuestMemory) Read64(pa uint64) (uint64, Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(pa, 8) {
		return 0, OutOfRange
	}
	return binary.LittleEndian.Uint64(m.data[pa : pa+8]), Ok
}

// Write8 stores one byte at pa.
func (m *GuestMemory) Write8(pa uint64, v uint8) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(pa, 1) {
		return OutOfRange
	}
	m.data[pa] = v
	return Ok
}

// Write16 stores a little-endian halfword at pa.
func (m *GuestMemory) Write16(pa uint64, v uint16) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(pa, 2) {
		return OutOfRange
	}
	binary.LittleEndian.PutUint16(m.data[pa:pa+2], v)
	return Ok
}

// Write32 stores a little-endian longword at pa.
func (m *GuestMemory) Write32(pa uint64, v uint32) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(pa, 4) {
		return OutOfRange
	}
	binary.LittleEndian.PutUint32(m.data[pa:pa+4], v)
	return Ok
}

// Write64 stores a little-endian quadword at pa.
func (m *GuestMemory) Write64(pa uint64, v uint64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(pa, 8) {
		return OutOfRange
	}
	binary.LittleEndian.PutUint64(m.data[pa:pa+8], v)
	return Ok
}

// ReadPA copies len(buf) bytes starting at pa into buf, used by queue
// primitives and CSERVE string helpers that walk arbitrary byte ranges.
func (m *GuestMemory) ReadPA(pa uint64, buf []byte) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(pa, len(buf)) {
		return OutOfRange
	}
	copy(buf, m.data[pa:pa+uint64(len(buf))])
	return Ok
}

// WritePA copies buf into memory starting at pa.
func (m *GuestMemory) WritePA(pa uint64, buf []byte) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(pa, len(buf)) {
		return OutOfRange
	}
	copy(m.data[pa:pa+uint64(len(buf))], buf)
	return Ok
}
