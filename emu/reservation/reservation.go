/*
 * EV6 - LL/SC reservation manager.
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

// Package reservation tracks the LL/SC (load-locked/store-conditional)
// reservation that LDx_L and STx_C use to implement atomic read-modify-write
// sequences without a bus lock. Every CPU holds at most one reservation at
// a time; setting a new one or an external store to the same cache line
// clears it.
package reservation

import "sync"

// CacheLineSize is the granularity at which reservations are tracked. A
// store anywhere in the line clears any reservation covering it, matching
// the 21264's cache-line-granular coherence protocol.
const CacheLineSize = 64

// cacheLineMask clears the offset bits within a cache line.
const cacheLineMask = ^uint64(CacheLineSize - 1)

type slot struct {
	valid bool
	line  uint64
}

// Manager holds one reservation slot per CPU. The zero value is not usable;
// construct with New.
type Manager struct {
	mu    sync.Mutex
	slots []slot
}

// New creates a Manager sized for numCPUs CPUs, each starting with no
// reservation held.
func New(numCPUs int) *Manager {
	return &Manager{slots: make([]slot, numCPUs)}
}

// SetReservation records that cpu now holds a reservation covering the
// cache line containing pa. Executed by LDx_L.
func (m *Manager) SetReservation(cpu int, pa uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[cpu] = slot{valid: true, line: pa & cacheLineMask}
}

// CheckAndClearReservation reports whether cpu holds a valid reservation
// covering the cache line containing pa, and clears the slot regardless of
// the outcome. Executed by STx_C: the boolean result is the store's success
// indication, and the CPU must clear its reservation whether or not the
// conditional store succeeds.
func (m *Manager) CheckAndClearReservation(cpu int, pa uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[cpu]
	m.slots[cpu] = slot{}
	return s.valid && s.line == pa&cacheLineMask
}

// BreakReservationsOnCacheLine clears every CPU's reservation that covers
// the cache line containing pa. Called after any store (from any CPU)
// that touches that line, so a stale
// reservation can never allow a conditional store to succeed after another
// writer has touched the line.
func (m *Manager) BreakReservationsOnCacheLine(pa uint64) {
	line := pa & cacheLineMask
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		if m.slots[i].valid && m.slots[i].line == line {
			m.slots[i] = slot{}
		}
	}
}

// BreakReservation is an alias for BreakReservationsOnCacheLine, named to
// match callers that break a single address rather than iterating a range.
func (m *Manager) BreakReservation(pa uint64) {
	m.BreakReservationsOnCacheLine(pa)
}

// Holds reports whether cpu currently holds any reservation. Used by
// tests.
func (m *Manager) Holds(cpu int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[cpu].valid
}
