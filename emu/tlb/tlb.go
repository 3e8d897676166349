/*
 * EV6 - TLB shard manager (SPAM).
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

// Package tlb implements the per-CPU instruction and data translation
// lookaside buffers, tagged by address space number (ASN), that back
// address translation. Each CPU owns two independent shards (I and D);
// entries marked ASM (address-space match, "global") are visible
// regardless of the probing ASN.
package tlb

import "sync"

// Realm selects which TLB shard (instruction or data) an operation
// targets.
type Realm int

const (
	// I is the instruction-stream TLB.
	I Realm = iota
	// D is the data-stream TLB.
	D
)

// PageOffsetBits is the number of VA bits within an 8 KiB page.
const PageOffsetBits = 13

// PageMask clears the VA bits below a page boundary.
const PageMask = ^uint64(1<<PageOffsetBits - 1)

// PTE is a page table entry as staged and committed into the TLB.
type PTE struct {
	Valid bool
	KRE   bool // kernel read enable
	KWE   bool // kernel write enable
	URE   bool // user read enable
	UWE   bool // user write enable
	FOR   bool // fault on read
	FOW   bool // fault on write
	FOE   bool // fault on execute
	ASM   bool // address-space match (global)
	PFN   uint64
	SC    uint8 // page-size class
}

// PermMask derives the probe-style access-enable mask PROBER/PROBEW
// consult: bit 0 kernel-read, 1 kernel-write, 2 user-read, 3 user-write.
// The fault-on-* bits are reported separately by FaultMask, so a PTE that
// enables an access but also demands a fault on it is distinguishable
// from one that never enabled the access at all.
func (p PTE) PermMask() uint8 {
	var m uint8
	if p.KRE {
		m |= 1 << 0
	}
	if p.KWE {
		m |= 1 << 1
	}
	if p.URE {
		m |= 1 << 2
	}
	if p.UWE {
		m |= 1 << 3
	}
	return m
}

// FaultMask bit positions within Entry.Fault: bit 0 fault-on-read, bit 1
// fault-on-write, bit 2 fault-on-execute.
const (
	FaultOnRead uint8 = 1 << iota
	FaultOnWrite
	FaultOnExecute
)

// FaultMask derives the fault-on-* bits PROBER/PROBEW and the translator
// consult once an access is known enabled.
func (p PTE) FaultMask() uint8 {
	var m uint8
	if p.FOR {
		m |= FaultOnRead
	}
	if p.FOW {
		m |= FaultOnWrite
	}
	if p.FOE {
		m |= FaultOnExecute
	}
	return m
}

// Entry is a resolved TLB entry as returned by Lookup.
type Entry struct {
	Valid bool
	PFN   uint64
	Perm  uint8 // access-enable mask, see PTE.PermMask
	Fault uint8 // fault-on-* mask, see PTE.FaultMask
	SC    uint8
}

type key struct {
	asn uint64
	va  uint64 // page number (VA >> PageOffsetBits)
}

type shard struct {
	mu      sync.RWMutex
	entries map[key]PTE
	global  map[uint64]PTE // keyed by page number only, matches any ASN
}

func newShard() *shard {
	return &shard{
		entries: make(map[key]PTE),
		global:  make(map[uint64]PTE),
	}
}

func (s *shard) lookup(va, asn uint64) (PTE, bool) {
	page := va >> PageOffsetBits
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pte, ok := s.global[page]; ok {
		return pte, true
	}
	pte, ok := s.entries[key{asn: asn, va: page}]
	return pte, ok
}

func (s *shard) insert(asn, va uint64, pte PTE) {
	page := va >> PageOffsetBits
	s.mu.Lock()
	defer s.mu.Unlock()
	if pte.ASM {
		s.global[page] = pte
		return
	}
	s.entries[key{asn: asn, va: page}] = pte
}

func (s *shard) invalidateEntry(va, asn uint64) {
	page := va >> PageOffsetBits
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key{asn: asn, va: page})
	delete(s.global, page)
}

func (s *shard) invalidateASN(asn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.asn == asn {
			delete(s.entries, k)
		}
	}
}

func (s *shard) invalidateNonASM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[key]PTE)
}

func (s *shard) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[key]PTE)
	s.global = make(map[uint64]PTE)
}

// perCPU holds the I and D shards for one CPU.
type perCPU struct {
	i *shard
	d *shard
}

// Manager owns one I+D shard pair per CPU.
type Manager struct {
	cpus []perCPU
}

// New creates a Manager for numCPUs CPUs, each with empty I and D TLBs.
func New(numCPUs int) *Manager {
	cpus := make([]perCPU, numCPUs)
	for i := range cpus {
		cpus[i] = perCPU{i: newShard(), d: newShard()}
	}
	return &Manager{cpus: cpus}
}

func (m *Manager) shard(cpu int, realm Realm) *shard {
	if realm == I {
		return m.cpus[cpu].i
	}
	return m.cpus[cpu].d
}

// Lookup probes the TLB for (cpu, realm, va, asn). The returned Entry is
// valid only when hit is true.
func (m *Manager) Lookup(cpu int, realm Realm, va, asn uint64) (entry Entry, hit bool) {
	pte, ok := m.shard(cpu, realm).lookup(va, asn)
	if !ok {
		return Entry{}, false
	}
	return Entry{Valid: pte.Valid, PFN: pte.PFN, Perm: pte.PermMask(), Fault: pte.FaultMask(), SC: pte.SC}, true
}

// Insert commits pte into the TLB for (cpu, realm) at (asn, va). ASM
// entries are stored once and match any ASN.
func (m *Manager) Insert(cpu int, realm Realm, asn, va uint64, pte PTE) {
	m.shard(cpu, realm).insert(asn, va, pte)
}

// InvalidateEntry removes the single (va, asn) mapping, in both the
// targeted realm's ASN-tagged and global slots.
func (m *Manager) InvalidateEntry(cpu int, realm Realm, va, asn uint64) {
	m.shard(cpu, realm).invalidateEntry(va, asn)
}

// InvalidateByASN removes every non-global entry tagged with asn, in the
// given realm.
func (m *Manager) InvalidateByASN(cpu int, realm Realm, asn uint64) {
	m.shard(cpu, realm).invalidateASN(asn)
}

// InvalidateNonASM clears every non-global entry in both realms for cpu,
// used on a PTBR (process context) change per MTPR_TBIAP / SWPCTX.
func (m *Manager) InvalidateNonASM(cpu int) {
	m.cpus[cpu].i.invalidateNonASM()
	m.cpus[cpu].d.invalidateNonASM()
}

// InvalidateAll clears both realms of cpu entirely, used by MTPR_TBIA.
func (m *Manager) InvalidateAll(cpu int) {
	m.cpus[cpu].i.invalidateAll()
	m.cpus[cpu].d.invalidateAll()
}

// TbisInvalidate removes (va, asn) from both I and D realms, mirroring
// MTPR_TBIS's local-plus-broadcast single-VA invalidate.
func (m *Manager) TbisInvalidate(cpu int, va, asn uint64) {
	m.InvalidateEntry(cpu, I, va, asn)
	m.InvalidateEntry(cpu, D, va, asn)
}

// TbisdInvalidate removes (va, asn) from the D realm only, for MTPR_TBISD.
func (m *Manager) TbisdInvalidate(cpu int, va, asn uint64) {
	m.InvalidateEntry(cpu, D, va, asn)
}

// TbisiInvalidate removes (va, asn) from the I realm only, for MTPR_TBISI.
func (m *Manager) TbisiInvalidate(cpu int, va, asn uint64) {
	m.InvalidateEntry(cpu, I, va, asn)
}

// TbchkProbe implements MFPR_TBCHK: probes the D-stream TLB for (va, asn)
// without side effects, returning 1 on hit and 0 on miss.
func (m *Manager) TbchkProbe(cpu int, va, asn uint64) uint64 {
	if _, hit := m.Lookup(cpu, D, va, asn); hit {
		return 1
	}
	return 0
}
