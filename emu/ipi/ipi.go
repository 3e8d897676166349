/*
 * EV6 - Inter-processor interrupt manager.
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

// Package ipi implements the bounded per-CPU inter-processor interrupt
// mailboxes and the AST-line interrupt-pending/claim logic that
// PalService consults on recognition points.
package ipi

import (
	"sync"

	"github.com/rcornwell/ev6/emu/cpustate"
	"golang.org/x/sync/semaphore"
)

// Command identifies the kind of IPI packet posted to a target CPU.
type Command int

const (
	// TLBInvalidateVAITB asks the target to invalidate a single
	// (VA, ASN) entry; TBIS broadcasts it and the recipient clears the
	// entry in both its instruction and data TLBs.
	TLBInvalidateVAITB Command = iota
	// TLBInvalidateASN asks the target to invalidate every non-global
	// entry tagged with the given ASN.
	TLBInvalidateASN
	// Custom is a general-purpose interrupt carrying an opaque payload.
	Custom
)

// Packet is one queued IPI: a command and its payload.
type Packet struct {
	Command Command
	VA      uint64
	ASN     uint64
	Payload uint64
}

// QueueDepth is the fixed capacity of each per-CPU mailbox.
const QueueDepth = 32

type mailbox struct {
	mu    sync.Mutex
	sem   *semaphore.Weighted
	queue []Packet
	// dropped counts packets discarded because the queue was full when
	// postIPI was called, per §5's "a full queue drops the oldest entry
	// and counts it."
	dropped uint64
}

func newMailbox() *mailbox {
	return &mailbox{sem: semaphore.NewWeighted(QueueDepth)}
}

// Manager owns one bounded mailbox per CPU.
type Manager struct {
	boxes []*mailbox
}

// New creates a Manager for numCPUs CPUs, each with an empty mailbox.
func New(numCPUs int) *Manager {
	boxes := make([]*mailbox, numCPUs)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	return &Manager{boxes: boxes}
}

// PostIPI enqueues pkt for target. It never blocks the sender past
// QueueDepth: if the target's mailbox is full, the oldest queued packet
// is dropped (and counted) to make room, so the call is lock-free with
// respect to the target's own consumption pace.
func (m *Manager) PostIPI(target int, pkt Packet) {
	box := m.boxes[target]
	box.mu.Lock()
	defer box.mu.Unlock()

	if !box.sem.TryAcquire(1) {
		box.queue = box.queue[1:]
		box.dropped++
		box.sem.Release(1)
		box.sem.TryAcquire(1)
	}
	box.queue = append(box.queue, pkt)
}

// BroadcastExcept posts pkt to every CPU except self, implementing
// MTPR_IPIR/WRIPIR's "send to each target named by R16 except self."
func (m *Manager) BroadcastExcept(self int, targets []int, pkt Packet) {
	for _, t := range targets {
		if t == self {
			continue
		}
		m.PostIPI(t, pkt)
	}
}

// Recognize drains and returns every packet queued for cpu since the
// last call, consumed at the target's next recognition point per §5.
func (m *Manager) Recognize(cpu int) []Packet {
	box := m.boxes[cpu]
	box.mu.Lock()
	defer box.mu.Unlock()

	pkts := box.queue
	box.queue = nil
	for range pkts {
		box.sem.Release(1)
	}
	return pkts
}

// Pending reports whether cpu has any unrecognized IPI packets queued.
func (m *Manager) Pending(cpu int) bool {
	box := m.boxes[cpu]
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.queue) > 0
}

// Dropped returns the number of packets discarded for cpu due to a full
// mailbox, for diagnostics.
func (m *Manager) Dropped(cpu int) uint64 {
	box := m.boxes[cpu]
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.dropped
}

// Router tracks per-CPU AST-line state and determines whether an AST
// interrupt is currently asserted. It is a thin complement to Manager:
// IPIs deliver cross-CPU requests, Router decides whether a pending AST
// is recognized at the current mode/IPL and latches the per-CPU AST
// line PalService raises or clears after every masked ASTEN/ASTSR RMW.
type Router struct {
	mu    sync.Mutex
	lines map[int]bool
}

// NewRouter returns a Router with every CPU's AST line clear.
func NewRouter() *Router {
	return &Router{lines: make(map[int]bool)}
}

// ASTPending reports whether an AST is deliverable given the current
// ASTEN/ASTSR masks, mode, and IPL. A request for mode m (bit m of
// astsr) is deliverable when ASTEN enables it (bit m of aster) and the
// CPU is running at mode m or a more privileged one (m >= cm, per this
// core's Kernel=0..User=3 ordering); ASTs are only recognized at IPL 0.
func (r *Router) ASTPending(aster, astsr uint8, cm cpustate.Mode, ipl uint8) bool {
	if ipl != 0 {
		return false
	}
	for m := cm; m <= cpustate.User; m++ {
		bit := uint8(1) << uint(m)
		if aster&bit != 0 && astsr&bit != 0 {
			return true
		}
	}
	return false
}

// SetLine raises or clears cpu's AST line, called by PalService after
// recomputing ASTPending.
func (r *Router) SetLine(cpu int, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[cpu] = pending
}

// Line reports the current state of cpu's AST line.
func (r *Router) Line(cpu int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[cpu]
}
