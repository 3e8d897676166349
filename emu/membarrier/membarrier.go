/*
 * EV6 - SMP memory-barrier rendezvous.
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

// Package membarrier coordinates global memory barriers (MB/IMB/DRAINA)
// across every emulated CPU: one initiator starts a barrier, every
// participant acknowledges it, and any CPU that waits past a 2-second
// deadline surfaces a machine check instead of hanging forever.
package membarrier

import (
	"sync"
	"time"

	"github.com/rcornwell/ev6/emu/fault"
)

// Deadline is the hard timeout waitForBarrierAcknowledge enforces.
const Deadline = 2 * time.Second

// Coordinator is a single process-wide barrier rendezvous point, shared
// by every CPU's PalService.
type Coordinator struct {
	mu sync.Mutex
	cv *sync.Cond

	inProgress   bool
	initiator    int
	participants int
	acknowledged int
	acked        map[int]bool
}

// New returns a Coordinator with no barrier in progress.
func New() *Coordinator {
	c := &Coordinator{acked: make(map[int]bool)}
	c.cv = sync.NewCond(&c.mu)
	return c
}

// InitiateGlobalMemoryBarrier starts a barrier on behalf of cpuID if one
// is not already in progress and activeCPUCount is at least 2. The
// initiator is immediately counted as acknowledged. Returns true if the
// caller must now broadcast barrier-recognition IPIs to the other
// participants; false if a barrier was already in progress (the caller
// should treat this as a no-op, not an error) or there is nothing to
// coordinate (fewer than 2 active CPUs).
func (c *Coordinator) InitiateGlobalMemoryBarrier(cpuID, activeCPUCount int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if activeCPUCount < 2 || c.inProgress {
		return false
	}

	c.inProgress = true
	c.initiator = cpuID
	c.participants = activeCPUCount
	c.acknowledged = 0
	c.acked = make(map[int]bool)
	c.acked[cpuID] = true
	c.acknowledged = 1
	return true
}

// AcknowledgeMemoryBarrier performs the host-level full fence implied by
// participating in the barrier and records cpuID's acknowledgement. When
// every participant has acknowledged, waiters are woken and the barrier
// completes.
func (c *Coordinator) AcknowledgeMemoryBarrier(cpuID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inProgress || c.acked[cpuID] {
		return
	}
	c.acked[cpuID] = true
	c.acknowledged++
	if c.acknowledged >= c.participants {
		c.inProgress = false
		c.cv.Broadcast()
	}
}

// WaitForBarrierAcknowledge blocks until the current barrier completes
// or Deadline elapses. On timeout it returns a PendingEvent describing
// an SMP_BARRIER_TIMEOUT machine check and ok=false; callers must raise
// it only if MCES.MME is set, per §8 invariant 11. ok=true means the
// barrier completed normally and no event should be raised.
func (c *Coordinator) WaitForBarrierAcknowledge(cpuID int) (ev fault.PendingEvent, ok bool) {
	c.mu.Lock()
	if !c.inProgress {
		c.mu.Unlock()
		return fault.PendingEvent{}, true
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for c.inProgress {
			c.cv.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(Deadline)
	defer timer.Stop()

	select {
	case <-done:
		return fault.PendingEvent{}, true
	case <-timer.C:
		return fault.PendingEvent{
			Kind:     fault.MachineCheck,
			Class:    fault.MCHK,
			MCReason: fault.MCSMPBarrierTimeout,
		}, false
	}
}

// IsBarrierInProgress reports whether a barrier is currently active.
func (c *Coordinator) IsBarrierInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// GetAcknowledgedCount returns the number of participants that have
// acknowledged the current (or most recently completed) barrier.
func (c *Coordinator) GetAcknowledgedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acknowledged
}

// GetParticipatingCount returns the participant count recorded at the
// start of the current (or most recently completed) barrier.
func (c *Coordinator) GetParticipatingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participants
}

// GetInitiatingCPU returns the CPU id that started the current (or most
// recently completed) barrier.
func (c *Coordinator) GetInitiatingCPU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initiator
}
