package ipi

import (
	"testing"

	"github.com/rcornwell/ev6/emu/cpustate"
)

func TestPostAndRecognize(t *testing.T) {
	m := New(2)
	m.PostIPI(1, Packet{Command: Custom, Payload: 42})

	if !m.Pending(1) {
		t.Fatalf("Pending(1) = false after PostIPI")
	}

	pkts := m.Recognize(1)
	if len(pkts) != 1 || pkts[0].Payload != 42 {
		t.Fatalf("Recognize = %+v, want one packet with Payload 42", pkts)
	}
	if m.Pending(1) {
		t.Fatalf("Pending(1) = true after Recognize drained the mailbox")
	}
}

func TestBroadcastExceptSkipsSelf(t *testing.T) {
	m := New(3)
	m.BroadcastExcept(0, []int{0, 1, 2}, Packet{Command: TLBInvalidateASN, ASN: 5})

	if m.Pending(0) {
		t.Fatalf("self (CPU 0) received its own broadcast")
	}
	if !m.Pending(1) || !m.Pending(2) {
		t.Fatalf("peer CPUs did not receive the broadcast")
	}
}

func TestMailboxDropsOldestWhenFull(t *testing.T) {
	m := New(1)
	for i := 0; i < QueueDepth; i++ {
		m.PostIPI(0, Packet{Command: Custom, Payload: uint64(i)})
	}
	if m.Dropped(0) != 0 {
		t.Fatalf("Dropped = %d before the mailbox was full", m.Dropped(0))
	}

	// One more post must drop the oldest (Payload 0) rather than block.
	m.PostIPI(0, Packet{Command: Custom, Payload: QueueDepth})

	if m.Dropped(0) != 1 {
		t.Fatalf("Dropped = %d, want 1", m.Dropped(0))
	}

	pkts := m.Recognize(0)
	if len(pkts) != QueueDepth {
		t.Fatalf("Recognize returned %d packets, want %d", len(pkts), QueueDepth)
	}
	if pkts[0].Payload != 1 {
		t.Fatalf("oldest surviving packet Payload = %d, want 1 (payload 0 dropped)", pkts[0].Payload)
	}
}

func TestRouterASTPending(t *testing.T) {
	r := NewRouter()
	if r.ASTPending(0b1010, 0b0101, cpustate.Kernel, 0) {
		t.Fatalf("ASTPending true with disjoint masks")
	}
	if !r.ASTPending(0b1010, 0b1000, cpustate.Kernel, 0) {
		t.Fatalf("ASTPending false with overlapping masks")
	}
}

func TestRouterASTPendingMaskedByMode(t *testing.T) {
	r := NewRouter()
	// Bit 1 (Executive) is requested and enabled, but the CPU is running
	// in a less privileged mode (Supervisor) than the request targets.
	if r.ASTPending(0b0010, 0b0010, cpustate.Supervisor, 0) {
		t.Fatalf("ASTPending true for a request targeting a more privileged mode than CM")
	}
	if !r.ASTPending(0b0010, 0b0010, cpustate.Kernel, 0) {
		t.Fatalf("ASTPending false when CM is at or above the requested mode")
	}
}

func TestRouterASTPendingMaskedByIPL(t *testing.T) {
	r := NewRouter()
	if r.ASTPending(0b1111, 0b1111, cpustate.Kernel, 1) {
		t.Fatalf("ASTPending true at nonzero IPL")
	}
}

func TestRouterLine(t *testing.T) {
	r := NewRouter()
	if r.Line(0) {
		t.Fatalf("Line(0) true before SetLine")
	}
	r.SetLine(0, true)
	if !r.Line(0) {
		t.Fatalf("Line(0) false after SetLine(0, true)")
	}
	if r.Line(1) {
		t.Fatalf("Line(1) true, SetLine only touched CPU 0")
	}
}
