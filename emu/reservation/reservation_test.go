package reservation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCheckAndClear(t *testing.T) {
	m := New(4)

	m.SetReservation(0, 0x1000)
	require.True(t, m.Holds(0), "Holds(0) after SetReservation")

	require.True(t, m.CheckAndClearReservation(0, 0x1000), "fresh reservation must match")
	assert.False(t, m.Holds(0), "reservation must be cleared after CheckAndClearReservation")

	// Second attempt with no reservation held must fail and stay cleared.
	assert.False(t, m.CheckAndClearReservation(0, 0x1000), "CheckAndClearReservation succeeded twice in a row")
}

func TestReservationGranularity(t *testing.T) {
	m := New(2)

	m.SetReservation(0, 0x2000)
	// Same cache line, different offset, must still match.
	if !m.CheckAndClearReservation(0, 0x2000+CacheLineSize-1) {
		t.Fatalf("CheckAndClearReservation within same line failed")
	}

	m.SetReservation(0, 0x2000)
	// Next cache line must not match.
	if m.CheckAndClearReservation(0, 0x2000+CacheLineSize) {
		t.Fatalf("CheckAndClearReservation matched a different cache line")
	}
}

func TestBreakReservationOnCacheLine(t *testing.T) {
	m := New(4)

	m.SetReservation(0, 0x4000)
	m.SetReservation(1, 0x4000)
	m.SetReservation(2, 0x8000)

	m.BreakReservationsOnCacheLine(0x4000 + 8)

	if m.Holds(0) || m.Holds(1) {
		t.Fatalf("reservations on broken line still held")
	}
	if !m.Holds(2) {
		t.Fatalf("unrelated reservation was incorrectly broken")
	}

	// CheckAndClearReservation after an external break must report failure.
	m.SetReservation(3, 0x4000)
	m.BreakReservation(0x4000)
	if m.CheckAndClearReservation(3, 0x4000) {
		t.Fatalf("STx_C succeeded after reservation was broken by another CPU's store")
	}
}

func TestIndependentPerCPUSlots(t *testing.T) {
	m := New(2)

	m.SetReservation(0, 0x100)
	m.SetReservation(1, 0x200)

	if !m.CheckAndClearReservation(1, 0x200) {
		t.Fatalf("CPU 1 reservation not honored independently of CPU 0")
	}
	if !m.Holds(0) {
		t.Fatalf("CPU 0 reservation cleared by CPU 1's STx_C")
	}
}
