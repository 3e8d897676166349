package memory

import "testing"

func TestReadWriteRoundTrip(t *testing.T) {
	m := New(4096)

	if st := m.Write64(0x100, 0x0807060504030201); st != Ok {
		t.Fatalf("Write64 status = %v, want Ok", st)
	}
	v, st := m.Read64(0x100)
	if st != Ok || v != 0x0807060504030201 {
		t.Fatalf("Read64 = %#x, %v, want 0x0807060504030201, Ok", v, st)
	}

	b, st := m.Read8(0x100)
	if st != Ok || b != 0x01 {
		t.Fatalf("Read8 = %#x, %v, want 0x01, Ok (little-endian)", b, st)
	}

	if st := m.Write32(0x200, 0xdeadbeef); st != Ok {
		t.Fatalf("Write32 status = %v", st)
	}
	w, st := m.Read32(0x200)
	if st != Ok || w != 0xdeadbeef {
		t.Fatalf("Read32 = %#x, %v", w, st)
	}
}

func TestOutOfRange(t *testing.T) {
	m := New(16)

	if _, st := m.Read64(10); st != OutOfRange {
		t.Fatalf("Read64 past end = %v, want OutOfRange", st)
	}
	if st := m.Write8(16, 1); st != OutOfRange {
		t.Fatalf("Write8 at size = %v, want OutOfRange", st)
	}
}

func TestReadPAWritePA(t *testing.T) {
	m := New(64)
	src := []byte{1, 2, 3, 4, 5}
	if st := m.WritePA(4, src); st != Ok {
		t.Fatalf("WritePA status = %v", st)
	}
	dst := make([]byte, 5)
	if st := m.ReadPA(4, dst); st != Ok {
		t.Fatalf("ReadPA status = %v", st)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("ReadPA[%d] = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestNewDefaultSize(t *testing.T) {
	m := New(0)
	if m.Size() != DefaultSize {
		t.Fatalf("Size() = %d, want %d", m.Size(), DefaultSize)
	}
}
