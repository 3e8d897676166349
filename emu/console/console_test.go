package console

import "testing"

func TestGetCharNonBlockingEmpty(t *testing.T) {
	c := New()
	if got := c.GetChar(false, 0); got != -1 {
		t.Fatalf("GetChar on empty buffer = %d, want -1", got)
	}
}

func TestResetClearsBufferedInput(t *testing.T) {
	c := New()
	c.mu.Lock()
	c.inBuf = []byte("hello")
	c.mu.Unlock()

	if !c.HasInput() {
		t.Fatalf("HasInput() = false with buffered bytes")
	}
	c.Reset()
	if c.HasInput() {
		t.Fatalf("HasInput() = true after Reset")
	}
}

func TestGetStringStopsAtNewline(t *testing.T) {
	c := New()
	c.mu.Lock()
	c.inBuf = []byte("hi\nmore")
	c.mu.Unlock()

	out := c.GetString(64, false)
	if string(out) != "hi\n" {
		t.Fatalf("GetString = %q, want %q", out, "hi\n")
	}
}

func TestNotConnectedByDefault(t *testing.T) {
	c := New()
	if c.IsConnected() {
		t.Fatalf("IsConnected() = true before Attach")
	}
	if n := c.PutString([]byte("x")); n != 0 {
		t.Fatalf("PutString without a transport returned %d, want 0", n)
	}
}
