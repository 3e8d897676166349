/*
 * EV6 - Console device contract and network-backed adapter.
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

// Package console implements the per-OPA console device CSERVE talks
// to: raw byte I/O over a net.Conn-backed transport, generalized from
// the teacher's BCD/EBCDIC 1052 console to plain ASCII bytes, since PAL
// firmware console I/O has no code-page translation step.
package console

import (
	"net"
	"sync"
	"time"
)

// Device is the contract CSERVE's GETC/PUTC/POLL/PUTS/GETS selectors
// consult. Implementations need not be network-backed; a test double
// can satisfy it directly.
type Device interface {
	GetChar(blocking bool, timeoutMs int) int
	PutChar(b byte)
	PutString(data []byte) int
	GetString(maxLen int, echo bool) []byte
	HasInput() bool
	IsConnected() bool
	Reset()
}

// Console is a Device backed by a net.Conn, buffering input the way the
// teacher's model1052 buffers console input pending a read command.
type Console struct {
	mu        sync.Mutex
	conn      net.Conn
	connected bool
	inBuf     []byte
}

// New returns a Console with no connection attached yet.
func New() *Console {
	return &Console{}
}

// Attach binds conn as the transport and starts a reader goroutine that
// appends incoming bytes to the input buffer.
func (c *Console) Attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
}

func (c *Console) readLoop(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.inBuf = append(c.inBuf, buf[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}
	}
}

// Detach disconnects the console, as if the peer closed the line.
func (c *Console) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
}

// GetChar returns the next buffered byte, or -1 if none is available
// and blocking is false. If blocking is true it polls up to timeoutMs
// (0 meaning no limit) before giving up.
func (c *Console) GetChar(blocking bool, timeoutMs int) int {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		c.mu.Lock()
		if len(c.inBuf) > 0 {
			b := c.inBuf[0]
			c.inBuf = c.inBuf[1:]
			c.mu.Unlock()
			return int(b)
		}
		c.mu.Unlock()

		if !blocking {
			return -1
		}
		if timeoutMs > 0 && time.Now().After(deadline) {
			return -1
		}
		time.Sleep(time.Millisecond)
	}
}

// PutChar writes b to the transport if connected; it is a no-op
// otherwise.
func (c *Console) PutChar(b byte) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if connected && conn != nil {
		conn.Write([]byte{b})
	}
}

// PutString writes data to the transport and returns the byte count
// CSERVE's PUTS reports back in R0.
func (c *Console) PutString(data []byte) int {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return 0
	}
	n, _ := conn.Write(data)
	return n
}

// GetString drains up to maxLen buffered bytes, stopping early at a
// newline. When echo is true, each consumed byte is also written back
// to the transport.
func (c *Console) GetString(maxLen int, echo bool) []byte {
	var out []byte
	for len(out) < maxLen {
		b := c.GetChar(false, 0)
		if b < 0 {
			break
		}
		out = append(out, byte(b))
		if echo {
			c.PutChar(byte(b))
		}
		if b == '\n' {
			break
		}
	}
	return out
}

// HasInput reports whether at least one byte is buffered.
func (c *Console) HasInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inBuf) > 0
}

// IsConnected reports whether the transport is currently attached.
func (c *Console) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Reset discards any buffered input, used by CSERVE CONSOLE_OPEN.
func (c *Console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inBuf = nil
}
