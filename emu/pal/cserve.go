/*
 * EV6 - CSERVE console-service dispatch.
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

package pal

import "github.com/rcornwell/ev6/emu/memory"

// CserveSelector names one CSERVE function code, per the console
// service table PALcode's CALL_PAL CSERVE dispatches on.
type CserveSelector uint64

const (
	CserveGetc         CserveSelector = 0x01
	CservePutc         CserveSelector = 0x02
	CservePoll         CserveSelector = 0x03
	CserveConsoleOpen  CserveSelector = 0x07
	CservePuts         CserveSelector = 0x09
	CserveGets         CserveSelector = 0x0c
	CserveTranslate    CserveSelector = 0x10
	CserveGetEnv       CserveSelector = 0x20
	CserveSetEnv       CserveSelector = 0x21
	CserveSaveEnv      CserveSelector = 0x22
	CserveClearEnv     CserveSelector = 0x23
	CserveGetTime      CserveSelector = 0x30
	CserveSetTime      CserveSelector = 0x31
	CserveGetTimeOffset CserveSelector = 0x32
)

// CserveResult is the uniform return shape: R0 carries a selector-
// specific status/count and Payload carries string result bytes. Only
// GETS sets Payload, and it also copies the same bytes into guest
// memory.
type CserveResult struct {
	R0      int64
	Payload []byte
}

// Cserve dispatches one CSERVE call. r16/r17/r18 are the incoming
// argument registers per the selector's calling convention below.
// Unknown selectors return R0 = -1, matching real console firmware's
// "unsupported function" convention.
func (s *Service) Cserve(sel CserveSelector, r16, r17, r18 uint64) CserveResult {
	switch sel {
	case CserveGetc:
		return CserveResult{R0: int64(s.Console.GetChar(r16 != 0, int(r17)))}

	case CservePutc:
		s.Console.PutChar(byte(r16))
		return CserveResult{R0: 0}

	case CservePoll:
		if s.Console.HasInput() {
			return CserveResult{R0: 1}
		}
		return CserveResult{R0: 0}

	case CserveConsoleOpen:
		s.Console.Reset()
		if s.Console.IsConnected() {
			return CserveResult{R0: 0}
		}
		return CserveResult{R0: 1 << 61}

	case CservePuts:
		n := s.Console.PutString(cserveReadBuf(s, r16, int(r17)))
		return CserveResult{R0: int64(n)}

	case CserveGets:
		data := s.Console.GetString(int(r16), r17 != 0)
		cserveWriteBuf(s, r18, data)
		return CserveResult{R0: int64(len(data)), Payload: data}

	case CserveTranslate:
		return CserveResult{R0: int64(s.TBCHKProbe(r16))}

	case CserveGetEnv:
		name := string(cserveReadBuf(s, r16, int(r17)))
		val, ok := s.Env.Get(name)
		if !ok {
			return CserveResult{R0: -1}
		}
		cserveWriteBuf(s, r18, []byte(val))
		return CserveResult{R0: int64(len(val))}

	case CserveSetEnv:
		name := string(cserveReadBuf(s, r16, int(r17)))
		// The value at r18 is a NUL-terminated string.
		var val []byte
		for pa := r18; ; pa++ {
			b, st := s.Mem.Read8(pa)
			if st != memory.Ok || b == 0 {
				break
			}
			val = append(val, b)
		}
		s.Env.Set(name, string(val))
		return CserveResult{R0: 0}

	case CserveSaveEnv:
		s.Env.Save()
		return CserveResult{R0: 0}

	case CserveClearEnv:
		s.Env.Clear()
		return CserveResult{R0: 0}

	case CserveGetTime:
		t := s.Env.GetAdjustedTime()
		return CserveResult{R0: t.Unix()}

	case CserveSetTime:
		s.Env.SetTimeOffset(int64(r16))
		return CserveResult{R0: 0}

	case CserveGetTimeOffset:
		return CserveResult{R0: s.Env.GetTimeOffset()}

	default:
		return CserveResult{R0: -1}
	}
}

// cserveReadBuf reads an n-byte string argument out of guest memory at
// the physical address pa. A translation fault is the caller's
// responsibility (CSERVE arguments are already-translated physical
// addresses per §4.2.5); if any byte of the range lies outside guest
// memory the result is nil.
func cserveReadBuf(s *Service, pa uint64, n int) []byte {
	buf := make([]byte, n)
	if s.Mem.ReadPA(pa, buf) != memory.Ok {
		return nil
	}
	return buf
}

func cserveWriteBuf(s *Service, pa uint64, data []byte) {
	s.Mem.WritePA(pa, data)
}
