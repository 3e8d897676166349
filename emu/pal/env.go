/*
 * EV6 - CSERVE environment-variable store.
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

import (
	"sync"
	"time"
)

// EnvStore backs CSERVE's GET_ENV/SET_ENV/SAVE_ENV/CLEAR_ENV/GET_TIME/
// SET_TIME/GET_TIME_OFFSET selectors. It is shared across every CPU's
// PalService.
type EnvStore struct {
	mu         sync.RWMutex
	vars       map[string]string
	timeOffset int64 // seconds, applied on top of host wall-clock time
}

// NewEnvStore returns an empty store with no time offset.
func NewEnvStore() *EnvStore {
	return &EnvStore{vars: make(map[string]string)}
}

// Get returns the named variable's value and whether it exists.
func (e *EnvStore) Get(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[name]
	return v, ok
}

// Set stores value under name.
func (e *EnvStore) Set(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = value
}

// Exists reports whether name has been set.
func (e *EnvStore) Exists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.vars[name]
	return ok
}

// Clear removes every stored variable, used by CSERVE CLEAR_ENV.
func (e *EnvStore) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars = make(map[string]string)
}

// Save is a no-op persistence hook for CSERVE SAVE_ENV: this core has
// no backing file to flush (composition root owns any such concern),
// so it only exists to keep the selector dispatchable.
func (e *EnvStore) Save() {}

// GetAdjustedTime returns the host wall-clock time shifted by the
// stored offset, as CSERVE GET_TIME reports it.
func (e *EnvStore) GetAdjustedTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return time.Now().Add(time.Duration(e.timeOffset) * time.Second)
}

// GetTimeOffset returns the currently configured offset in seconds.
func (e *EnvStore) GetTimeOffset() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeOffset
}

// SetTimeOffset updates the offset CSERVE SET_TIME derives from the
// caller's requested wall-clock time.
func (e *EnvStore) SetTimeOffset(seconds int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeOffset = seconds
}
