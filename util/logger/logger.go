/*
 * EV6 - Structured logging wrapper.
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

package logger

import (
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogHandler wraps a zap.Logger with the same coarse debug-toggle the
// emulator's command loop expects: a SetDebug switch that decides
// whether Debug records are handed to the logger at all.
type LogHandler struct {
	mu     sync.Mutex
	logger *zap.Logger
	debug  bool
}

// NewHandler builds a LogHandler writing to file at the given level
// ("debug", "info", "warn", "error"; anything else defaults to info),
// encoded the way the rest of this corpus's services log: ISO8601
// timestamps, level, message, structured fields.
func NewHandler(file io.Writer, levelName string, debug bool) *LogHandler {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(levelName); err == nil {
		level = parsed
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(file),
		level,
	)
	return &LogHandler{logger: zap.New(core), debug: debug}
}

// SetDebug toggles whether Debug-level records are also emitted.
func (h *LogHandler) SetDebug(debug bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = debug
}

// Sugar returns a SugaredLogger for call sites that prefer printf-style
// logging over structured fields.
func (h *LogHandler) Sugar() *zap.SugaredLogger {
	return h.logger.Sugar()
}

// Info logs msg at info level with structured fields.
func (h *LogHandler) Info(msg string, fields ...zap.Field) {
	h.logger.Info(msg, fields...)
}

// Warn logs msg at warn level with structured fields.
func (h *LogHandler) Warn(msg string, fields ...zap.Field) {
	h.logger.Warn(msg, fields...)
}

// Error logs msg at error level with structured fields.
func (h *LogHandler) Error(msg string, fields ...zap.Field) {
	h.logger.Error(msg, fields...)
}

// Debug logs msg at debug level, but only reaches the core's configured
// level; SetDebug(true) is typically paired with a debug-level core.
func (h *LogHandler) Debug(msg string, fields ...zap.Field) {
	h.mu.Lock()
	enabled := h.debug
	h.mu.Unlock()
	if !enabled {
		return
	}
	h.logger.Debug(msg, fields...)
}

// Sync flushes any buffered log entries, called before process exit.
func (h *LogHandler) Sync() error {
	return h.logger.Sync()
}
