// Package diag is the structured logger shared by the drivers. Records
// carry a component attribute naming the subsystem that emitted them.
package diag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component names a subsystem.
type Component string

const (
	DMA     Component = "dma"
	SPI     Component = "spi"
	UART    Component = "uart"
	Board   Component = "board"
	Console Component = "console"
)

var (
	level = new(slog.LevelVar)

	mu     sync.RWMutex
	logger *slog.Logger
)

func init() {
	level.Set(slog.LevelWarn)
	logger = NewLogger(os.Stderr)
}

// SetLevel sets the minimum level of records logged by the default logger
// and any logger created by NewLogger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

func Level() slog.Level {
	return level.Level()
}

// SetLogger replaces the default logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the default logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// NewLogger returns a text logger writing to w at the shared level.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func log(c Component, l slog.Level, msg string, args []any) {
	lg := Logger()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, msg, append([]any{"component", string(c)}, args...)...)
}

func Debug(c Component, msg string, args ...any) { log(c, slog.LevelDebug, msg, args) }
func Info(c Component, msg string, args ...any)  { log(c, slog.LevelInfo, msg, args) }
func Warn(c Component, msg string, args ...any)  { log(c, slog.LevelWarn, msg, args) }
func Error(c Component, msg string, args ...any) { log(c, slog.LevelError, msg, args) }
