package conversation

import (
	"strings"
	"sync"
)

const DefaultCap = 12

// Window is a bounded FIFO of "speaker: text" lines used as LLM context.
// Oldest entries are evicted once the cap is exceeded.
type Window struct {
	mu    sync.Mutex
	cap   int
	lines []string
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Window{cap: capacity, lines: make([]string, 0, capacity)}
}

// Append records one line and returns the resulting length.
func (w *Window) Append(speaker, text string) int {
	line := FormatLine(speaker, text)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if over := len(w.lines) - w.cap; over > 0 {
		copy(w.lines, w.lines[over:])
		w.lines = w.lines[:w.cap]
	}
	return len(w.lines)
}

// Tail returns a copy of the last n lines (all lines when n <= 0).
func (w *Window) Tail(n int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.lines) {
		n = len(w.lines)
	}
	out := make([]string, n)
	copy(out, w.lines[len(w.lines)-n:])
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lines)
}

func (w *Window) Cap() int { return w.cap }

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = w.lines[:0]
}

func FormatLine(speaker, text string) string {
	return strings.TrimSpace(speaker) + ": " + strings.TrimSpace(text)
}

// SplitLine is the inverse of FormatLine. ok is false when the line has no
// speaker prefix.
func SplitLine(line string) (speaker, text string, ok bool) {
	speaker, text, ok = strings.Cut(line, ": ")
	if !ok || strings.TrimSpace(speaker) == "" {
		return "", line, false
	}
	return speaker, text, true
}
