package observability

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const DefaultLogCap = 200

// Entry is one line of the transcript or debug trace shown on the dashboard.
type Entry struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Source string    `json:"source,omitempty"`
	Text   string    `json:"text"`
}

// LogBuffer is a capped ring of entries shared by every worker. It is for
// display only; nothing reads it back for decisions.
type LogBuffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
	echo    bool
	now     func() time.Time
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &LogBuffer{entries: make([]Entry, capacity), now: time.Now}
}

// WithEcho mirrors every appended entry to the standard logger.
func (b *LogBuffer) WithEcho() *LogBuffer {
	b.echo = true
	return b
}

func (b *LogBuffer) Add(kind, source, text string) {
	if b == nil {
		return
	}
	e := Entry{Time: b.now().UTC(), Kind: kind, Source: source, Text: text}
	b.mu.Lock()
	b.appendLocked(e)
	b.mu.Unlock()
	b.echoEntry(e)
}

// dedupScan bounds how far back AddUnique looks for a duplicate.
const dedupScan = 16

// AddUnique appends the entry unless an identical one was added within the
// last window. Listeners that hear the same room line call it so the line
// lands once. It reports whether the entry was appended.
func (b *LogBuffer) AddUnique(kind, source, text string, window time.Duration) bool {
	if b == nil {
		return false
	}
	e := Entry{Time: b.now().UTC(), Kind: kind, Source: source, Text: text}
	b.mu.Lock()
	size := b.next
	if b.filled {
		size = len(b.entries)
	}
	for i := 1; i <= size && i <= dedupScan; i++ {
		prev := b.entries[(b.next-i+len(b.entries))%len(b.entries)]
		if e.Time.Sub(prev.Time) > window {
			break
		}
		if prev.Kind == kind && prev.Source == source && prev.Text == text {
			b.mu.Unlock()
			return false
		}
	}
	b.appendLocked(e)
	b.mu.Unlock()
	b.echoEntry(e)
	return true
}

func (b *LogBuffer) appendLocked(e Entry) {
	b.entries[b.next] = e
	b.next++
	if b.next >= len(b.entries) {
		b.next = 0
		b.filled = true
	}
}

func (b *LogBuffer) echoEntry(e Entry) {
	if !b.echo {
		return
	}
	if e.Source != "" {
		log.Printf("[%s] %s: %s", e.Kind, e.Source, e.Text)
	} else {
		log.Printf("[%s] %s", e.Kind, e.Text)
	}
}

func (b *LogBuffer) Addf(kind, source, format string, args ...any) {
	if b == nil {
		return
	}
	b.Add(kind, source, fmt.Sprintf(format, args...))
}

// Tail returns up to n entries, oldest first (all when n <= 0).
func (b *LogBuffer) Tail(n int) []Entry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.filled {
		size = len(b.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	start := b.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(b.entries)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out
}

func (b *LogBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.filled {
		return len(b.entries)
	}
	return b.next
}
