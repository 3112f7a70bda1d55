// Package logbuf keeps the most recent log records in memory so that the
// daemon can serve them over its API.
package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Workflow returns the workflow label the entry was logged under, if any.
func (e Entry) Workflow() string {
	s, _ := e.Attrs["workflow"].(string)
	return s
}

// Filter selects entries from a Buffer. The zero value matches everything.
type Filter struct {
	Since    time.Time  // entries strictly before Since are dropped
	MinLevel slog.Level // defaults to INFO when zero-valued
	Workflow string     // match the "workflow" attribute exactly
	Limit    int        // keep only the newest Limit entries; <= 0 keeps all
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a new ring buffer that holds up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry to the ring buffer.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry

	start := 0
	if b.count == b.size {
		start = b.pos // oldest entry when buffer is full
	}

	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%b.size]

		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if ParseLevel(e.Level) < f.MinLevel {
			continue
		}
		if f.Workflow != "" && e.Workflow() != f.Workflow {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// ParseLevel converts a level name (case-insensitive) back to slog.Level.
// Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
