// Package logring keeps a bounded in-memory window of recent log records
// so the ops listener can expose them without touching log files.
package logring

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a thread-safe circular buffer of log entries. Once full, each
// new entry overwrites the oldest.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	wrapped bool
}

// NewRing creates a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Add records an entry, overwriting the oldest when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.wrapped = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit entries at or above minLevel, newest first.
// limit <= 0 means no limit.
func (r *Ring) Recent(limit int, minLevel slog.Level) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	var out []Entry
	for i := 0; i < n && (limit <= 0 || len(out) < limit); i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		e := r.entries[idx]
		if e.Level < minLevel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of captured entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring) lenLocked() int {
	if r.wrapped {
		return len(r.entries)
	}
	return r.next
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.entries)
}
