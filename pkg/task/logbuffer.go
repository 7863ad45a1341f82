package task

import "sync"

// logBuffer is a task's append-only (from the writer's side) log store.
// Reads are cursor-based: poll(min, max) returns every entry whose cursor
// is >= min, and when min is supplied it also drops everything before it
// from the buffer — a caller that has already consumed entries up to
// cursor N is never handed them again, and the buffer doesn't grow
// unbounded for a task nobody is polling as long as somebody eventually
// does.
type logBuffer struct {
	mu      sync.RWMutex
	entries []CursorLogEntry
	next    uint64
}

func newLogBuffer() *logBuffer {
	return &logBuffer{next: 1}
}

// append adds one entry and returns the cursor it was stored under.
func (b *logBuffer) append(e LogEntry) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	cursor := b.next
	b.next++
	b.entries = append(b.entries, CursorLogEntry{Cursor: cursor, Log: e})
	return cursor
}

// depth reports how many entries are currently buffered.
func (b *logBuffer) depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// poll returns up to maximum entries whose cursor is >= cursor (when
// cursor is non-nil). When cursor is non-nil, every returned entry and
// every entry before it is pruned from the buffer, so a second poll with
// the same cursor returns nothing.
func (b *logBuffer) poll(cursor *uint64, maximum *int) []CursorLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if cursor != nil {
		for i, e := range b.entries {
			if e.Cursor >= *cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	available := b.entries[start:]
	n := len(available)
	if maximum != nil && *maximum < n {
		n = *maximum
	}
	out := make([]CursorLogEntry, n)
	copy(out, available[:n])

	if cursor != nil {
		// Drop everything up through what this call consumed; entries
		// beyond n (requested but not yet returned because of maximum)
		// stay buffered for the next poll.
		b.entries = append([]CursorLogEntry(nil), available[n:]...)
	}

	return out
}
