package history

import (
	"context"
	"sync"
)

// DefaultMaxEntries bounds a MemoryLog created with a non-positive size
const DefaultMaxEntries = 1000

// MemoryLog keeps the most recent settled jobs in memory. Entries are held in
// settlement order; the oldest is dropped once the log is full.
type MemoryLog struct {
	mu      sync.RWMutex
	max     int
	entries []Entry
	index   map[string]int
}

// NewMemoryLog creates a log holding at most max entries
func NewMemoryLog(max int) *MemoryLog {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &MemoryLog{
		max:   max,
		index: make(map[string]int),
	}
}

// Record stores e
func (l *MemoryLog) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.index[e.JobID]; ok {
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		l.reindex()
	}

	l.entries = append(l.entries, e)
	l.index[e.JobID] = len(l.entries) - 1

	if len(l.entries) > l.max {
		drop := len(l.entries) - l.max
		l.entries = append([]Entry(nil), l.entries[drop:]...)
		l.reindex()
	}
	return nil
}

// Get returns the entry for jobID
func (l *MemoryLog) Get(ctx context.Context, jobID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	e := l.entries[i]
	return &e, nil
}

// Latest returns up to limit entries, newest first. A non-positive limit returns all.
func (l *MemoryLog) Latest(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Len returns the number of stored entries
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *MemoryLog) reindex() {
	l.index = make(map[string]int, len(l.entries))
	for i, e := range l.entries {
		l.index[e.JobID] = i
	}
}
