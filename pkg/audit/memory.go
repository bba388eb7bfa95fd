package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in memory. Used in tests and as the fallback
// when no durable sink is configured.
type MemorySink struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *e
	s.entries = append(s.entries, &entry)
	return nil
}

// Entries returns a snapshot of everything written so far.
func (s *MemorySink) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemorySink) Close() error { return nil }

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Write(ctx context.Context, e *Entry) error { return nil }
func (NopSink) Close() error                              { return nil }
