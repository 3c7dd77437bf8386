package audit

import (
	"context"
	"errors"
	"sync"
)

// MultiSink fans an entry out to several sinks. Every sink is attempted;
// failures are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record writes to all sinks concurrently and waits for them
func (m *MultiSink) Record(ctx context.Context, e *Entry) error {
	if len(m.sinks) == 0 {
		return nil
	}
	if len(m.sinks) == 1 {
		return m.sinks[0].Record(ctx, e)
	}

	errs := make([]error, len(m.sinks))
	var wg sync.WaitGroup
	for i, sink := range m.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			errs[i] = s.Record(ctx, e)
		}(i, sink)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close closes all sinks
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps entries in memory. Used by tests and the dry-run CLI.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	m.entries = append(m.entries, cp)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Entries returns a copy of all recorded entries
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByAction returns recorded entries with the given action
func (m *MemorySink) ByAction(action Action) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// BySeverity returns recorded entries with the given severity
func (m *MemorySink) BySeverity(sev Severity) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all entries
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
