package dns

import (
	"context"
	"sync"

	apperrors "drguard/internal/errors"
)

// MemoryProvider is an in-process Provider used by tests and dry runs.
// Records propagate after a configurable number of polls.
type MemoryProvider struct {
	mu           sync.Mutex
	records      map[string]Record
	pollsNeeded  map[string]int
	UpsertErr    error
	UpsertCalls  int
	WaitCalls    int
	PropagateLag int
}

// NewMemoryProvider creates an empty in-memory DNS provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		records:     make(map[string]Record),
		pollsNeeded: make(map[string]int),
	}
}

// Upsert creates or updates the record
func (m *MemoryProvider) Upsert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.records[rec.Name] = rec
	m.pollsNeeded[rec.Name] = m.PropagateLag
	return nil
}

// WaitForPropagation blocks until the simulated propagation delay elapses
func (m *MemoryProvider) WaitForPropagation(ctx context.Context, rec Record) error {
	for {
		if err := ctx.Err(); err != nil {
			return apperrors.NewTimeoutError("DNS propagation for "+rec.Name+" did not complete in time", err)
		}

		m.mu.Lock()
		m.WaitCalls++
		stored, ok := m.records[rec.Name]
		remaining := m.pollsNeeded[rec.Name]
		if ok && stored.Target == rec.Target && remaining <= 0 {
			m.mu.Unlock()
			return nil
		}
		if remaining > 0 {
			m.pollsNeeded[rec.Name] = remaining - 1
		}
		propagated := ok && stored.Target == rec.Target
		m.mu.Unlock()

		if !propagated {
			return apperrors.NewNotFoundError("DNS record "+rec.Name+" does not point at "+rec.Target, nil)
		}
	}
}

// Lookup returns the current record for name, if any
func (m *MemoryProvider) Lookup(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	return rec, ok
}
