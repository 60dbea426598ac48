package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/meigma/release"
	"github.com/meigma/release/report"
)

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{}
}

// Record implements Ledger.
func (m *Memory) Record(_ context.Context, r *report.Report) error {
	e, err := NewEntry(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries {
		if existing.ReleaseID == e.ReleaseID {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ReleaseID)
		}
	}
	m.entries = append(m.entries, e)
	return nil
}

// LastPublished implements Ledger.
func (m *Memory) LastPublished(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Entry
		found bool
	)
	for _, e := range m.entries {
		if e.Phase != release.PhaseSucceeded {
			continue
		}
		if !found || !e.Finished.Before(best.Finished) {
			best, found = e, true
		}
	}
	return best.Current, found, nil
}

// Get returns the entry for a release id.
func (m *Memory) Get(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ReleaseID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

var _ Ledger = (*Memory)(nil)
