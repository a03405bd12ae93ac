package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/txn-audit/internal/model"
)

// MemoryStore is a process-local Store. Nothing survives a restart, which
// reproduces the behavior of an in-memory processed set.
type MemoryStore struct {
	mu        sync.Mutex
	processed map[model.FileID]model.LedgerEntry
	failures  map[model.FileID]model.FailureEntry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		processed: make(map[model.FileID]model.LedgerEntry),
		failures:  make(map[model.FileID]model.FailureEntry),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) RecordProcessed(_ context.Context, e model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := e.FileID()
	if prev, ok := m.processed[id]; ok {
		e.ID = prev.ID
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	m.processed[id] = e
	delete(m.failures, id)
	return nil
}

func (m *MemoryStore) ListProcessed(context.Context) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LedgerEntry, 0, len(m.processed))
	for _, e := range m.processed {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ProcessedAt.Before(out[j].ProcessedAt)
	})
	return out, nil
}

func (m *MemoryStore) Forget(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id := range m.processed {
		if id.Name == name {
			delete(m.processed, id)
			n++
		}
	}
	for id := range m.failures {
		if id.Name == name {
			delete(m.failures, id)
		}
	}
	return n, nil
}

func (m *MemoryStore) RecordFailure(_ context.Context, f model.FailureEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := model.FileID{Name: f.Name, Checksum: f.Checksum}
	prev, ok := m.failures[id]
	switch {
	case ok:
		f.ID = prev.ID
		f.Attempts = prev.Attempts + 1
	default:
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.Attempts = 1
	}
	m.failures[id] = f
	return nil
}

func (m *MemoryStore) ListFailures(_ context.Context, limit int) ([]model.FailureEntry, error) {
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FailureEntry, 0, len(m.failures))
	for _, f := range m.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.After(out[j].FailedAt)
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
