package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory quota store for tests and early development.
// Consume mirrors the SQL guarded-upsert semantics under one mutex.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]int // key: subjectID|periodStart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: map[string]int{}}
}

func key(subjectID string, period Period) string {
	return subjectID + "|" + period.Start.Format(time.RFC3339)
}

func (m *MemoryStore) Usage(ctx context.Context, subjectID string, period Period) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[key(subjectID, period)], nil
}

// Consume takes one unit or fails with ExceededError. Safe for concurrent use.
func (m *MemoryStore) Consume(subjectID string, limit int, period Period) error {
	if subjectID == "" {
		return ErrInvalidSubject
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(subjectID, period)
	if limit <= 0 || m.used[k] >= limit {
		return &ExceededError{SubjectID: subjectID, Limit: limit, ResetAt: period.End}
	}
	m.used[k]++
	return nil
}

// Release returns one unit, floored at zero.
func (m *MemoryStore) Release(subjectID string, period Period) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(subjectID, period)
	if m.used[k] > 0 {
		m.used[k]--
	}
}
