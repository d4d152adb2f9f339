package store

import (
	"context"
	"sync"
	"time"

	"github.com/samz905/wrrk-pilot/internal/agent/core"
)

// MemoryStore is a process-local run repository. Finished runs expire after ttl, like the
// Redis keys; a zero ttl keeps them for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]core.RunRecord
	ttl  time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{runs: map[string]core.RunRecord{}, ttl: ttl}
}

func (m *MemoryStore) SaveRun(_ context.Context, rec core.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.RunID] = rec
	if m.ttl > 0 && rec.Status.Terminal() {
		id := rec.RunID
		time.AfterFunc(m.ttl, func() { m.expire(id) })
	}
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (core.RunRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	return rec, ok, nil
}

func (m *MemoryStore) expire(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.runs[runID]; ok && rec.Status.Terminal() {
		delete(m.runs, runID)
	}
}
