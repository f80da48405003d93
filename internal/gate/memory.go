package gate

import (
	"context"
	"sync"
	"time"

	"github.com/digkill/aire/internal/models"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec models.UsageRecord
}

// MemoryStore keeps usage records in process. Each identity has its own mutex,
// so updates for one identity serialize without blocking the others.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) entry(identity string, create bool) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[identity]
	if !ok && create {
		now := s.now().UTC()
		e = &memoryEntry{rec: models.UsageRecord{
			Identity:     identity,
			UnlockSource: models.UnlockNone,
			CreatedAt:    now,
			UpdatedAt:    now,
		}}
		s.entries[identity] = e
	}
	return e
}

func (s *MemoryStore) Get(_ context.Context, identity string) (models.UsageRecord, bool, error) {
	e := s.entry(identity, false)
	if e == nil {
		return models.UsageRecord{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true, nil
}

func (s *MemoryStore) Ensure(_ context.Context, identity string) (models.UsageRecord, error) {
	e := s.entry(identity, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

func (s *MemoryStore) Update(ctx context.Context, identity string, fn func(rec *models.UsageRecord) error) (models.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.UsageRecord{}, err
	}
	e := s.entry(identity, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rec
	if err := fn(&next); err != nil {
		return e.rec, err
	}
	if next != e.rec {
		next.UpdatedAt = s.now().UTC()
		e.rec = next
	}
	return e.rec, nil
}
