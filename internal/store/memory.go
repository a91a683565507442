package store

import (
	"context"
	"sync"

	"speaking-practice/backend/internal/models"
)

// MemoryBackend keeps records in process memory
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*models.SessionRecord
	byUser  map[string]map[string]struct{}
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*models.SessionRecord),
		byUser:  make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Put(_ context.Context, rec *models.SessionRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.records[rec.ID]; ok && prev.UserID != rec.UserID {
		b.unindex(prev.UserID, rec.ID)
	}
	b.records[rec.ID] = rec.Clone()

	ids, ok := b.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		b.byUser[rec.UserID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (*models.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[id]
	if !ok {
		return false, nil
	}
	delete(b.records, id)
	b.unindex(rec.UserID, id)
	return true, nil
}

func (b *MemoryBackend) ListByUser(_ context.Context, userID string) ([]*models.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*models.SessionRecord, 0, len(b.byUser[userID]))
	for id := range b.byUser[userID] {
		if rec, ok := b.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) ListIDs(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

// unindex drops id from the user's index. Caller holds the write lock.
func (b *MemoryBackend) unindex(userID, id string) {
	ids := b.byUser[userID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(b.byUser, userID)
	}
}
