// Package procedural tracks "how to" memories: skills, habits, rules,
// workflows, and preference patterns with a proficiency learning curve,
// success-rate tracking, and disuse decay.
package procedural

import (
	"context"
	"sort"
	"sync"

	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

// Store persists procedural memories. Implementations must be safe for
// concurrent use; the manager only calls mutating methods outside its own
// state lock.
type Store interface {
	Save(ctx context.Context, m *types.ProceduralMemory) error
	GetByID(ctx context.Context, id string) (*types.ProceduralMemory, error)
	GetAll(ctx context.Context) ([]*types.ProceduralMemory, error)
	Delete(ctx context.Context, id string) error
}

// InMemoryStore is the reference Store used in tests and single-process
// deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*types.ProceduralMemory
}

// NewInMemoryStore creates an empty in-memory procedural store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{memories: make(map[string]*types.ProceduralMemory)}
}

// Save upserts a procedural memory by ID.
func (s *InMemoryStore) Save(_ context.Context, m *types.ProceduralMemory) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m.Clone()
	return nil
}

// GetByID returns a copy of the stored memory, or storage.ErrNotFound.
func (s *InMemoryStore) GetByID(_ context.Context, id string) (*types.ProceduralMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// GetAll returns copies of all stored memories, sorted by name for
// deterministic iteration.
func (s *InMemoryStore) GetAll(_ context.Context) ([]*types.ProceduralMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ProceduralMemory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a memory by ID. Deleting an unknown ID returns
// storage.ErrNotFound.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.memories, id)
	return nil
}
