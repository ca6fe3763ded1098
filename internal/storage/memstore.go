package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reverie-ai/reverie/pkg/types"
)

// InMemoryStore is a map-backed MemoryStore. It is the reference
// implementation used by tests and small deployments.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*types.Memory
}

// NewInMemoryStore returns an empty in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{memories: make(map[string]*types.Memory)}
}

// Get retrieves a memory by ID.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return mem.Clone(), nil
}

// GetAll retrieves every stored memory, sorted by creation time ascending so
// callers see a stable order.
func (s *InMemoryStore) GetAll(ctx context.Context) ([]*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Memory, 0, len(s.memories))
	for _, mem := range s.memories {
		out = append(out, mem.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Store creates or updates a memory by ID.
func (s *InMemoryStore) Store(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[memory.ID] = memory.Clone()
	return nil
}

// InMemoryThresholdStore is a map-backed ThresholdStore.
type InMemoryThresholdStore struct {
	mu         sync.RWMutex
	thresholds map[string]float64
	stats      map[string]*CharacterStatistics
	log        []DecisionLogEntry
}

// NewInMemoryThresholdStore returns an empty in-memory threshold store.
func NewInMemoryThresholdStore() *InMemoryThresholdStore {
	return &InMemoryThresholdStore{
		thresholds: make(map[string]float64),
		stats:      make(map[string]*CharacterStatistics),
	}
}

// GetThreshold returns the persisted threshold for the character.
func (s *InMemoryThresholdStore) GetThreshold(ctx context.Context, characterID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.thresholds[characterID]
	return v, ok, nil
}

// SaveThreshold persists the threshold for the character.
func (s *InMemoryThresholdStore) SaveThreshold(ctx context.Context, characterID string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.thresholds[characterID] = value
	return nil
}

// GetStatistics returns the aggregate statistics for the character.
func (s *InMemoryThresholdStore) GetStatistics(ctx context.Context, characterID string) (*CharacterStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.stats[characterID]
	if !ok {
		return nil, nil
	}
	cp := *stats
	return &cp, nil
}

// SaveStatistics persists the aggregate statistics.
func (s *InMemoryThresholdStore) SaveStatistics(ctx context.Context, stats *CharacterStatistics) error {
	if stats == nil || stats.CharacterID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *stats
	cp.UpdatedAt = time.Now()
	s.stats[stats.CharacterID] = &cp
	return nil
}

// AppendDecisionLog appends a decision entry.
func (s *InMemoryThresholdStore) AppendDecisionLog(ctx context.Context, entry *DecisionLogEntry) error {
	if entry == nil {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.log = append(s.log, cp)
	return nil
}

// DecisionLog returns a copy of the accumulated decision log.
func (s *InMemoryThresholdStore) DecisionLog() []DecisionLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]DecisionLogEntry(nil), s.log...)
}

// StaticProfileProvider serves profiles from a fixed map. Used by tests and
// by deployments where character profiles are configured statically.
type StaticProfileProvider struct {
	profiles map[string]*CharacterProfile
}

// NewStaticProfileProvider builds a provider over the given profiles.
func NewStaticProfileProvider(profiles ...*CharacterProfile) *StaticProfileProvider {
	m := make(map[string]*CharacterProfile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return &StaticProfileProvider{profiles: m}
}

// GetProfile returns the profile for the character.
func (p *StaticProfileProvider) GetProfile(ctx context.Context, characterID string) (*CharacterProfile, error) {
	prof, ok := p.profiles[characterID]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", characterID, ErrNotFound)
	}
	cp := *prof
	return &cp, nil
}
