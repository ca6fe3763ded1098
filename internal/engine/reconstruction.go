package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

// ReconstructionService applies content mutations to stored memories,
// reconciling conflicts between the stored and incoming versions and
// keeping an append-only audit trail of every mutation.
type ReconstructionService struct {
	store    storage.MemoryStore
	merger   MergeStrategy
	resolver ConflictResolver

	mu      sync.Mutex
	history map[string][]types.ReconstructionRecord
}

// NewReconstructionService wires a reconstruction service over the given
// store, merge strategy, and conflict resolver.
func NewReconstructionService(store storage.MemoryStore, merger MergeStrategy, resolver ConflictResolver) *ReconstructionService {
	return &ReconstructionService{
		store:    store,
		merger:   merger,
		resolver: resolver,
		history:  make(map[string][]types.ReconstructionRecord),
	}
}

// Append adds supplemental content to a memory without disturbing what is
// already there.
func (s *ReconstructionService) Append(ctx context.Context, id, content string) (*types.Memory, error) {
	return s.apply(ctx, id, types.OpAppend, func(mem *types.Memory) {
		mem.Content = mem.Content + "\n" + content
	}, 1.0)
}

// Replace substitutes the memory's content wholesale.
func (s *ReconstructionService) Replace(ctx context.Context, id, content string) (*types.Memory, error) {
	return s.apply(ctx, id, types.OpReplace, func(mem *types.Memory) {
		mem.Content = content
	}, 1.0)
}

// Correct replaces content that is now known to be wrong. Semantically a
// replace, but recorded as a correction so the audit trail distinguishes
// factual fixes from ordinary edits.
func (s *ReconstructionService) Correct(ctx context.Context, id, content string) (*types.Memory, error) {
	return s.apply(ctx, id, types.OpCorrect, func(mem *types.Memory) {
		mem.Content = content
	}, 0.9)
}

// Reinterpret re-reads an episode in a new light, keeping the original
// wording alongside the new reading.
func (s *ReconstructionService) Reinterpret(ctx context.Context, id, content string) (*types.Memory, error) {
	return s.apply(ctx, id, types.OpReinterpret, func(mem *types.Memory) {
		mem.Content = content + "\n[previously] " + mem.Content
	}, 0.8)
}

// Update applies incoming content to a memory with conflict reconciliation:
// the incoming version is compared against the stored one, any detected
// conflict is resolved by the configured resolver, and the resolution's
// outcome is what gets persisted.
func (s *ReconstructionService) Update(ctx context.Context, id, content string) (*types.Memory, error) {
	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}

	incoming := stored.Clone()
	incoming.Content = content
	incoming.CreatedAt = time.Now()

	similarity := s.merger.CalculateSimilarity(stored, incoming)
	conflicts := s.resolver.DetectConflicts(stored, incoming)

	updated := incoming
	confidence := 1.0
	meta := map[string]string{}

	if dominant := types.DominantConflict(conflicts); dominant != "" {
		// Resolve from the incoming side: content-preserving strategies
		// keep the caller's new content, the stored record supplies the
		// sets being reconciled.
		resolution, err := s.resolver.Resolve(incoming, stored, dominant)
		if err != nil {
			return nil, fmt.Errorf("reconstruction: resolve %s conflict: %w", dominant, err)
		}
		updated = resolution.Resolved
		confidence = resolution.Confidence
		meta["conflict"] = string(dominant)
		meta["strategy"] = string(resolution.Strategy)
		meta["explanation"] = resolution.Explanation
		log.Printf("reconstruction: resolved %s conflict on %s via %s (confidence %.2f)",
			dominant, id, resolution.Strategy, resolution.Confidence)
	}

	updated.ID = stored.ID
	updated.Category = promoteOnly(stored.Category, updated.Category)

	if err := s.store.Store(ctx, updated); err != nil {
		return nil, fmt.Errorf("reconstruction: store %s: %w", id, err)
	}

	s.record(types.ReconstructionRecord{
		ID:         uuid.NewString(),
		SourceID:   stored.ID,
		TargetID:   stored.ID,
		Operation:  types.OpUpdate,
		Before:     stored.Content,
		After:      updated.Content,
		Similarity: similarity,
		Confidence: confidence,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	})

	return updated, nil
}

// Merge combines the secondary memory into the primary one using the
// configured merge strategy and persists the result. The secondary record
// is left untouched; callers decide its fate.
func (s *ReconstructionService) Merge(ctx context.Context, primaryID, secondaryID string) (*types.Memory, error) {
	primary, err := s.store.Get(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}
	secondary, err := s.store.Get(ctx, secondaryID)
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}

	merged, rec := s.merger.Merge(primary, secondary)

	if rec.Confidence > 0 {
		if err := s.store.Store(ctx, merged); err != nil {
			return nil, fmt.Errorf("reconstruction: store merged %s: %w", primaryID, err)
		}
	} else {
		log.Printf("reconstruction: merge of %s into %s below threshold (similarity %.2f), no-op",
			secondaryID, primaryID, rec.Similarity)
	}

	s.record(*rec)
	return merged, nil
}

// History returns the audit records for a memory, oldest first. The
// returned slice is a copy; records themselves are immutable.
func (s *ReconstructionService) History(id string) []types.ReconstructionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ReconstructionRecord(nil), s.history[id]...)
}

// apply runs a simple (non-conflict-resolving) mutation against a stored
// memory and records it.
func (s *ReconstructionService) apply(ctx context.Context, id string, op types.OperationKind, mutate func(*types.Memory), confidence float64) (*types.Memory, error) {
	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reconstruction: %w", err)
	}

	updated := stored.Clone()
	mutate(updated)

	if err := s.store.Store(ctx, updated); err != nil {
		return nil, fmt.Errorf("reconstruction: store %s: %w", id, err)
	}

	s.record(types.ReconstructionRecord{
		ID:         uuid.NewString(),
		SourceID:   stored.ID,
		TargetID:   stored.ID,
		Operation:  op,
		Before:     stored.Content,
		After:      updated.Content,
		Similarity: contentSimilarity(stored.Content, updated.Content),
		Confidence: confidence,
		CreatedAt:  time.Now(),
	})

	return updated, nil
}

// record appends rec to the audit trail. Records are never mutated after
// this point.
func (s *ReconstructionService) record(rec types.ReconstructionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.TargetID] = append(s.history[rec.TargetID], rec)
}

// promoteOnly keeps category transitions one-way: a mutation may promote a
// record to long-term but never demote it.
func promoteOnly(stored, updated types.MemoryCategory) types.MemoryCategory {
	if stored == types.CategoryLongTerm {
		return types.CategoryLongTerm
	}
	return updated
}
