// Package storage provides the narrow persistence contracts the lifecycle
// engine reads and writes memories through.
//
// The interfaces are deliberately small: the engine never issues ad-hoc
// queries beyond them, which keeps every backend (in-memory, SQLite)
// trivially substitutable.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/reverie-ai/reverie/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// MemoryStore provides the engine's persistence contract for episodic
// memories: lookup, full scan, and upsert by ID. There is no separate
// create/update distinction.
type MemoryStore interface {
	// Get retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// GetAll retrieves every stored memory.
	GetAll(ctx context.Context) ([]*types.Memory, error)

	// Store creates or updates a memory (upsert semantics).
	Store(ctx context.Context, memory *types.Memory) error
}

// CharacterStatistics aggregates per-character consolidation outcomes.
// It backs the adaptive-threshold feedback loop.
type CharacterStatistics struct {
	CharacterID    string    `json:"character_id"`
	TotalEvaluated int       `json:"total_evaluated"`
	Consolidated   int       `json:"consolidated"`
	Deferred       int       `json:"deferred"`
	Rejected       int       `json:"rejected"`
	ScoreSum       float64   `json:"score_sum"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DecisionLogEntry records a single consolidation decision for later review.
type DecisionLogEntry struct {
	CharacterID string    `json:"character_id"`
	MemoryID    string    `json:"memory_id"`
	Decision    string    `json:"decision"` // consolidated, deferred, rejected
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThresholdStore persists per-character evaluation thresholds, aggregate
// statistics, and the consolidation decision log.
type ThresholdStore interface {
	// GetThreshold returns the persisted threshold for the character.
	// The boolean is false when no threshold has been saved yet.
	GetThreshold(ctx context.Context, characterID string) (float64, bool, error)

	// SaveThreshold persists the threshold for the character.
	SaveThreshold(ctx context.Context, characterID string, value float64) error

	// GetStatistics returns the aggregate statistics for the character, or
	// nil when none have been recorded.
	GetStatistics(ctx context.Context, characterID string) (*CharacterStatistics, error)

	// SaveStatistics persists the aggregate statistics.
	SaveStatistics(ctx context.Context, stats *CharacterStatistics) error

	// AppendDecisionLog appends a decision entry. The log is append-only.
	AppendDecisionLog(ctx context.Context, entry *DecisionLogEntry) error
}

// CharacterProfile is the read-only character summary consumed as scorer
// context. It is supplied by an external collaborator.
type CharacterProfile struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Profile       string   `json:"profile,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
}

// ProfileProvider resolves character profiles for scorer context assembly.
type ProfileProvider interface {
	// GetProfile returns the profile for the character.
	// Returns ErrNotFound if the character is unknown.
	GetProfile(ctx context.Context, characterID string) (*CharacterProfile, error)
}
