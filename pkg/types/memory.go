// Package types defines the shared data model for the Reverie memory
// lifecycle engine: episodic memories, reconstruction audit records,
// conflict taxonomy, and procedural memories.
package types

import "time"

// MemoryCategory is the lifecycle category of a memory. Memories start as
// short-term and are promoted to long-term by the consolidation pipeline.
type MemoryCategory string

const (
	// CategoryShortTerm marks a memory that has not yet been consolidated.
	CategoryShortTerm MemoryCategory = "SHORT_TERM"

	// CategoryLongTerm marks a memory that survived consolidation.
	CategoryLongTerm MemoryCategory = "LONG_TERM"
)

// IsValidCategory reports whether s is a known memory category.
func IsValidCategory(s string) bool {
	switch MemoryCategory(s) {
	case CategoryShortTerm, CategoryLongTerm:
		return true
	}
	return false
}

// Memory represents a single episodic memory record for a character.
// Records are owned by the persistence layer; the engine holds transient
// copies during a pipeline pass and writes back via upsert.
type Memory struct {
	ID          string `json:"id"`           // Unique identifier
	CharacterID string `json:"character_id"` // Owning character
	Content     string `json:"content"`      // Raw memory content

	Tags            []string `json:"tags,omitempty"`             // User/system tags
	RelatedEntities []string `json:"related_entities,omitempty"` // Entity names mentioned

	Importance       float64 `json:"importance"`              // Importance score (0.0-1.0)
	EmotionLabel     string  `json:"emotion_label,omitempty"` // Named emotion, if any
	EmotionalValence float64 `json:"emotional_valence"`       // Negative..positive (-1.0..1.0)
	EmotionIntensity float64 `json:"emotion_intensity"`       // Strength of emotion (0.0-1.0)

	Category MemoryCategory `json:"category"` // SHORT_TERM or LONG_TERM

	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`
}

// AgeDays returns the age of the memory in fractional days at the given instant.
func (m *Memory) AgeDays(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours() / 24.0
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the memory. The engine clones records before
// mutating them so stored copies are never aliased.
func (m *Memory) Clone() *Memory {
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.RelatedEntities = append([]string(nil), m.RelatedEntities...)
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	return &out
}

// Clamp01 clamps v to the [0.0, 1.0] range. Importance and all
// proficiency-like scores in the system must stay within this range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// OperationKind identifies how a memory was mutated by the reconstruction
// service.
type OperationKind string

const (
	OpAppend      OperationKind = "append"
	OpUpdate      OperationKind = "update"
	OpReplace     OperationKind = "replace"
	OpCorrect     OperationKind = "correct"
	OpReinterpret OperationKind = "reinterpret"
	OpMerge       OperationKind = "merge"
)

// ReconstructionRecord is an immutable audit entry describing a single
// mutation of a memory. Records are created once and never modified; the
// reconstruction service keeps them as an append-only history.
type ReconstructionRecord struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	TargetID  string            `json:"target_id"`
	Operation OperationKind     `json:"operation"`
	Before    string            `json:"before"` // Content snapshot before the mutation
	After     string            `json:"after"`  // Content snapshot after the mutation
	Similarity float64          `json:"similarity"`
	Confidence float64          `json:"confidence"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
