package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-ai/reverie/internal/cache"
	"github.com/reverie-ai/reverie/pkg/types"
)

const (
	// mergeThreshold is the similarity at or above which two memories are
	// considered the same episode and merged.
	mergeThreshold = 0.5

	// nearDuplicateThreshold is the content similarity above which merged
	// content keeps the longer string instead of concatenating.
	nearDuplicateThreshold = 0.8

	// similarityCacheSize bounds the memoized pairwise similarity results.
	similarityCacheSize = 4096

	// similarityCacheTTL expires memoized similarities so re-scoring picks
	// up content changes eventually.
	similarityCacheTTL = 30 * time.Minute
)

// MergeStrategy scores memory pairs for similarity and merges them. The
// concrete implementation is chosen at construction time.
type MergeStrategy interface {
	// CalculateSimilarity returns the similarity of two memories in [0.0, 1.0].
	CalculateSimilarity(a, b *types.Memory) float64

	// ShouldMerge reports whether the pair is similar enough to merge.
	ShouldMerge(a, b *types.Memory) bool

	// Merge combines secondary into primary and returns the merged memory
	// together with the audit record for the operation. Below the merge
	// threshold the primary is returned unchanged with a zero-confidence
	// record (a logged no-op).
	Merge(primary, secondary *types.Memory) (*types.Memory, *types.ReconstructionRecord)
}

// SmartMergeStrategy scores pairs with a weighted combination of content,
// entity, tag, and temporal similarity:
//
//	0.4*content + 0.3*entity + 0.2*tag + 0.1*time
//
// Pairwise results are memoized in a bounded TTL cache keyed by the ID
// pair. Same-ID pairs (a record against its own incoming revision) are
// never cached.
type SmartMergeStrategy struct {
	simCache *cache.BoundedCache[string, float64]
	now      func() time.Time
}

// NewSmartMergeStrategy returns the weighted merge strategy.
func NewSmartMergeStrategy() *SmartMergeStrategy {
	return &SmartMergeStrategy{
		simCache: cache.NewBoundedWithTTL[string, float64](similarityCacheSize, similarityCacheTTL),
		now:      time.Now,
	}
}

// CalculateSimilarity returns the weighted similarity of a and b.
func (s *SmartMergeStrategy) CalculateSimilarity(a, b *types.Memory) float64 {
	key := pairKey(a.ID, b.ID)
	if key != "" {
		if v, ok := s.simCache.Get(key); ok {
			return v
		}
	}

	// Integer weights over a common denominator keep the sum exact: a
	// memory compared against itself scores exactly 1.0.
	sim := (4*contentSimilarity(a.Content, b.Content) +
		3*jaccard(a.RelatedEntities, b.RelatedEntities) +
		2*jaccard(a.Tags, b.Tags) +
		timeSimilarity(a.CreatedAt, b.CreatedAt)) / 10

	if key != "" {
		s.simCache.Put(key, sim)
	}
	return sim
}

// ShouldMerge reports whether similarity(a, b) >= the merge threshold.
func (s *SmartMergeStrategy) ShouldMerge(a, b *types.Memory) bool {
	return s.CalculateSimilarity(a, b) >= mergeThreshold
}

// Merge combines secondary into primary. Content keeps the longer string
// for near-duplicates and concatenates with a supplemental marker
// otherwise; importance takes the max; entity and tag sets are unioned;
// access count is max+1. The result keeps the primary's identity, and the
// category never demotes: if either side is long-term, so is the result.
func (s *SmartMergeStrategy) Merge(primary, secondary *types.Memory) (*types.Memory, *types.ReconstructionRecord) {
	similarity := s.CalculateSimilarity(primary, secondary)

	if similarity < mergeThreshold {
		// Too dissimilar to merge. No-op, but still logged.
		return primary, newMergeRecord(primary, secondary, primary.Content, similarity, 0)
	}

	merged := primary.Clone()

	if contentSimilarity(primary.Content, secondary.Content) > nearDuplicateThreshold {
		if len(secondary.Content) > len(primary.Content) {
			merged.Content = secondary.Content
		}
	} else {
		merged.Content = primary.Content + "\n[supplemental] " + secondary.Content
	}

	if secondary.Importance > merged.Importance {
		merged.Importance = secondary.Importance
	}
	merged.RelatedEntities = unionStrings(primary.RelatedEntities, secondary.RelatedEntities)
	merged.Tags = unionStrings(primary.Tags, secondary.Tags)

	merged.AccessCount = primary.AccessCount
	if secondary.AccessCount > merged.AccessCount {
		merged.AccessCount = secondary.AccessCount
	}
	merged.AccessCount++

	// A merge may re-stamp the category but never silently demotes.
	if primary.Category == types.CategoryLongTerm || secondary.Category == types.CategoryLongTerm {
		merged.Category = types.CategoryLongTerm
	}

	return merged, newMergeRecord(primary, secondary, merged.Content, similarity, similarity)
}

// SimpleMergeStrategy scores pairs by content similarity alone and merges
// by plain concatenation. Useful where entity and tag extraction has not
// run yet.
type SimpleMergeStrategy struct{}

// NewSimpleMergeStrategy returns the content-only merge strategy.
func NewSimpleMergeStrategy() *SimpleMergeStrategy {
	return &SimpleMergeStrategy{}
}

// CalculateSimilarity returns the content-only similarity of a and b.
func (s *SimpleMergeStrategy) CalculateSimilarity(a, b *types.Memory) float64 {
	return contentSimilarity(a.Content, b.Content)
}

// ShouldMerge reports whether content similarity reaches the merge threshold.
func (s *SimpleMergeStrategy) ShouldMerge(a, b *types.Memory) bool {
	return s.CalculateSimilarity(a, b) >= mergeThreshold
}

// Merge concatenates secondary onto primary, unioning tags and entities.
func (s *SimpleMergeStrategy) Merge(primary, secondary *types.Memory) (*types.Memory, *types.ReconstructionRecord) {
	similarity := s.CalculateSimilarity(primary, secondary)

	if similarity < mergeThreshold {
		return primary, newMergeRecord(primary, secondary, primary.Content, similarity, 0)
	}

	merged := primary.Clone()
	merged.Content = primary.Content + "\n" + secondary.Content
	merged.RelatedEntities = unionStrings(primary.RelatedEntities, secondary.RelatedEntities)
	merged.Tags = unionStrings(primary.Tags, secondary.Tags)
	if secondary.Importance > merged.Importance {
		merged.Importance = secondary.Importance
	}

	return merged, newMergeRecord(primary, secondary, merged.Content, similarity, similarity)
}

// newMergeRecord builds the immutable audit record for a merge attempt.
func newMergeRecord(primary, secondary *types.Memory, after string, similarity, confidence float64) *types.ReconstructionRecord {
	return &types.ReconstructionRecord{
		ID:         uuid.NewString(),
		SourceID:   secondary.ID,
		TargetID:   primary.ID,
		Operation:  types.OpMerge,
		Before:     primary.Content,
		After:      after,
		Similarity: similarity,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
}

// pairKey builds an order-independent cache key for a memory ID pair.
// Returns "" when either side has no ID or the IDs match: transient
// records and stored-vs-incoming revisions of one record are not cached.
func pairKey(a, b string) string {
	if a == "" || b == "" || a == b {
		return ""
	}
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%s", a, b)
}
