package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/reverie-ai/reverie/internal/cache"
	"github.com/reverie-ai/reverie/pkg/types"
)

const (
	// contentConflictThreshold flags a content conflict when similarity
	// drops below it.
	contentConflictThreshold = 0.3

	// importanceConflictGap flags an importance conflict when the two
	// scores differ by more than this.
	importanceConflictGap = 0.5

	// resolutionCacheSize bounds the memoized resolution results.
	resolutionCacheSize = 2048

	// resolutionCacheTTL expires memoized resolutions so re-resolution
	// picks up record changes eventually.
	resolutionCacheTTL = 30 * time.Minute
)

// timeReferenceKeywords are same-day relative terms. Two memories created
// within 24 hours that both use one of these are talking about the same
// window of time and may disagree about it.
var timeReferenceKeywords = []string{
	"today", "tonight", "yesterday", "this morning", "this afternoon",
	"this evening", "just now", "earlier", "right now",
}

// ConflictResolver detects how two memories disagree and resolves the
// dominant conflict.
type ConflictResolver interface {
	// DetectConflicts returns every conflict type present between a and b.
	DetectConflicts(a, b *types.Memory) []types.ConflictType

	// Resolve applies the per-type resolution strategy for the dominant
	// conflict and returns the outcome.
	Resolve(a, b *types.Memory, dominant types.ConflictType) (*types.ConflictResolution, error)
}

// SmartConflictResolver implements the full conflict taxonomy with per-type
// resolution strategies. Resolutions are memoized in a bounded TTL cache
// keyed by (idA, idB, conflictType).
type SmartConflictResolver struct {
	resolutions *cache.BoundedCache[string, *types.ConflictResolution]
}

// NewSmartConflictResolver returns the full-taxonomy resolver.
func NewSmartConflictResolver() *SmartConflictResolver {
	return &SmartConflictResolver{
		resolutions: cache.NewBoundedWithTTL[string, *types.ConflictResolution](resolutionCacheSize, resolutionCacheTTL),
	}
}

// DetectConflicts returns every conflict type present between a and b:
//   - content: word-level similarity below 0.3
//   - time: created within 24h of each other and both referencing the same
//     relative time window
//   - entity/tag: overlapping entity or tag sets (the shared element is
//     what the records can disagree about)
//   - importance: scores more than 0.5 apart
//   - emotion: opposite valence signs at high intensity on both sides
func (r *SmartConflictResolver) DetectConflicts(a, b *types.Memory) []types.ConflictType {
	var conflicts []types.ConflictType

	if contentSimilarity(a.Content, b.Content) < contentConflictThreshold {
		conflicts = append(conflicts, types.ConflictContent)
	}

	if a.EmotionalValence*b.EmotionalValence < 0 &&
		a.EmotionIntensity >= 0.5 && b.EmotionIntensity >= 0.5 {
		conflicts = append(conflicts, types.ConflictEmotion)
	}

	if math.Abs(a.CreatedAt.Sub(b.CreatedAt).Hours()) < 24 &&
		hasTimeReference(a.Content) && hasTimeReference(b.Content) {
		conflicts = append(conflicts, types.ConflictTime)
	}

	if intersects(a.RelatedEntities, b.RelatedEntities) {
		conflicts = append(conflicts, types.ConflictEntity)
	}

	if math.Abs(a.Importance-b.Importance) > importanceConflictGap {
		conflicts = append(conflicts, types.ConflictImportance)
	}

	if intersects(a.Tags, b.Tags) {
		conflicts = append(conflicts, types.ConflictTag)
	}

	return conflicts
}

// Resolve applies the resolution strategy for the dominant conflict type.
// Results are cached per (a, b, type).
func (r *SmartConflictResolver) Resolve(a, b *types.Memory, dominant types.ConflictType) (*types.ConflictResolution, error) {
	key := resolutionKey(a.ID, b.ID, dominant)
	if key != "" {
		if res, ok := r.resolutions.Get(key); ok {
			return copyResolution(res), nil
		}
	}

	var res *types.ConflictResolution
	switch dominant {
	case types.ConflictContent:
		res = resolveContent(a, b)
	case types.ConflictTime:
		res = resolveTime(a, b)
	case types.ConflictEntity:
		resolved := a.Clone()
		resolved.RelatedEntities = unionStrings(a.RelatedEntities, b.RelatedEntities)
		res = &types.ConflictResolution{
			Strategy:    types.StrategyMergeSmart,
			Resolved:    resolved,
			Explanation: "merged related entity sets from both records",
			Confidence:  0.85,
		}
	case types.ConflictTag:
		resolved := a.Clone()
		resolved.Tags = unionStrings(a.Tags, b.Tags)
		res = &types.ConflictResolution{
			Strategy:    types.StrategyMergeSmart,
			Resolved:    resolved,
			Explanation: "merged tag sets from both records",
			Confidence:  0.9,
		}
	case types.ConflictImportance:
		res = keepMoreImportant(a, b, 0.9, "importance scores diverge; kept the higher-importance record")
	case types.ConflictEmotion:
		resolved := a.Clone()
		resolved.EmotionalValence = (a.EmotionalValence + b.EmotionalValence) / 2
		res = &types.ConflictResolution{
			Strategy:    types.StrategyMergeSmart,
			Resolved:    resolved,
			Explanation: "averaged opposing emotional valences",
			Confidence:  0.75,
		}
	default:
		return nil, fmt.Errorf("unknown conflict type %q", dominant)
	}

	if key != "" {
		// The cache keeps its own copy; callers own (and may mutate) theirs.
		r.resolutions.Put(key, copyResolution(res))
	}
	return res, nil
}

// copyResolution duplicates a resolution with an independent Resolved
// record.
func copyResolution(res *types.ConflictResolution) *types.ConflictResolution {
	out := *res
	out.Resolved = res.Resolved.Clone()
	return &out
}

// resolveContent handles the highest-severity conflict: contradictory
// content. Importance gap wins first, then recency, then both versions are
// preserved verbatim.
func resolveContent(a, b *types.Memory) *types.ConflictResolution {
	if math.Abs(a.Importance-b.Importance) > 0.3 {
		return keepMoreImportant(a, b, 0.8, "contents contradict; kept the more important record")
	}

	if math.Abs(a.CreatedAt.Sub(b.CreatedAt).Hours())/24 > 7 {
		newer := a
		if b.CreatedAt.After(a.CreatedAt) {
			newer = b
		}
		return &types.ConflictResolution{
			Strategy:    types.StrategyKeepLatest,
			Resolved:    newer.Clone(),
			Explanation: "contents contradict across a long gap; kept the newer record",
			Confidence:  0.7,
		}
	}

	combined := a.Clone()
	combined.Content = "[v1] " + a.Content + "\n[v2] " + b.Content
	if b.Importance > combined.Importance {
		combined.Importance = b.Importance
	}
	return &types.ConflictResolution{
		Strategy:    types.StrategyCreateCombined,
		Resolved:    combined,
		Explanation: "contents contradict with no clear winner; preserved both versions",
		Confidence:  0.6,
	}
}

// resolveTime reconciles same-window records by advancing both timestamps
// to the later one.
func resolveTime(a, b *types.Memory) *types.ConflictResolution {
	resolved := a.Clone()
	if b.CreatedAt.After(resolved.CreatedAt) {
		resolved.CreatedAt = b.CreatedAt
	}
	later := latestAccess(a, b)
	if later != nil {
		resolved.LastAccessedAt = later
	}
	return &types.ConflictResolution{
		Strategy:    types.StrategyMergeSmart,
		Resolved:    resolved,
		Explanation: "same-day time references; aligned timestamps to the later record",
		Confidence:  0.9,
	}
}

// keepMoreImportant resolves by discarding the lower-importance record.
func keepMoreImportant(a, b *types.Memory, confidence float64, explanation string) *types.ConflictResolution {
	winner := a
	if b.Importance > a.Importance {
		winner = b
	}
	return &types.ConflictResolution{
		Strategy:    types.StrategyKeepMoreImportant,
		Resolved:    winner.Clone(),
		Explanation: explanation,
		Confidence:  confidence,
	}
}

// latestAccess returns the later of the two LastAccessedAt pointers, or nil
// when neither is set.
func latestAccess(a, b *types.Memory) *time.Time {
	switch {
	case a.LastAccessedAt == nil:
		return b.LastAccessedAt
	case b.LastAccessedAt == nil:
		return a.LastAccessedAt
	case b.LastAccessedAt.After(*a.LastAccessedAt):
		return b.LastAccessedAt
	default:
		return a.LastAccessedAt
	}
}

// hasTimeReference reports whether content uses a same-day relative term.
func hasTimeReference(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range timeReferenceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// resolutionKey builds the memoization key for a resolution. Returns ""
// when either record has no ID or the IDs match: stored-vs-incoming
// revisions of one record are transient and not cached.
func resolutionKey(a, b string, t types.ConflictType) string {
	if a == "" || b == "" || a == b {
		return ""
	}
	return fmt.Sprintf("%s|%s|%s", a, b, t)
}

// SimpleConflictResolver detects only content conflicts and always keeps
// the newer record. It is the cheap variant for callers that never enrich
// tags or entities.
type SimpleConflictResolver struct{}

// NewSimpleConflictResolver returns the content-only resolver.
func NewSimpleConflictResolver() *SimpleConflictResolver {
	return &SimpleConflictResolver{}
}

// DetectConflicts flags only contradictory content.
func (r *SimpleConflictResolver) DetectConflicts(a, b *types.Memory) []types.ConflictType {
	if contentSimilarity(a.Content, b.Content) < contentConflictThreshold {
		return []types.ConflictType{types.ConflictContent}
	}
	return nil
}

// Resolve keeps the newer record regardless of conflict type.
func (r *SimpleConflictResolver) Resolve(a, b *types.Memory, dominant types.ConflictType) (*types.ConflictResolution, error) {
	newer := a
	if b.CreatedAt.After(a.CreatedAt) {
		newer = b
	}
	return &types.ConflictResolution{
		Strategy:    types.StrategyKeepLatest,
		Resolved:    newer.Clone(),
		Explanation: "kept the newer record",
		Confidence:  0.7,
	}, nil
}
