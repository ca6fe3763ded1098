package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/reverie-ai/reverie/internal/llm"
	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

// Tags that exclude a memory from consolidation regardless of importance.
const (
	tagTemporary       = "temporary"
	tagSystemGenerated = "system_generated"
)

// ConsolidationConfig tunes the five-stage pipeline. Zero values are
// replaced with the defaults from DefaultConsolidationConfig.
type ConsolidationConfig struct {
	// MinAgeDays gates stage 1: memories younger than this are skipped.
	MinAgeDays float64

	// MinImportance gates stage 1 (exclusive, OR-ed with access count).
	MinImportance float64

	// MaxGroupSize caps context groups in stage 2.
	MaxGroupSize int

	// GroupRelevanceThreshold is the minimum anchor relevance for group
	// membership in stage 2.
	GroupRelevanceThreshold float64

	// ConfidenceThreshold gates stage 4: scorer decisions below it are
	// deferred instead of executed.
	ConfidenceThreshold float64

	// FallbackImportance / FallbackAccessCount define the deterministic
	// rule used when the scorer is unavailable.
	FallbackImportance  float64
	FallbackAccessCount int

	// InterBatchDelay throttles scorer calls between groups.
	InterBatchDelay time.Duration

	// ScorerTimeout bounds each scorer call; ScorerRetries retries failed
	// calls with RetryBackoff doubling between attempts.
	ScorerTimeout time.Duration
	ScorerRetries int
	RetryBackoff  time.Duration

	// MinDecisionsForFeedback is how many accumulated decisions a
	// character needs before the adaptive threshold moves.
	MinDecisionsForFeedback int
}

// DefaultConsolidationConfig returns the standard pipeline tuning.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		MinAgeDays:              1.0,
		MinImportance:           0.2,
		MaxGroupSize:            5,
		GroupRelevanceThreshold: 0.3,
		ConfidenceThreshold:     0.6,
		FallbackImportance:      0.7,
		FallbackAccessCount:     2,
		InterBatchDelay:         time.Second,
		ScorerTimeout:           30 * time.Second,
		ScorerRetries:           2,
		RetryBackoff:            500 * time.Millisecond,
		MinDecisionsForFeedback: 5,
	}
}

// Adaptive threshold bounds. The per-character threshold starts at the
// default and moves in steps, clamped to [floor, cap].
const (
	defaultEvaluationThreshold = 0.5
	thresholdStep              = 0.05
	thresholdCap               = 0.9
	thresholdFloor             = 0.1
)

// ConsolidationResult summarizes one pipeline pass for a character.
// TotalEvaluated always equals Consolidated+Deferred+Rejected.
type ConsolidationResult struct {
	CharacterID    string
	Filtered       int // Stage-1 survivors
	Groups         int
	TotalEvaluated int
	Consolidated   int
	Deferred       int
	Rejected       int
	StoreErrors    int // Per-memory persistence failures (isolated, not fatal)
	FallbackUsed   bool
	Threshold      float64 // Persisted threshold after stage 5
}

// ConsolidationPipeline promotes a character's short-term memories to
// long-term status through five stages: preliminary filtering, context
// grouping, batch scoring (LLM with rule-based fallback), decision
// execution, and adaptive threshold feedback.
type ConsolidationPipeline struct {
	store      storage.MemoryStore
	thresholds storage.ThresholdStore
	profiles   storage.ProfileProvider
	scorer     llm.Scorer
	cfg        ConsolidationConfig
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewConsolidationPipeline wires a pipeline. profiles and scorer may be
// nil; a nil scorer forces the rule-based fallback for every batch.
func NewConsolidationPipeline(
	store storage.MemoryStore,
	thresholds storage.ThresholdStore,
	profiles storage.ProfileProvider,
	scorer llm.Scorer,
	cfg ConsolidationConfig,
) *ConsolidationPipeline {
	def := DefaultConsolidationConfig()
	if cfg.MinAgeDays == 0 {
		cfg.MinAgeDays = def.MinAgeDays
	}
	if cfg.MinImportance == 0 {
		cfg.MinImportance = def.MinImportance
	}
	if cfg.MaxGroupSize == 0 {
		cfg.MaxGroupSize = def.MaxGroupSize
	}
	if cfg.GroupRelevanceThreshold == 0 {
		cfg.GroupRelevanceThreshold = def.GroupRelevanceThreshold
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.FallbackImportance == 0 {
		cfg.FallbackImportance = def.FallbackImportance
	}
	if cfg.FallbackAccessCount == 0 {
		cfg.FallbackAccessCount = def.FallbackAccessCount
	}
	if cfg.InterBatchDelay == 0 {
		cfg.InterBatchDelay = def.InterBatchDelay
	}
	if cfg.ScorerTimeout == 0 {
		cfg.ScorerTimeout = def.ScorerTimeout
	}
	if cfg.ScorerRetries == 0 {
		cfg.ScorerRetries = def.ScorerRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MinDecisionsForFeedback == 0 {
		cfg.MinDecisionsForFeedback = def.MinDecisionsForFeedback
	}

	return &ConsolidationPipeline{
		store:      store,
		thresholds: thresholds,
		profiles:   profiles,
		scorer:     scorer,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.InterBatchDelay), 1),
		now:        time.Now,
	}
}

// decision pairs a memory with its evaluation for stage 4.
type decision struct {
	memory   *types.Memory
	eval     llm.Evaluation
	fallback bool
}

// Run executes one full pipeline pass for the character.
func (p *ConsolidationPipeline) Run(ctx context.Context, characterID string) (*ConsolidationResult, error) {
	result := &ConsolidationResult{CharacterID: characterID}
	now := p.now()

	all, err := p.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("consolidation: load memories: %w", err)
	}

	var shortTerm, longTerm []*types.Memory
	for _, m := range all {
		if m.CharacterID != characterID {
			continue
		}
		switch m.Category {
		case types.CategoryShortTerm:
			shortTerm = append(shortTerm, m)
		case types.CategoryLongTerm:
			longTerm = append(longTerm, m)
		}
	}

	// Stage 1: preliminary filter.
	survivors := p.filter(shortTerm, now)
	result.Filtered = len(survivors)
	if len(survivors) == 0 {
		log.Printf("consolidation: %s has no eligible short-term memories", characterID)
		result.Threshold = p.currentThreshold(ctx, characterID)
		return result, nil
	}

	// Stage 2: context grouping.
	groups := p.group(survivors, now)
	result.Groups = len(groups)

	// Stage 3: batch scoring with fallback.
	var decisions []decision
	for _, group := range groups {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("consolidation: %w", err)
		}

		evals, fallback := p.scoreGroup(ctx, characterID, group, longTerm, now)
		if fallback {
			result.FallbackUsed = true
		}
		for _, m := range group {
			eval, ok := evals[m.ID]
			if !ok {
				eval = p.fallbackEvaluation(m)
				result.FallbackUsed = true
				decisions = append(decisions, decision{memory: m, eval: eval, fallback: true})
				continue
			}
			decisions = append(decisions, decision{memory: m, eval: eval, fallback: fallback})
		}
	}

	// Stage 4: decision execution, isolated per memory.
	for _, d := range decisions {
		p.execute(ctx, d, result)
	}

	// Stage 5: adaptive feedback.
	threshold, err := p.feedback(ctx, characterID, decisions, result)
	if err != nil {
		log.Printf("consolidation: feedback for %s failed: %v", characterID, err)
		threshold = p.currentThreshold(ctx, characterID)
	}
	result.Threshold = threshold

	log.Printf("consolidation: %s evaluated=%d consolidated=%d deferred=%d rejected=%d fallback=%t",
		characterID, result.TotalEvaluated, result.Consolidated, result.Deferred, result.Rejected, result.FallbackUsed)

	return result, nil
}

// filter implements stage 1: keep a memory iff it is at least MinAgeDays
// old, has importance above MinImportance or has been accessed, and is not
// tagged temporary or system_generated.
func (p *ConsolidationPipeline) filter(memories []*types.Memory, now time.Time) []*types.Memory {
	var out []*types.Memory
	for _, m := range memories {
		if m.AgeDays(now) < p.cfg.MinAgeDays {
			continue
		}
		if !(m.Importance > p.cfg.MinImportance || m.AccessCount > 0) {
			continue
		}
		if m.HasTag(tagTemporary) || m.HasTag(tagSystemGenerated) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// group implements stage 2: sort by creation time, then greedily seed a
// group with the earliest unassigned memory as anchor and pull in any
// remaining memory whose relevance to the anchor reaches the threshold,
// up to MaxGroupSize members.
func (p *ConsolidationPipeline) group(memories []*types.Memory, now time.Time) [][]*types.Memory {
	sorted := append([]*types.Memory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	assigned := make(map[string]bool, len(sorted))
	var groups [][]*types.Memory

	for _, anchor := range sorted {
		if assigned[anchor.ID] {
			continue
		}
		group := []*types.Memory{anchor}
		assigned[anchor.ID] = true

		for _, candidate := range sorted {
			if len(group) >= p.cfg.MaxGroupSize {
				break
			}
			if assigned[candidate.ID] {
				continue
			}
			if p.anchorRelevance(anchor, candidate) >= p.cfg.GroupRelevanceThreshold {
				group = append(group, candidate)
				assigned[candidate.ID] = true
			}
		}
		groups = append(groups, group)
	}

	return groups
}

// anchorRelevance scores how strongly candidate belongs in anchor's group:
// 0.2*recency + 0.3*tagOverlap + 0.2*emotionMatch + 0.3*contentSimilarity.
func (p *ConsolidationPipeline) anchorRelevance(anchor, candidate *types.Memory) float64 {
	return 0.2*recencyScore(anchor.CreatedAt, candidate.CreatedAt) +
		0.3*jaccard(anchor.Tags, candidate.Tags) +
		0.2*emotionMatchScore(anchor, candidate) +
		0.3*contentSimilarity(anchor.Content, candidate.Content)
}

// recencyScore buckets the day gap between two creation times:
// within a day → 0.8, a week → 0.5, a month → 0.3, else 0.1.
func recencyScore(a, b time.Time) float64 {
	days := math.Abs(a.Sub(b).Hours()) / 24.0
	switch {
	case days <= 1:
		return 0.8
	case days <= 7:
		return 0.5
	case days <= 30:
		return 0.3
	default:
		return 0.1
	}
}

// emotionMatchScore compares emotional signatures: an identical named
// emotion scores 0.6; otherwise, when both records carry intensity, closer
// intensities score higher.
func emotionMatchScore(a, b *types.Memory) float64 {
	if a.EmotionLabel != "" && a.EmotionLabel == b.EmotionLabel {
		return 0.6
	}
	if a.EmotionIntensity > 0 && b.EmotionIntensity > 0 {
		diff := math.Abs(a.EmotionIntensity - b.EmotionIntensity)
		switch {
		case diff <= 0.1:
			return 0.5
		case diff <= 0.3:
			return 0.3
		default:
			return 0.1
		}
	}
	return 0
}

// scoreGroup implements stage 3 for one group: assemble the scoring
// context, call the external scorer with timeout and bounded retry, and
// map evaluations by memory ID. The boolean is true when the rule-based
// fallback was used for the whole group.
func (p *ConsolidationPipeline) scoreGroup(
	ctx context.Context,
	characterID string,
	group []*types.Memory,
	longTerm []*types.Memory,
	now time.Time,
) (map[string]llm.Evaluation, bool) {
	if p.scorer == nil {
		return p.fallbackGroup(group), true
	}

	sc := p.buildScoringContext(ctx, characterID, group, longTerm)
	candidates := make([]llm.Candidate, 0, len(group))
	for _, m := range group {
		candidates = append(candidates, llm.Candidate{
			ID:               m.ID,
			Content:          m.Content,
			Importance:       m.Importance,
			EmotionIntensity: m.EmotionIntensity,
			AccessCount:      m.AccessCount,
			Tags:             m.Tags,
			CreatedAt:        m.CreatedAt,
			AgeDays:          m.AgeDays(now),
		})
	}

	evals, err := p.scoreWithRetry(ctx, sc, candidates)
	if err != nil {
		log.Printf("consolidation: scorer failed for %s, using rule-based fallback: %v", characterID, err)
		return p.fallbackGroup(group), true
	}

	byID := make(map[string]llm.Evaluation, len(evals))
	for _, e := range evals {
		byID[e.ID] = e
	}
	return byID, false
}

// scoreWithRetry calls the scorer under a timeout, retrying transient
// failures with doubling backoff. Context cancellation aborts immediately.
func (p *ConsolidationPipeline) scoreWithRetry(ctx context.Context, sc llm.ScoringContext, candidates []llm.Candidate) ([]llm.Evaluation, error) {
	backoff := p.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= p.cfg.ScorerRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
		evals, err := p.scorer.ScoreBatch(callCtx, sc, candidates)
		cancel()
		if err == nil {
			return evals, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, lastErr
}

// buildScoringContext assembles the character summary, up to 5 related
// long-term memories (content similarity above 0.3 to any group member or
// a non-empty tag overlap), and up to 3 relationship snippets.
func (p *ConsolidationPipeline) buildScoringContext(ctx context.Context, characterID string, group, longTerm []*types.Memory) llm.ScoringContext {
	sc := llm.ScoringContext{CharacterName: characterID}

	if p.profiles != nil {
		if prof, err := p.profiles.GetProfile(ctx, characterID); err == nil {
			sc.CharacterName = prof.Name
			sc.CharacterProfile = prof.Profile
			if len(prof.Relationships) > 3 {
				sc.Relationships = prof.Relationships[:3]
			} else {
				sc.Relationships = prof.Relationships
			}
		}
	}

	for _, lt := range longTerm {
		if len(sc.Related) >= 5 {
			break
		}
		for _, m := range group {
			if contentSimilarity(lt.Content, m.Content) > 0.3 || intersects(lt.Tags, m.Tags) {
				sc.Related = append(sc.Related, llm.RelatedMemory{
					ID:      lt.ID,
					Content: lt.Content,
					Tags:    lt.Tags,
				})
				break
			}
		}
	}

	total := len(longTerm) + len(group)
	sc.MemoryCount = total
	if total > 0 {
		sum := 0.0
		for _, m := range longTerm {
			sum += m.Importance
		}
		for _, m := range group {
			sum += m.Importance
		}
		sc.AverageImportance = sum / float64(total)
	}

	return sc
}

// fallbackGroup applies the deterministic rule to every group member.
func (p *ConsolidationPipeline) fallbackGroup(group []*types.Memory) map[string]llm.Evaluation {
	out := make(map[string]llm.Evaluation, len(group))
	for _, m := range group {
		out[m.ID] = p.fallbackEvaluation(m)
	}
	return out
}

// fallbackEvaluation is the rule-based stand-in for the external scorer:
// consolidate when the memory is both important and repeatedly accessed.
func (p *ConsolidationPipeline) fallbackEvaluation(m *types.Memory) llm.Evaluation {
	return llm.Evaluation{
		ID:                m.ID,
		ShouldConsolidate: m.Importance > p.cfg.FallbackImportance && m.AccessCount > p.cfg.FallbackAccessCount,
		Confidence:        0.3,
		Reasoning:         "fallback",
	}
}

// execute implements stage 4 for a single decision. A scorer verdict needs
// confidence above the threshold to act; the deterministic fallback rule
// executes directly. Persistence failures are isolated: the memory is
// counted and the pass continues.
func (p *ConsolidationPipeline) execute(ctx context.Context, d decision, result *ConsolidationResult) {
	result.TotalEvaluated++

	outcome := "rejected"
	switch {
	case d.eval.ShouldConsolidate && (d.fallback || d.eval.Confidence > p.cfg.ConfidenceThreshold):
		promoted := d.memory.Clone()
		promoted.Category = types.CategoryLongTerm
		if err := p.store.Store(ctx, promoted); err != nil {
			log.Printf("consolidation: failed to persist promotion of %s: %v", d.memory.ID, err)
			result.StoreErrors++
			result.Rejected++
		} else {
			result.Consolidated++
			outcome = "consolidated"
		}
	case d.eval.ShouldConsolidate:
		log.Printf("consolidation: deferring %s (confidence %.2f below %.2f)",
			d.memory.ID, d.eval.Confidence, p.cfg.ConfidenceThreshold)
		result.Deferred++
		outcome = "deferred"
	default:
		result.Rejected++
	}

	if p.thresholds != nil {
		entry := &storage.DecisionLogEntry{
			CharacterID: d.memory.CharacterID,
			MemoryID:    d.memory.ID,
			Decision:    outcome,
			Score:       d.eval.OverallScore(),
			Confidence:  d.eval.Confidence,
			Reasoning:   d.eval.Reasoning,
			CreatedAt:   p.now(),
		}
		if err := p.thresholds.AppendDecisionLog(ctx, entry); err != nil {
			log.Printf("consolidation: failed to append decision log for %s: %v", d.memory.ID, err)
		}
	}
}

// feedback implements stage 5: fold this pass's decisions into the
// character's persisted statistics and, once enough decisions have
// accumulated, nudge the evaluation threshold. The threshold is persisted
// for review; stage 4 does not read it back.
func (p *ConsolidationPipeline) feedback(ctx context.Context, characterID string, decisions []decision, result *ConsolidationResult) (float64, error) {
	threshold := p.currentThreshold(ctx, characterID)
	if p.thresholds == nil || len(decisions) == 0 {
		return threshold, nil
	}

	stats, err := p.thresholds.GetStatistics(ctx, characterID)
	if err != nil {
		return threshold, fmt.Errorf("load statistics: %w", err)
	}
	if stats == nil {
		stats = &storage.CharacterStatistics{CharacterID: characterID}
	}

	stats.TotalEvaluated += result.TotalEvaluated
	stats.Consolidated += result.Consolidated
	stats.Deferred += result.Deferred
	stats.Rejected += result.Rejected
	for _, d := range decisions {
		stats.ScoreSum += d.eval.OverallScore()
	}

	if err := p.thresholds.SaveStatistics(ctx, stats); err != nil {
		return threshold, fmt.Errorf("save statistics: %w", err)
	}

	if stats.TotalEvaluated < p.cfg.MinDecisionsForFeedback {
		return threshold, nil
	}

	consolidatedRate := float64(stats.Consolidated) / float64(stats.TotalEvaluated)
	avgScore := stats.ScoreSum / float64(stats.TotalEvaluated)

	switch {
	case consolidatedRate > 0.8 && avgScore > 0.7:
		threshold = math.Min(thresholdCap, threshold+thresholdStep)
	case consolidatedRate < 0.3 && avgScore < 0.4:
		threshold = math.Max(thresholdFloor, threshold-thresholdStep)
	default:
		return threshold, nil
	}

	if err := p.thresholds.SaveThreshold(ctx, characterID, threshold); err != nil {
		return threshold, fmt.Errorf("save threshold: %w", err)
	}
	log.Printf("consolidation: adjusted threshold for %s to %.2f (rate %.2f, avg score %.2f)",
		characterID, threshold, consolidatedRate, avgScore)
	return threshold, nil
}

// currentThreshold returns the character's persisted threshold, or the
// default when none is saved yet.
func (p *ConsolidationPipeline) currentThreshold(ctx context.Context, characterID string) float64 {
	if p.thresholds == nil {
		return defaultEvaluationThreshold
	}
	v, ok, err := p.thresholds.GetThreshold(ctx, characterID)
	if err != nil || !ok {
		return defaultEvaluationThreshold
	}
	return v
}
