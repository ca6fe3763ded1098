// Package engine implements the adaptive memory lifecycle engine: the
// retention/decay model, similarity-based merging, conflict resolution,
// memory reconstruction, and the short-term to long-term consolidation
// pipeline.
package engine

import "math"

// StrengthConfig holds the weight set for the retention model. The named
// presets differ only in these values; there is no code branching between
// them.
type StrengthConfig struct {
	MinEffectiveStrength        float64 `yaml:"min_effective_strength"`
	BaseStrengthMultiplier      float64 `yaml:"base_strength_multiplier"`
	EmotionBonusMultiplier      float64 `yaml:"emotion_bonus_multiplier"`
	ImportanceBonusMultiplier   float64 `yaml:"importance_bonus_multiplier"`
	DifficultyPenaltyMultiplier float64 `yaml:"difficulty_penalty_multiplier"`
	ContextBonusMultiplier      float64 `yaml:"context_bonus_multiplier"`
	ConfidenceBaseWeight        float64 `yaml:"confidence_base_weight"`
	ConfidenceMultiplier        float64 `yaml:"confidence_multiplier"`
}

// DefaultStrengthConfig is the balanced preset.
func DefaultStrengthConfig() StrengthConfig {
	return StrengthConfig{
		MinEffectiveStrength:        1.0,
		BaseStrengthMultiplier:      2.0,
		EmotionBonusMultiplier:      1.5,
		ImportanceBonusMultiplier:   2.0,
		DifficultyPenaltyMultiplier: 1.0,
		ContextBonusMultiplier:      0.5,
		ConfidenceBaseWeight:        0.5,
		ConfidenceMultiplier:        0.5,
	}
}

// ConservativeStrengthConfig decays slower: memories are assumed stickier.
func ConservativeStrengthConfig() StrengthConfig {
	return StrengthConfig{
		MinEffectiveStrength:        2.0,
		BaseStrengthMultiplier:      3.0,
		EmotionBonusMultiplier:      2.0,
		ImportanceBonusMultiplier:   2.5,
		DifficultyPenaltyMultiplier: 0.5,
		ContextBonusMultiplier:      1.0,
		ConfidenceBaseWeight:        0.6,
		ConfidenceMultiplier:        0.4,
	}
}

// AggressiveStrengthConfig decays faster: weakly reinforced memories fade
// quickly.
func AggressiveStrengthConfig() StrengthConfig {
	return StrengthConfig{
		MinEffectiveStrength:        0.5,
		BaseStrengthMultiplier:      1.0,
		EmotionBonusMultiplier:      1.0,
		ImportanceBonusMultiplier:   1.5,
		DifficultyPenaltyMultiplier: 1.5,
		ContextBonusMultiplier:      0.25,
		ConfidenceBaseWeight:        0.4,
		ConfidenceMultiplier:        0.6,
	}
}

// StrengthFactors are the per-memory inputs to the retention model.
type StrengthFactors struct {
	ReinforcementCount int     // Times the memory has been reinforced
	EmotionIntensity   float64 // 0.0-1.0
	Importance         float64 // 0.0-1.0
	RecallDifficulty   float64 // 0.0-1.0, higher is harder to recall
	ContextRelevance   float64 // 0.0-1.0
}

// EffectiveStrength computes the decay time-constant (in days) for the
// given factors:
//
//	base    = ln(1+reinforcementCount) * baseStrengthMultiplier
//	strength = max(minEffectiveStrength,
//	               base + emotionBonus + importanceBonus - difficultyPenalty + contextBonus)
func EffectiveStrength(f StrengthFactors, cfg StrengthConfig) float64 {
	base := math.Log(1+float64(f.ReinforcementCount)) * cfg.BaseStrengthMultiplier
	emotionBonus := f.EmotionIntensity * cfg.EmotionBonusMultiplier
	importanceBonus := f.Importance * cfg.ImportanceBonusMultiplier
	difficultyPenalty := f.RecallDifficulty * cfg.DifficultyPenaltyMultiplier
	contextBonus := f.ContextRelevance * cfg.ContextBonusMultiplier

	strength := base + emotionBonus + importanceBonus - difficultyPenalty + contextBonus
	return math.Max(cfg.MinEffectiveStrength, strength)
}

// Retention returns the current retention of a memory after elapsedDays,
// weighted by recall confidence:
//
//	retention = exp(-elapsedDays/effectiveStrength) *
//	            (confidenceBaseWeight + confidence*confidenceMultiplier)
//
// At elapsedDays=0 the result equals confidenceBaseWeight +
// confidence*confidenceMultiplier for any config; retention strictly
// decreases as elapsedDays grows for a fixed strength and tends to 0.
func Retention(f StrengthFactors, elapsedDays, confidence float64, cfg StrengthConfig) float64 {
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	strength := EffectiveStrength(f, cfg)
	decay := math.Exp(-elapsedDays / strength)
	return decay * (cfg.ConfidenceBaseWeight + confidence*cfg.ConfidenceMultiplier)
}
