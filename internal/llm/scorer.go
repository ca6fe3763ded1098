package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Rubric weights for the five scoring dimensions. The overall score of an
// evaluation is the weighted sum of its dimensions.
const (
	WeightSemanticValue        = 0.3
	WeightEmotionalDepth       = 0.25
	WeightAssociationValue     = 0.2
	WeightCharacterDevelopment = 0.15
	WeightPracticalValue       = 0.1
)

// Candidate is a short-term memory submitted for consolidation scoring.
// At most five candidates are sent per batch.
type Candidate struct {
	ID               string
	Content          string
	Importance       float64
	EmotionIntensity float64
	AccessCount      int
	Tags             []string
	CreatedAt        time.Time
	AgeDays          float64
}

// RelatedMemory is a long-term memory included in the scoring context.
type RelatedMemory struct {
	ID      string
	Content string
	Tags    []string
}

// ScoringContext is the character/context summary that accompanies a batch.
type ScoringContext struct {
	CharacterName     string
	CharacterProfile  string
	Relationships     []string // Up to 3 relationship snippets
	Related           []RelatedMemory
	MemoryCount       int
	AverageImportance float64
}

// Evaluation is the scorer's verdict for a single candidate.
type Evaluation struct {
	ID                   string  `json:"id"`
	ShouldConsolidate    bool    `json:"shouldConsolidate"`
	Confidence           float64 `json:"confidence"`
	SemanticValue        float64 `json:"semanticValue"`
	EmotionalDepth       float64 `json:"emotionalDepth"`
	AssociationValue     float64 `json:"associationValue"`
	CharacterDevelopment float64 `json:"characterDevelopment"`
	PracticalValue       float64 `json:"practicalValue"`
	Reasoning            string  `json:"reasoning,omitempty"`
}

// OverallScore returns the rubric-weighted sum of the five dimensions.
func (e Evaluation) OverallScore() float64 {
	return e.SemanticValue*WeightSemanticValue +
		e.EmotionalDepth*WeightEmotionalDepth +
		e.AssociationValue*WeightAssociationValue +
		e.CharacterDevelopment*WeightCharacterDevelopment +
		e.PracticalValue*WeightPracticalValue
}

// Scorer evaluates a batch of consolidation candidates. Implementations
// must return one evaluation per candidate they could score; missing
// candidates fall back to the rule-based path in the pipeline.
type Scorer interface {
	ScoreBatch(ctx context.Context, sc ScoringContext, candidates []Candidate) ([]Evaluation, error)
}

// evaluationResponse is the JSON envelope the scorer prompt asks for.
type evaluationResponse struct {
	Evaluations []Evaluation `json:"evaluations"`
}

// LLMScorer implements Scorer over a TextGenerator, with circuit breaker
// protection around every call.
type LLMScorer struct {
	gen     TextGenerator
	breaker *CircuitBreaker
}

// NewLLMScorer wires a scorer over the given text generator.
func NewLLMScorer(gen TextGenerator) *LLMScorer {
	return &LLMScorer{gen: gen, breaker: NewCircuitBreaker()}
}

// ScoreBatch sends the scoring prompt and parses the evaluations out of the
// free-text response.
func (s *LLMScorer) ScoreBatch(ctx context.Context, sc ScoringContext, candidates []Candidate) ([]Evaluation, error) {
	prompt := BuildScoringPrompt(sc, candidates)

	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.gen.Complete(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("scorer call failed: %w", err)
	}

	evals, err := ParseEvaluationResponse(result.(string))
	if err != nil {
		return nil, fmt.Errorf("scorer response unparsable: %w", err)
	}
	return evals, nil
}

// BuildScoringPrompt assembles the structured consolidation prompt: the
// character summary, up to five related long-term memories, and the
// candidate batch with the fixed five-dimension rubric.
func BuildScoringPrompt(sc ScoringContext, candidates []Candidate) string {
	var b strings.Builder

	b.WriteString("You evaluate which of a character's short-term memories deserve long-term consolidation.\n\n")

	fmt.Fprintf(&b, "Character: %s\n", sc.CharacterName)
	if sc.CharacterProfile != "" {
		fmt.Fprintf(&b, "Profile: %s\n", sc.CharacterProfile)
	}
	if len(sc.Relationships) > 0 {
		fmt.Fprintf(&b, "Known relationships: %s\n", strings.Join(sc.Relationships, "; "))
	}
	if sc.MemoryCount > 0 {
		fmt.Fprintf(&b, "The character holds %d memories with average importance %.2f.\n",
			sc.MemoryCount, sc.AverageImportance)
	}

	if len(sc.Related) > 0 {
		b.WriteString("\nRelated long-term memories:\n")
		for _, r := range sc.Related {
			fmt.Fprintf(&b, "- [%s] %s", r.ID, r.Content)
			if len(r.Tags) > 0 {
				fmt.Fprintf(&b, " (tags: %s)", strings.Join(r.Tags, ", "))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCandidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s importance=%.2f emotionIntensity=%.2f accessCount=%d ageDays=%.1f createdAt=%s\n",
			c.ID, c.Importance, c.EmotionIntensity, c.AccessCount, c.AgeDays, c.CreatedAt.Format(time.RFC3339))
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "  tags: %s\n", strings.Join(c.Tags, ", "))
		}
		fmt.Fprintf(&b, "  content: %s\n", c.Content)
	}

	b.WriteString(`
Score each candidate on five dimensions in [0.0, 1.0]:
- semanticValue (weight 0.3): factual/semantic information worth keeping
- emotionalDepth (weight 0.25): emotional significance to the character
- associationValue (weight 0.2): connections to existing long-term memories
- characterDevelopment (weight 0.15): contribution to how the character grows
- practicalValue (weight 0.1): usefulness for future interactions

Respond with ONLY a JSON object of this exact shape, one entry per candidate:
{"evaluations": [{"id": "...", "shouldConsolidate": true, "confidence": 0.0, "semanticValue": 0.0, "emotionalDepth": 0.0, "associationValue": 0.0, "characterDevelopment": 0.0, "practicalValue": 0.0, "reasoning": "..."}]}
`)

	return b.String()
}

// ParseEvaluationResponse extracts evaluations from free-text scorer
// output. It strips markdown fences, extracts the first balanced {...}
// span, and unmarshals it; entries with out-of-range confidence are
// dropped rather than failing the batch. Returns an error only when no
// parsable JSON object is present.
func ParseEvaluationResponse(text string) ([]Evaluation, error) {
	cleanJSON := extractJSON(text)

	var response evaluationResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation JSON: %w", err)
	}

	valid := make([]Evaluation, 0, len(response.Evaluations))
	for _, eval := range response.Evaluations {
		if eval.ID == "" {
			log.Printf("scorer: skipping evaluation with empty id")
			continue
		}
		if eval.Confidence < 0.0 || eval.Confidence > 1.0 {
			log.Printf("scorer: skipping evaluation %q with invalid confidence %f", eval.ID, eval.Confidence)
			continue
		}
		valid = append(valid, eval)
	}
	return valid, nil
}

// extractJSON extracts the first balanced JSON object from a string that
// may contain extra text. LLMs add explanations before/after the JSON
// despite instructions; this finds the first '{' and walks to its matching
// brace, ignoring braces inside strings.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found; let the parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete object; let the parser fail
}
