package llm

import (
	"strings"
	"testing"
	"time"
)

// TestParseEvaluationResponsePlainJSON verifies a clean response parses.
func TestParseEvaluationResponsePlainJSON(t *testing.T) {
	text := `{"evaluations": [
		{"id": "m1", "shouldConsolidate": true, "confidence": 0.8,
		 "semanticValue": 0.9, "emotionalDepth": 0.4, "associationValue": 0.5,
		 "characterDevelopment": 0.3, "practicalValue": 0.6, "reasoning": "key event"},
		{"id": "m2", "shouldConsolidate": false, "confidence": 0.7}
	]}`

	evals, err := ParseEvaluationResponse(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(evals))
	}
	if evals[0].ID != "m1" || !evals[0].ShouldConsolidate {
		t.Errorf("first evaluation wrong: %+v", evals[0])
	}
	want := 0.9*WeightSemanticValue + 0.4*WeightEmotionalDepth + 0.5*WeightAssociationValue +
		0.3*WeightCharacterDevelopment + 0.6*WeightPracticalValue
	if got := evals[0].OverallScore(); got != want {
		t.Errorf("overall score = %f, want %f", got, want)
	}
}

// TestParseEvaluationResponseStripsFences verifies markdown-fenced JSON
// with surrounding prose still parses.
func TestParseEvaluationResponseStripsFences(t *testing.T) {
	text := "Here is my evaluation of the memories:\n```json\n" +
		`{"evaluations": [{"id": "m1", "shouldConsolidate": true, "confidence": 0.9}]}` +
		"\n```\nLet me know if you need more detail."

	evals, err := ParseEvaluationResponse(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].ID != "m1" {
		t.Errorf("unexpected evaluations: %+v", evals)
	}
}

// TestParseEvaluationResponseDropsInvalidEntries verifies entries with an
// empty id or out-of-range confidence are discarded, not fatal.
func TestParseEvaluationResponseDropsInvalidEntries(t *testing.T) {
	text := `{"evaluations": [
		{"id": "", "shouldConsolidate": true, "confidence": 0.5},
		{"id": "m1", "shouldConsolidate": true, "confidence": 1.5},
		{"id": "m2", "shouldConsolidate": true, "confidence": -0.1},
		{"id": "m3", "shouldConsolidate": true, "confidence": 0.6}
	]}`

	evals, err := ParseEvaluationResponse(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].ID != "m3" {
		t.Errorf("expected only m3 to survive, got %+v", evals)
	}
}

// TestParseEvaluationResponseGarbageFails verifies unparsable text errors.
func TestParseEvaluationResponseGarbageFails(t *testing.T) {
	for _, text := range []string{"", "no json here at all", "{\"evaluations\": [unterminated"} {
		if _, err := ParseEvaluationResponse(text); err == nil {
			t.Errorf("expected error for %q", text)
		}
	}
}

// TestExtractJSONHandlesNestedAndStrings verifies brace balancing ignores
// braces inside strings and escapes.
func TestExtractJSONHandlesNestedAndStrings(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "nested_objects",
			in:   `prefix {"a": {"b": 1}} suffix`,
			want: `{"a": {"b": 1}}`,
		},
		{
			name: "brace_inside_string",
			in:   `{"reasoning": "uses a } brace"} trailing`,
			want: `{"reasoning": "uses a } brace"}`,
		},
		{
			name: "escaped_quote_inside_string",
			in:   `{"reasoning": "she said \"go\" loudly"}`,
			want: `{"reasoning": "she said \"go\" loudly"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.in); got != tc.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestBuildScoringPromptIncludesCandidatesAndContext verifies the prompt
// carries the batch and the context summary.
func TestBuildScoringPromptIncludesCandidatesAndContext(t *testing.T) {
	sc := ScoringContext{
		CharacterName:     "Alice",
		CharacterProfile:  "a careful apothecary",
		Relationships:     []string{"mentor: Old Wen"},
		Related:           []RelatedMemory{{ID: "lt1", Content: "studied herbs with Wen", Tags: []string{"herbs"}}},
		MemoryCount:       12,
		AverageImportance: 0.62,
	}
	candidates := []Candidate{
		{ID: "c1", Content: "brewed the fever tonic alone", Importance: 0.7,
			Tags: []string{"tonic"}, CreatedAt: time.Now(), AgeDays: 2.5},
	}

	prompt := BuildScoringPrompt(sc, candidates)

	for _, fragment := range []string{
		"Alice", "a careful apothecary", "mentor: Old Wen",
		"lt1", "studied herbs with Wen",
		"id=c1", "brewed the fever tonic alone",
		"semanticValue", "emotionalDepth", "associationValue",
		"characterDevelopment", "practicalValue",
		`"evaluations"`,
	} {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("prompt missing %q", fragment)
		}
	}
}
