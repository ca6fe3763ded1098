package procedural_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/reverie-ai/reverie/internal/procedural"
	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

func newManager(t *testing.T) *procedural.Manager {
	t.Helper()
	m, err := procedural.NewManager(context.Background(), procedural.NewInMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func createSkill(t *testing.T, m *procedural.Manager, name string, conditions ...types.Condition) *types.ProceduralMemory {
	t.Helper()
	pm, err := m.Create(context.Background(), name, types.ProceduralSkill, conditions, []string{"do it"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return pm
}

// TestCreateStartsAtZeroProficiency verifies new memories begin untrained.
func TestCreateStartsAtZeroProficiency(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "lockpicking")

	if pm.Proficiency != 0 {
		t.Errorf("proficiency = %f, want 0", pm.Proficiency)
	}
	if pm.ExecutionCount != 0 {
		t.Errorf("executionCount = %d, want 0", pm.ExecutionCount)
	}
	if pm.ID == "" {
		t.Error("expected a generated ID")
	}
}

// TestCreateRejectsInvalidInput verifies name and type validation.
func TestCreateRejectsInvalidInput(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "", types.ProceduralSkill, nil, nil, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty name: expected ErrInvalidInput, got %v", err)
	}
	if _, err := m.Create(ctx, "x", types.ProceduralType("MAGIC"), nil, nil, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("bad type: expected ErrInvalidInput, got %v", err)
	}
}

// TestExecuteSuccessCurve verifies the diminishing-returns learning curve:
// the first success moves proficiency by exactly learningRate.
func TestExecuteSuccessCurve(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "archery")
	ctx := context.Background()

	after, err := m.Execute(ctx, pm.ID, true, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(after.Proficiency-0.05) > 1e-12 {
		t.Errorf("proficiency after first success = %f, want 0.05", after.Proficiency)
	}

	// Gains shrink as proficiency rises.
	prev := after.Proficiency
	prevGain := prev
	for i := 0; i < 20; i++ {
		after, err = m.Execute(ctx, pm.ID, true, 100*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		gain := after.Proficiency - prev
		if gain <= 0 || gain >= prevGain {
			t.Fatalf("iteration %d: gain %f not in (0, %f)", i, gain, prevGain)
		}
		prev, prevGain = after.Proficiency, gain
	}
	if prev >= 1.0 {
		t.Errorf("proficiency %f escaped [0, 1)", prev)
	}
}

// TestExecuteFailurePenalty verifies a failure costs exactly a fifth of a
// learning step and never goes below zero.
func TestExecuteFailurePenalty(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "juggling")
	ctx := context.Background()

	if _, err := m.Execute(ctx, pm.ID, true, time.Second); err != nil {
		t.Fatal(err)
	}
	after, err := m.Execute(ctx, pm.ID, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(after.Proficiency-(0.05-0.01)) > 1e-12 {
		t.Errorf("proficiency after failure = %f, want 0.04", after.Proficiency)
	}

	// A failure on an untrained memory clamps at zero.
	fresh := createSkill(t, m, "whittling")
	after, err = m.Execute(ctx, fresh.ID, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if after.Proficiency != 0 {
		t.Errorf("proficiency = %f, want clamped to 0", after.Proficiency)
	}
}

// TestSuccessRateEMASeededByFirstOutcome verifies the moving average
// starts at the first outcome and then blends with alpha 0.1.
func TestSuccessRateEMASeededByFirstOutcome(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "navigation")
	ctx := context.Background()

	after, err := m.Execute(ctx, pm.ID, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if after.SuccessRate != 0 {
		t.Errorf("rate after first failure = %f, want 0 (seeded)", after.SuccessRate)
	}

	after, err = m.Execute(ctx, pm.ID, true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(after.SuccessRate-0.1) > 1e-12 {
		t.Errorf("rate after success = %f, want 0.1", after.SuccessRate)
	}

	after, err = m.Execute(ctx, pm.ID, true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	want := 0.1*1.0 + 0.9*0.1
	if math.Abs(after.SuccessRate-want) > 1e-12 {
		t.Errorf("rate = %f, want %f", after.SuccessRate, want)
	}
}

// TestAverageExecutionTimeIsRunningMean verifies the execution time mean.
func TestAverageExecutionTimeIsRunningMean(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "smithing")
	ctx := context.Background()

	durations := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 600 * time.Millisecond}
	var after *types.ProceduralMemory
	var err error
	for _, d := range durations {
		after, err = m.Execute(ctx, pm.ID, true, d)
		if err != nil {
			t.Fatal(err)
		}
	}
	if after.AverageExecutionTime != 300*time.Millisecond {
		t.Errorf("average = %v, want 300ms", after.AverageExecutionTime)
	}
}

// TestIsAutomatedRequiresBothGates verifies automation needs proficiency
// at 0.9 or above across at least 10 runs.
func TestIsAutomatedRequiresBothGates(t *testing.T) {
	cases := []struct {
		name        string
		proficiency float64
		count       int
		want        bool
	}{
		{"untrained", 0, 0, false},
		{"skilled_but_unpracticed", 0.95, 5, false},
		{"practiced_but_unskilled", 0.5, 50, false},
		{"automated", 0.9, 10, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pm := &types.ProceduralMemory{Proficiency: tc.proficiency, ExecutionCount: tc.count}
			if got := pm.IsAutomated(); got != tc.want {
				t.Errorf("IsAutomated() = %t, want %t", got, tc.want)
			}
		})
	}
}

// TestFindMatchingConditionOperators exercises every condition operator,
// including fail-closed behavior for non-numeric comparisons.
func TestFindMatchingConditionOperators(t *testing.T) {
	cases := []struct {
		name      string
		condition types.Condition
		context   map[string]any
		want      bool
	}{
		{"equals_match", types.Condition{Key: "location", Operator: types.OperatorEquals, Value: "forge"},
			map[string]any{"location": "forge"}, true},
		{"equals_mismatch", types.Condition{Key: "location", Operator: types.OperatorEquals, Value: "forge"},
			map[string]any{"location": "dock"}, false},
		{"not_equals", types.Condition{Key: "location", Operator: types.OperatorNotEquals, Value: "forge"},
			map[string]any{"location": "dock"}, true},
		{"contains", types.Condition{Key: "task", Operator: types.OperatorContains, Value: "sword"},
			map[string]any{"task": "sharpen the sword blade"}, true},
		{"greater_than", types.Condition{Key: "heat", Operator: types.OperatorGreaterThan, Value: 500.0},
			map[string]any{"heat": 800.0}, true},
		{"greater_than_int_context", types.Condition{Key: "heat", Operator: types.OperatorGreaterThan, Value: 500.0},
			map[string]any{"heat": 800}, true},
		{"greater_than_non_numeric_fails_closed", types.Condition{Key: "heat", Operator: types.OperatorGreaterThan, Value: 500.0},
			map[string]any{"heat": "very hot"}, false},
		{"less_than", types.Condition{Key: "noise", Operator: types.OperatorLessThan, Value: 10.0},
			map[string]any{"noise": 3.0}, true},
		{"less_than_non_numeric_value_fails_closed", types.Condition{Key: "noise", Operator: types.OperatorLessThan, Value: "quiet"},
			map[string]any{"noise": 3.0}, false},
		{"in_list", types.Condition{Key: "tool", Operator: types.OperatorInList, Value: []any{"hammer", "tongs"}},
			map[string]any{"tool": "tongs"}, true},
		{"in_list_string_slice", types.Condition{Key: "tool", Operator: types.OperatorInList, Value: []string{"hammer", "tongs"}},
			map[string]any{"tool": "hammer"}, true},
		{"in_list_absent", types.Condition{Key: "tool", Operator: types.OperatorInList, Value: []any{"hammer"}},
			map[string]any{"tool": "chisel"}, false},
		{"missing_key_fails", types.Condition{Key: "ghost", Operator: types.OperatorEquals, Value: "x"},
			map[string]any{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newManager(t)
			pm := createSkill(t, m, "forging", tc.condition)
			ctx := context.Background()

			// Train past the default proficiency floor.
			for i := 0; i < 12; i++ {
				if _, err := m.Execute(ctx, pm.ID, true, time.Second); err != nil {
					t.Fatal(err)
				}
			}

			matches := m.FindMatching(tc.context, types.ProceduralSkill, -1)
			if got := len(matches) == 1; got != tc.want {
				t.Errorf("matched = %t, want %t", got, tc.want)
			}
		})
	}
}

// TestFindMatchingRanksByProficiency verifies filtering by type and floor,
// and descending proficiency order.
func TestFindMatchingRanksByProficiency(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	low := createSkill(t, m, "low")
	high := createSkill(t, m, "high")
	habit, err := m.Create(ctx, "stretching", types.ProceduralHabit, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if _, err := m.Execute(ctx, low.ID, true, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 40; i++ {
		if _, err := m.Execute(ctx, high.ID, true, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 40; i++ {
		if _, err := m.Execute(ctx, habit.ID, true, time.Second); err != nil {
			t.Fatal(err)
		}
	}

	matches := m.FindMatching(map[string]any{}, types.ProceduralSkill, -1)
	if len(matches) != 2 {
		t.Fatalf("expected 2 skill matches, got %d", len(matches))
	}
	if matches[0].ID != high.ID || matches[1].ID != low.ID {
		t.Errorf("expected descending proficiency order, got %s then %s", matches[0].Name, matches[1].Name)
	}

	// Untrained memories sit below the default floor of 0.3.
	fresh := createSkill(t, m, "fresh")
	matches = m.FindMatching(map[string]any{}, types.ProceduralSkill, -1)
	for _, match := range matches {
		if match.ID == fresh.ID {
			t.Error("untrained memory must not pass the proficiency floor")
		}
	}

	// An explicit zero floor includes everything of the type.
	matches = m.FindMatching(map[string]any{}, types.ProceduralSkill, 0)
	if len(matches) != 3 {
		t.Errorf("expected 3 matches at zero floor, got %d", len(matches))
	}
}

// TestApplyDecaySkipsRecentlyUsed verifies decay only touches memories
// unused for at least the given window.
func TestApplyDecaySkipsRecentlyUsed(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	pm := createSkill(t, m, "rarely used")
	for i := 0; i < 3; i++ {
		if _, err := m.Execute(ctx, pm.ID, true, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	before, err := m.Get(pm.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing is old enough yet.
	if n := m.ApplyDecay(ctx, 30); n != 0 {
		t.Errorf("decayed %d memories, want 0 (recently executed)", n)
	}
	after, err := m.Get(pm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Proficiency != before.Proficiency {
		t.Errorf("proficiency changed without decay: %f -> %f", before.Proficiency, after.Proficiency)
	}
}

// TestHistoryCappedAtHundred verifies only the most recent 100 execution
// records are retained.
func TestHistoryCappedAtHundred(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "drilling")
	ctx := context.Background()

	var after *types.ProceduralMemory
	var err error
	for i := 0; i < 120; i++ {
		after, err = m.Execute(ctx, pm.ID, true, time.Second)
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(after.History) != 100 {
		t.Errorf("history length = %d, want 100", len(after.History))
	}
	if after.ExecutionCount != 120 {
		t.Errorf("executionCount = %d, want 120 (independent of history cap)", after.ExecutionCount)
	}
}

// TestGetLearningProgress verifies the trend summary.
func TestGetLearningProgress(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "brewing")
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := m.Execute(ctx, pm.ID, true, time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Execute(ctx, pm.ID, false, time.Second); err != nil {
		t.Fatal(err)
	}

	progress, err := m.GetLearningProgress(pm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if progress.ExecutionCount != 9 {
		t.Errorf("executionCount = %d, want 9", progress.ExecutionCount)
	}
	wantRecent := 8.0 / 9.0
	if math.Abs(progress.RecentSuccessRate-wantRecent) > 1e-12 {
		t.Errorf("recentSuccessRate = %f, want %f", progress.RecentSuccessRate, wantRecent)
	}
	if progress.ProficiencyTrend <= 0 {
		t.Errorf("expected positive proficiency trend, got %f", progress.ProficiencyTrend)
	}
	if progress.Automated {
		t.Error("nine runs must not be automated")
	}

	if _, err := m.GetLearningProgress("ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestDeleteRemovesMemory verifies delete semantics.
func TestDeleteRemovesMemory(t *testing.T) {
	m := newManager(t)
	pm := createSkill(t, m, "temporary craft")
	ctx := context.Background()

	if err := m.Delete(ctx, pm.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(pm.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.Delete(ctx, pm.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

// TestManagerReloadsFromStore verifies a new manager over the same store
// sees previously persisted state.
func TestManagerReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	store := procedural.NewInMemoryStore()

	m1, err := procedural.NewManager(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	pm, err := m1.Create(ctx, "carpentry", types.ProceduralSkill, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Execute(ctx, pm.ID, true, time.Second); err != nil {
		t.Fatal(err)
	}

	m2, err := procedural.NewManager(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := m2.Get(pm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(reloaded.Proficiency-0.05) > 1e-12 {
		t.Errorf("reloaded proficiency = %f, want 0.05", reloaded.Proficiency)
	}
}
