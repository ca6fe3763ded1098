package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reverie-ai/reverie/internal/engine"
	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

func newReconstructionFixture(t *testing.T, memories ...*types.Memory) (*engine.ReconstructionService, *storage.InMemoryStore) {
	t.Helper()
	store := storage.NewInMemoryStore()
	for _, m := range memories {
		if err := store.Store(context.Background(), m); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	svc := engine.NewReconstructionService(store, engine.NewSmartMergeStrategy(), engine.NewSmartConflictResolver())
	return svc, store
}

// TestAppendKeepsOriginalContent verifies Append adds content without
// disturbing what was there, and records the operation.
func TestAppendKeepsOriginalContent(t *testing.T) {
	ctx := context.Background()
	original := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content: "found the hidden path behind the falls", CreatedAt: time.Now(),
	}
	svc, store := newReconstructionFixture(t, original)

	updated, err := svc.Append(ctx, "m1", "it leads to an old shrine")
	if err != nil {
		t.Fatal(err)
	}
	want := original.Content + "\nit leads to an old shrine"
	if updated.Content != want {
		t.Errorf("content = %q, want %q", updated.Content, want)
	}

	stored, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Content != want {
		t.Errorf("stored content = %q, want %q", stored.Content, want)
	}

	history := svc.History("m1")
	if len(history) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(history))
	}
	rec := history[0]
	if rec.Operation != types.OpAppend {
		t.Errorf("operation = %s, want append", rec.Operation)
	}
	if rec.Before != original.Content || rec.After != want {
		t.Errorf("audit snapshots wrong: before=%q after=%q", rec.Before, rec.After)
	}
	if rec.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", rec.Confidence)
	}
}

// TestReplaceCorrectReinterpretSemantics verifies the three simple
// mutations and their recorded confidences.
func TestReplaceCorrectReinterpretSemantics(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name           string
		run            func(svc *engine.ReconstructionService) (*types.Memory, error)
		wantOp         types.OperationKind
		wantContent    string
		wantConfidence float64
	}{
		{
			name: "replace",
			run: func(svc *engine.ReconstructionService) (*types.Memory, error) {
				return svc.Replace(ctx, "m1", "the festival was moved to the south square")
			},
			wantOp:         types.OpReplace,
			wantContent:    "the festival was moved to the south square",
			wantConfidence: 1.0,
		},
		{
			name: "correct",
			run: func(svc *engine.ReconstructionService) (*types.Memory, error) {
				return svc.Correct(ctx, "m1", "the festival is on the seventh, not the fifth")
			},
			wantOp:         types.OpCorrect,
			wantContent:    "the festival is on the seventh, not the fifth",
			wantConfidence: 0.9,
		},
		{
			name: "reinterpret",
			run: func(svc *engine.ReconstructionService) (*types.Memory, error) {
				return svc.Reinterpret(ctx, "m1", "the festival was a farewell in disguise")
			},
			wantOp:         types.OpReinterpret,
			wantContent:    "the festival was a farewell in disguise\n[previously] the festival is on the fifth",
			wantConfidence: 0.8,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			original := &types.Memory{
				ID: "m1", CharacterID: "alice",
				Content: "the festival is on the fifth", CreatedAt: time.Now(),
			}
			svc, _ := newReconstructionFixture(t, original)

			updated, err := tc.run(svc)
			if err != nil {
				t.Fatal(err)
			}
			if updated.Content != tc.wantContent {
				t.Errorf("content = %q, want %q", updated.Content, tc.wantContent)
			}

			history := svc.History("m1")
			if len(history) != 1 {
				t.Fatalf("expected 1 audit record, got %d", len(history))
			}
			if history[0].Operation != tc.wantOp {
				t.Errorf("operation = %s, want %s", history[0].Operation, tc.wantOp)
			}
			if history[0].Confidence != tc.wantConfidence {
				t.Errorf("confidence = %f, want %f", history[0].Confidence, tc.wantConfidence)
			}
		})
	}
}

// TestUpdateResolvesContentConflict verifies Update detects a content
// conflict against the stored version and persists the resolution outcome.
func TestUpdateResolvesContentConflict(t *testing.T) {
	ctx := context.Background()
	stored := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content:    "the bridge toll is two coppers per cart",
		Importance: 0.5,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	svc, store := newReconstructionFixture(t, stored)

	updated, err := svc.Update(ctx, "m1", "crossing stays free for everyone now")
	if err != nil {
		t.Fatal(err)
	}

	history := svc.History("m1")
	if len(history) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(history))
	}
	rec := history[0]
	if rec.Operation != types.OpUpdate {
		t.Errorf("operation = %s, want update", rec.Operation)
	}
	if rec.Metadata["conflict"] != string(types.ConflictContent) {
		t.Errorf("metadata conflict = %q, want content", rec.Metadata["conflict"])
	}
	if rec.Metadata["strategy"] == "" {
		t.Error("expected resolution strategy in metadata")
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Errorf("confidence %f outside (0, 1]", rec.Confidence)
	}

	persisted, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Content != updated.Content {
		t.Errorf("persisted content %q does not match returned %q", persisted.Content, updated.Content)
	}
	if persisted.ID != "m1" {
		t.Errorf("resolution must keep the stored identity, got %s", persisted.ID)
	}
}

// TestUpdateWithoutConflictStoresIncoming verifies a compatible update is
// stored as-is at full confidence.
func TestUpdateWithoutConflictStoresIncoming(t *testing.T) {
	ctx := context.Background()
	stored := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content:   "trained with the new recruits at dawn",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	svc, _ := newReconstructionFixture(t, stored)

	updated, err := svc.Update(ctx, "m1", "trained with the new recruits at dawn again")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "trained with the new recruits at dawn again" {
		t.Errorf("content = %q", updated.Content)
	}

	rec := svc.History("m1")[0]
	if len(rec.Metadata) != 0 {
		t.Errorf("expected no conflict metadata, got %v", rec.Metadata)
	}
	if rec.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", rec.Confidence)
	}
}

// TestUpdateNeverDemotesCategory verifies a long-term record stays
// long-term through conflict-aware updates.
func TestUpdateNeverDemotesCategory(t *testing.T) {
	ctx := context.Background()
	stored := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content:   "swore the oath at the winter council",
		Category:  types.CategoryLongTerm,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	svc, store := newReconstructionFixture(t, stored)

	if _, err := svc.Update(ctx, "m1", "entirely different words were spoken instead"); err != nil {
		t.Fatal(err)
	}

	persisted, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Category != types.CategoryLongTerm {
		t.Errorf("category demoted to %s", persisted.Category)
	}
}

// TestMergePersistsAboveThreshold verifies a similar pair merges and the
// result is persisted under the primary's ID.
func TestMergePersistsAboveThreshold(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	primary := &types.Memory{
		ID: "p", CharacterID: "alice",
		Content: "shared supper with the miller's family", CreatedAt: now,
		Tags: []string{"supper", "miller"}, RelatedEntities: []string{"miller"},
	}
	secondary := &types.Memory{
		ID: "q", CharacterID: "alice",
		Content: "shared supper with the miller's family and told stories", CreatedAt: now,
		Tags: []string{"supper", "stories"}, RelatedEntities: []string{"miller"},
	}
	svc, store := newReconstructionFixture(t, primary, secondary)

	merged, err := svc.Merge(ctx, "p", "q")
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != "p" {
		t.Errorf("merged ID = %s, want p", merged.ID)
	}

	persisted, err := store.Get(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(persisted.Content, "told stories") {
		t.Errorf("merged content not persisted: %q", persisted.Content)
	}

	history := svc.History("p")
	if len(history) != 1 || history[0].Operation != types.OpMerge {
		t.Fatalf("expected one merge audit record, got %v", history)
	}
	if history[0].SourceID != "q" || history[0].TargetID != "p" {
		t.Errorf("audit direction wrong: source=%s target=%s", history[0].SourceID, history[0].TargetID)
	}
}

// TestMergeBelowThresholdDoesNotPersist verifies a dissimilar pair leaves
// the primary untouched but still records the attempt.
func TestMergeBelowThresholdDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	primary := &types.Memory{
		ID: "p", CharacterID: "alice",
		Content: "counted the granary stores before winter", CreatedAt: now,
		Tags: []string{"granary"}, RelatedEntities: []string{"granary"},
	}
	secondary := &types.Memory{
		ID: "q", CharacterID: "alice",
		Content: "a stray cat followed me home tonight", CreatedAt: now.AddDate(0, -2, 0),
		Tags: []string{"cat"}, RelatedEntities: []string{"cat"},
	}
	svc, store := newReconstructionFixture(t, primary, secondary)

	if _, err := svc.Merge(ctx, "p", "q"); err != nil {
		t.Fatal(err)
	}

	persisted, err := store.Get(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Content != primary.Content {
		t.Errorf("primary was mutated: %q", persisted.Content)
	}

	history := svc.History("p")
	if len(history) != 1 {
		t.Fatalf("expected the no-op merge to be recorded, got %d records", len(history))
	}
	if history[0].Confidence != 0 {
		t.Errorf("no-op merge confidence = %f, want 0", history[0].Confidence)
	}
}

// TestOperationsOnUnknownIDFail verifies NotFound propagates.
func TestOperationsOnUnknownIDFail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newReconstructionFixture(t)

	if _, err := svc.Append(ctx, "ghost", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Append: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, "ghost", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Merge(ctx, "ghost", "ghost2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Merge: expected ErrNotFound, got %v", err)
	}
}

// TestUpdatePreservesIncomingContentOnTaggedMemory verifies updating a
// tagged memory keeps the caller's new content through the set-union
// resolution path.
func TestUpdatePreservesIncomingContentOnTaggedMemory(t *testing.T) {
	ctx := context.Background()
	stored := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content:   "the festival parade starts at the eastern gate",
		Tags:      []string{"festival"},
		CreatedAt: time.Now().Add(-time.Hour),
	}
	svc, store := newReconstructionFixture(t, stored)

	want := "the festival parade starts at the western gate"
	updated, err := svc.Update(ctx, "m1", want)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != want {
		t.Errorf("content = %q, want the incoming version", updated.Content)
	}

	persisted, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Content != want {
		t.Errorf("persisted content = %q, want the incoming version", persisted.Content)
	}
	if len(persisted.Tags) != 1 || persisted.Tags[0] != "festival" {
		t.Errorf("tags changed: %v", persisted.Tags)
	}

	rec := svc.History("m1")[0]
	if rec.Metadata["conflict"] != string(types.ConflictTag) {
		t.Errorf("metadata conflict = %q, want tag", rec.Metadata["conflict"])
	}
	if rec.Before == rec.After {
		t.Error("audit record shows no content change")
	}
}

// TestUpdateTwiceAuditsFreshSimilarity verifies each update's audit record
// scores the stored version against that update's incoming content.
func TestUpdateTwiceAuditsFreshSimilarity(t *testing.T) {
	ctx := context.Background()
	stored := &types.Memory{
		ID: "m1", CharacterID: "alice",
		Content:   "the well behind the mill ran dry",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	svc, _ := newReconstructionFixture(t, stored)

	if _, err := svc.Update(ctx, "m1", "the well behind the mill ran dry last week"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Update(ctx, "m1", "fresh rain finally refilled every cistern"); err != nil {
		t.Fatal(err)
	}

	history := svc.History("m1")
	if len(history) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(history))
	}
	if history[1].Similarity >= history[0].Similarity {
		t.Errorf("second update similarity %f not below first %f",
			history[1].Similarity, history[0].Similarity)
	}
}
