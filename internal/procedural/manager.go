package procedural

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

// Learning curve constants. Success moves proficiency toward 1.0 with
// diminishing returns; failure costs a fifth of a learning step.
const (
	learningRate       = 0.05
	failurePenalty     = learningRate * 0.2
	successRateAlpha   = 0.1
	decayRatePerDay    = 0.01
	defaultMinMatching = 0.3
	historyCap         = 100
)

// Manager owns all procedural memory state. Every mutating operation is
// serialized through a single writer lock so proficiency, success rate,
// and execution time stay mutually consistent. Persistence flushes happen
// after the lock is released so a slow store never blocks other callers.
type Manager struct {
	mu       sync.Mutex
	memories map[string]*types.ProceduralMemory
	store    Store
	now      func() time.Time
}

// NewManager creates a manager backed by the given store. Existing
// memories are loaded eagerly so in-memory state is authoritative from the
// start. A nil store keeps everything in memory only.
func NewManager(ctx context.Context, store Store) (*Manager, error) {
	m := &Manager{
		memories: make(map[string]*types.ProceduralMemory),
		store:    store,
		now:      time.Now,
	}
	if store != nil {
		existing, err := store.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("procedural: load store: %w", err)
		}
		for _, pm := range existing {
			m.memories[pm.ID] = pm
		}
	}
	return m, nil
}

// Create registers a new procedural memory at proficiency zero and returns
// its copy.
func (m *Manager) Create(ctx context.Context, name string, pType types.ProceduralType, conditions []types.Condition, actions, tags []string) (*types.ProceduralMemory, error) {
	if name == "" {
		return nil, fmt.Errorf("procedural: %w: empty name", storage.ErrInvalidInput)
	}
	if !types.IsValidProceduralType(string(pType)) {
		return nil, fmt.Errorf("procedural: %w: unknown type %q", storage.ErrInvalidInput, pType)
	}

	pm := &types.ProceduralMemory{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       pType,
		Conditions: append([]types.Condition(nil), conditions...),
		Actions:    append([]string(nil), actions...),
		Tags:       append([]string(nil), tags...),
		CreatedAt:  m.now(),
	}

	m.mu.Lock()
	m.memories[pm.ID] = pm
	snapshot := pm.Clone()
	m.mu.Unlock()

	m.flush(ctx, snapshot)
	return snapshot, nil
}

// Get returns a copy of the procedural memory with the given ID.
func (m *Manager) Get(id string) (*types.ProceduralMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.memories[id]
	if !ok {
		return nil, fmt.Errorf("procedural: memory %s: %w", id, storage.ErrNotFound)
	}
	return pm.Clone(), nil
}

// GetAll returns copies of every procedural memory, sorted by proficiency
// descending.
func (m *Manager) GetAll() []*types.ProceduralMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.ProceduralMemory, 0, len(m.memories))
	for _, pm := range m.memories {
		out = append(out, pm.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proficiency > out[j].Proficiency })
	return out
}

// Execute records one execution outcome. On success proficiency climbs
// with diminishing returns; on failure it takes a small penalty. The
// success rate is an exponential moving average seeded by the first
// outcome, and execution time is a running mean. The in-memory update
// happens under the lock; the store flush happens after release.
func (m *Manager) Execute(ctx context.Context, id string, success bool, duration time.Duration) (*types.ProceduralMemory, error) {
	now := m.now()

	m.mu.Lock()
	pm, ok := m.memories[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("procedural: memory %s: %w", id, storage.ErrNotFound)
	}

	if success {
		pm.Proficiency += learningRate * (1 - pm.Proficiency)
	} else {
		pm.Proficiency -= failurePenalty
	}
	pm.Proficiency = types.Clamp01(pm.Proficiency)

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if pm.ExecutionCount == 0 {
		pm.SuccessRate = outcome
	} else {
		pm.SuccessRate = successRateAlpha*outcome + (1-successRateAlpha)*pm.SuccessRate
	}

	// Running mean over all executions including this one.
	total := pm.AverageExecutionTime*time.Duration(pm.ExecutionCount) + duration
	pm.ExecutionCount++
	pm.AverageExecutionTime = total / time.Duration(pm.ExecutionCount)

	pm.LastExecutedAt = &now
	pm.History = append(pm.History, types.ExecutionRecord{
		Timestamp:        now,
		Success:          success,
		Duration:         duration,
		ProficiencyAfter: pm.Proficiency,
	})
	if len(pm.History) > historyCap {
		pm.History = pm.History[len(pm.History)-historyCap:]
	}

	snapshot := pm.Clone()
	m.mu.Unlock()

	m.flush(ctx, snapshot)
	return snapshot, nil
}

// FindMatching returns procedural memories of the given type (empty type
// matches all) whose proficiency is at least minProficiency and whose
// every condition holds against the context map, ranked by proficiency
// descending. A negative minProficiency selects the default floor of 0.3.
func (m *Manager) FindMatching(contextMap map[string]any, pType types.ProceduralType, minProficiency float64) []*types.ProceduralMemory {
	if minProficiency < 0 {
		minProficiency = defaultMinMatching
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.ProceduralMemory
	for _, pm := range m.memories {
		if pType != "" && pm.Type != pType {
			continue
		}
		if pm.Proficiency < minProficiency {
			continue
		}
		if !matchesAll(pm.Conditions, contextMap) {
			continue
		}
		out = append(out, pm.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proficiency > out[j].Proficiency })
	return out
}

// ApplyDecay lowers proficiency for every memory unused for at least the
// given number of days by decayRate*days, floored at zero. Returns the
// number of memories decayed.
func (m *Manager) ApplyDecay(ctx context.Context, days int) int {
	if days <= 0 {
		return 0
	}
	cutoff := m.now().AddDate(0, 0, -days)

	m.mu.Lock()
	var changed []*types.ProceduralMemory
	for _, pm := range m.memories {
		lastUsed := pm.CreatedAt
		if pm.LastExecutedAt != nil {
			lastUsed = *pm.LastExecutedAt
		}
		if lastUsed.After(cutoff) {
			continue
		}
		if pm.Proficiency == 0 {
			continue
		}
		pm.Proficiency -= decayRatePerDay * float64(days)
		if pm.Proficiency < 0 {
			pm.Proficiency = 0
		}
		changed = append(changed, pm.Clone())
	}
	m.mu.Unlock()

	for _, snapshot := range changed {
		m.flush(ctx, snapshot)
	}
	if len(changed) > 0 {
		log.Printf("procedural: decayed %d memories unused for %d+ days", len(changed), days)
	}
	return len(changed)
}

// Delete removes a procedural memory entirely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.memories[id]
	if ok {
		delete(m.memories, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("procedural: memory %s: %w", id, storage.ErrNotFound)
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil && err != storage.ErrNotFound {
			log.Printf("procedural: failed to delete %s from store: %v", id, err)
		}
	}
	return nil
}

// LearningProgress summarizes a memory's learning trend from its retained
// execution history.
type LearningProgress struct {
	ID                   string
	Name                 string
	Proficiency          float64
	SuccessRate          float64
	ExecutionCount       int
	Automated            bool
	RecentSuccessRate    float64 // Over the last 10 executions
	ProficiencyTrend     float64 // Proficiency delta across the retained history
	AverageExecutionTime time.Duration
}

// GetLearningProgress reports the learning trend for one procedural
// memory based on its retained execution history.
func (m *Manager) GetLearningProgress(id string) (*LearningProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.memories[id]
	if !ok {
		return nil, fmt.Errorf("procedural: memory %s: %w", id, storage.ErrNotFound)
	}

	progress := &LearningProgress{
		ID:                   pm.ID,
		Name:                 pm.Name,
		Proficiency:          pm.Proficiency,
		SuccessRate:          pm.SuccessRate,
		ExecutionCount:       pm.ExecutionCount,
		Automated:            pm.IsAutomated(),
		AverageExecutionTime: pm.AverageExecutionTime,
	}

	if n := len(pm.History); n > 0 {
		recent := pm.History
		if n > 10 {
			recent = pm.History[n-10:]
		}
		successes := 0
		for _, r := range recent {
			if r.Success {
				successes++
			}
		}
		progress.RecentSuccessRate = float64(successes) / float64(len(recent))
		progress.ProficiencyTrend = pm.History[n-1].ProficiencyAfter - pm.History[0].ProficiencyAfter
	}

	return progress, nil
}

// flush persists a snapshot outside the state lock. Store failures are
// logged, not propagated: in-memory state is authoritative and the next
// successful flush re-syncs the record.
func (m *Manager) flush(ctx context.Context, snapshot *types.ProceduralMemory) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, snapshot); err != nil {
		log.Printf("procedural: failed to persist %s: %v", snapshot.ID, err)
	}
}

// matchesAll reports whether every condition holds against the context.
// A memory with no conditions matches any context.
func matchesAll(conditions []types.Condition, contextMap map[string]any) bool {
	for _, c := range conditions {
		if !evaluate(c, contextMap) {
			return false
		}
	}
	return true
}

// evaluate applies one condition. Numeric operators require both sides to
// be numbers and fail closed otherwise.
func evaluate(c types.Condition, contextMap map[string]any) bool {
	actual, ok := contextMap[c.Key]
	if !ok {
		return false
	}

	switch c.Operator {
	case types.OperatorEquals:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", c.Value)
	case types.OperatorNotEquals:
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", c.Value)
	case types.OperatorContains:
		s, okS := actual.(string)
		sub, okSub := c.Value.(string)
		return okS && okSub && strings.Contains(s, sub)
	case types.OperatorGreaterThan:
		a, okA := asFloat(actual)
		b, okB := asFloat(c.Value)
		return okA && okB && a > b
	case types.OperatorLessThan:
		a, okA := asFloat(actual)
		b, okB := asFloat(c.Value)
		return okA && okB && a < b
	case types.OperatorInList:
		list, okL := asSlice(c.Value)
		if !okL {
			return false
		}
		want := fmt.Sprintf("%v", actual)
		for _, item := range list {
			if fmt.Sprintf("%v", item) == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// asFloat coerces the numeric types JSON decoding and Go literals
// produce. Anything else is not a number.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
