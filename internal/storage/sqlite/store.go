package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/reverie-ai/reverie/internal/storage"
	"github.com/reverie-ai/reverie/pkg/types"
)

// Store implements storage.MemoryStore, storage.ThresholdStore, and the
// procedural store contract over a single SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn, configures WAL mode, and
// applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode keeps readers from blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store creates or updates a memory (upsert semantics).
func (s *Store) Store(ctx context.Context, memory *types.Memory) error {
	if memory == nil || memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	tagsJSON, err := marshalStrings(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	entitiesJSON, err := marshalStrings(memory.RelatedEntities)
	if err != nil {
		return fmt.Errorf("failed to marshal related entities: %w", err)
	}

	var lastAccessed any
	if memory.LastAccessedAt != nil {
		lastAccessed = memory.LastAccessedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, character_id, content, tags, related_entities,
			importance, emotion_label, emotional_valence, emotion_intensity,
			category, created_at, last_accessed_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			character_id      = excluded.character_id,
			content           = excluded.content,
			tags              = excluded.tags,
			related_entities  = excluded.related_entities,
			importance        = excluded.importance,
			emotion_label     = excluded.emotion_label,
			emotional_valence = excluded.emotional_valence,
			emotion_intensity = excluded.emotion_intensity,
			category          = excluded.category,
			last_accessed_at  = excluded.last_accessed_at,
			access_count      = excluded.access_count`,
		memory.ID, memory.CharacterID, memory.Content, tagsJSON, entitiesJSON,
		memory.Importance, memory.EmotionLabel, memory.EmotionalValence, memory.EmotionIntensity,
		string(memory.Category), memory.CreatedAt.UTC(), lastAccessed, memory.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, character_id, content, tags, related_entities,
	importance, emotion_label, emotional_valence, emotion_intensity,
	category, created_at, last_accessed_at, access_count`

// Get retrieves a memory by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// GetAll retrieves every stored memory ordered by creation time.
func (s *Store) GetAll(ctx context.Context) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*types.Memory, error) {
	var (
		m            types.Memory
		tagsJSON     sql.NullString
		entitiesJSON sql.NullString
		category     string
		lastAccessed sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.CharacterID, &m.Content, &tagsJSON, &entitiesJSON,
		&m.Importance, &m.EmotionLabel, &m.EmotionalValence, &m.EmotionIntensity,
		&category, &m.CreatedAt, &lastAccessed, &m.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	m.Category = types.MemoryCategory(category)
	if m.Tags, err = unmarshalStrings(tagsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if m.RelatedEntities, err = unmarshalStrings(entitiesJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal related entities: %w", err)
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessedAt = &t
	}
	return &m, nil
}

// GetThreshold returns the persisted evaluation threshold for a character.
func (s *Store) GetThreshold(ctx context.Context, characterID string) (float64, bool, error) {
	var value float64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM thresholds WHERE character_id = ?`, characterID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get threshold: %w", err)
	}
	return value, true, nil
}

// SaveThreshold upserts the evaluation threshold for a character.
func (s *Store) SaveThreshold(ctx context.Context, characterID string, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thresholds (character_id, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(character_id) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		characterID, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save threshold: %w", err)
	}
	return nil
}

// GetStatistics returns the aggregate consolidation statistics for a
// character, or nil when none are recorded yet.
func (s *Store) GetStatistics(ctx context.Context, characterID string) (*storage.CharacterStatistics, error) {
	var stats storage.CharacterStatistics
	err := s.db.QueryRowContext(ctx, `
		SELECT character_id, total_evaluated, consolidated, deferred, rejected, score_sum, updated_at
		FROM character_statistics WHERE character_id = ?`, characterID).Scan(
		&stats.CharacterID, &stats.TotalEvaluated, &stats.Consolidated,
		&stats.Deferred, &stats.Rejected, &stats.ScoreSum, &stats.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &stats, nil
}

// SaveStatistics upserts a character's aggregate statistics.
func (s *Store) SaveStatistics(ctx context.Context, stats *storage.CharacterStatistics) error {
	if stats == nil || stats.CharacterID == "" {
		return fmt.Errorf("%w: character ID is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO character_statistics (
			character_id, total_evaluated, consolidated, deferred, rejected, score_sum, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(character_id) DO UPDATE SET
			total_evaluated = excluded.total_evaluated,
			consolidated    = excluded.consolidated,
			deferred        = excluded.deferred,
			rejected        = excluded.rejected,
			score_sum       = excluded.score_sum,
			updated_at      = excluded.updated_at`,
		stats.CharacterID, stats.TotalEvaluated, stats.Consolidated,
		stats.Deferred, stats.Rejected, stats.ScoreSum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save statistics: %w", err)
	}
	return nil
}

// AppendDecisionLog appends one consolidation decision to the log.
func (s *Store) AppendDecisionLog(ctx context.Context, entry *storage.DecisionLogEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_log (character_id, memory_id, decision, score, confidence, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.CharacterID, entry.MemoryID, entry.Decision,
		entry.Score, entry.Confidence, entry.Reasoning, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append decision log: %w", err)
	}
	return nil
}

// GetDecisionLog returns the most recent decision entries for a character,
// newest first, up to limit.
func (s *Store) GetDecisionLog(ctx context.Context, characterID string, limit int) ([]*storage.DecisionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT character_id, memory_id, decision, score, confidence, reasoning, created_at
		FROM decision_log WHERE character_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, characterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision log: %w", err)
	}
	defer rows.Close()

	var out []*storage.DecisionLogEntry
	for rows.Next() {
		var e storage.DecisionLogEntry
		if err := rows.Scan(&e.CharacterID, &e.MemoryID, &e.Decision,
			&e.Score, &e.Confidence, &e.Reasoning, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Save upserts a procedural memory.
func (s *Store) Save(ctx context.Context, pm *types.ProceduralMemory) error {
	if pm == nil || pm.ID == "" {
		return fmt.Errorf("%w: procedural memory ID is required", storage.ErrInvalidInput)
	}

	conditionsJSON, err := marshalJSON(pm.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionsJSON, err := marshalStrings(pm.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	tagsJSON, err := marshalStrings(pm.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	historyJSON, err := marshalJSON(pm.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	var lastExecuted any
	if pm.LastExecutedAt != nil {
		lastExecuted = pm.LastExecutedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO procedural_memories (
			id, name, type, conditions, actions,
			proficiency, execution_count, success_rate, average_execution_ns,
			last_executed_at, tags, history, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name                 = excluded.name,
			type                 = excluded.type,
			conditions           = excluded.conditions,
			actions              = excluded.actions,
			proficiency          = excluded.proficiency,
			execution_count      = excluded.execution_count,
			success_rate         = excluded.success_rate,
			average_execution_ns = excluded.average_execution_ns,
			last_executed_at     = excluded.last_executed_at,
			tags                 = excluded.tags,
			history              = excluded.history`,
		pm.ID, pm.Name, string(pm.Type), conditionsJSON, actionsJSON,
		pm.Proficiency, pm.ExecutionCount, pm.SuccessRate, int64(pm.AverageExecutionTime),
		lastExecuted, tagsJSON, historyJSON, pm.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save procedural memory: %w", err)
	}
	return nil
}

const proceduralColumns = `id, name, type, conditions, actions,
	proficiency, execution_count, success_rate, average_execution_ns,
	last_executed_at, tags, history, created_at`

// GetByID returns a procedural memory by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*types.ProceduralMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proceduralColumns+` FROM procedural_memories WHERE id = ?`, id)
	pm, err := scanProcedural(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get procedural memory: %w", err)
	}
	return pm, nil
}

// GetAllProcedural returns all procedural memories ordered by name.
// It satisfies the procedural store's GetAll through the adapter below.
func (s *Store) GetAllProcedural(ctx context.Context) ([]*types.ProceduralMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+proceduralColumns+` FROM procedural_memories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedural memories: %w", err)
	}
	defer rows.Close()

	var out []*types.ProceduralMemory
	for rows.Next() {
		pm, err := scanProcedural(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan procedural memory: %w", err)
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

// Delete removes a procedural memory by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM procedural_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete procedural memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanProcedural(row scanner) (*types.ProceduralMemory, error) {
	var (
		pm             types.ProceduralMemory
		pType          string
		conditionsJSON sql.NullString
		actionsJSON    sql.NullString
		tagsJSON       sql.NullString
		historyJSON    sql.NullString
		avgNS          int64
		lastExecuted   sql.NullTime
	)
	err := row.Scan(
		&pm.ID, &pm.Name, &pType, &conditionsJSON, &actionsJSON,
		&pm.Proficiency, &pm.ExecutionCount, &pm.SuccessRate, &avgNS,
		&lastExecuted, &tagsJSON, &historyJSON, &pm.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	pm.Type = types.ProceduralType(pType)
	pm.AverageExecutionTime = time.Duration(avgNS)
	if conditionsJSON.Valid && conditionsJSON.String != "" {
		if err := json.Unmarshal([]byte(conditionsJSON.String), &pm.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
	}
	if pm.Actions, err = unmarshalStrings(actionsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if pm.Tags, err = unmarshalStrings(tagsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &pm.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if lastExecuted.Valid {
		t := lastExecuted.Time
		pm.LastExecutedAt = &t
	}
	return &pm, nil
}

// ProceduralStore adapts Store to the procedural package's store contract,
// resolving the GetAll name collision with the memory store interface.
type ProceduralStore struct {
	*Store
}

// GetAll returns all procedural memories.
func (p ProceduralStore) GetAll(ctx context.Context) ([]*types.ProceduralMemory, error) {
	return p.GetAllProcedural(ctx)
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
