// Package sqlite is the durable backend for the lifecycle engine. One
// store serves episodic memories, per-character thresholds and statistics,
// the consolidation decision log, and procedural memories.
package sqlite

// Schema creates all tables and indexes. Statements are idempotent so the
// schema can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id                TEXT PRIMARY KEY,
    character_id      TEXT NOT NULL,
    content           TEXT NOT NULL,
    tags              TEXT,
    related_entities  TEXT,
    importance        REAL NOT NULL DEFAULT 0,
    emotion_label     TEXT NOT NULL DEFAULT '',
    emotional_valence REAL NOT NULL DEFAULT 0,
    emotion_intensity REAL NOT NULL DEFAULT 0,
    category          TEXT NOT NULL DEFAULT 'SHORT_TERM',
    created_at        TIMESTAMP NOT NULL,
    last_accessed_at  TIMESTAMP,
    access_count      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_memories_character ON memories(character_id);
CREATE INDEX IF NOT EXISTS idx_memories_category  ON memories(character_id, category);

CREATE TABLE IF NOT EXISTS thresholds (
    character_id TEXT PRIMARY KEY,
    value        REAL NOT NULL,
    updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS character_statistics (
    character_id    TEXT PRIMARY KEY,
    total_evaluated INTEGER NOT NULL DEFAULT 0,
    consolidated    INTEGER NOT NULL DEFAULT 0,
    deferred        INTEGER NOT NULL DEFAULT 0,
    rejected        INTEGER NOT NULL DEFAULT 0,
    score_sum       REAL NOT NULL DEFAULT 0,
    updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    character_id TEXT NOT NULL,
    memory_id    TEXT NOT NULL,
    decision     TEXT NOT NULL,
    score        REAL NOT NULL DEFAULT 0,
    confidence   REAL NOT NULL DEFAULT 0,
    reasoning    TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_character ON decision_log(character_id, created_at);

CREATE TABLE IF NOT EXISTS procedural_memories (
    id                     TEXT PRIMARY KEY,
    name                   TEXT NOT NULL,
    type                   TEXT NOT NULL,
    conditions             TEXT,
    actions                TEXT,
    proficiency            REAL NOT NULL DEFAULT 0,
    execution_count        INTEGER NOT NULL DEFAULT 0,
    success_rate           REAL NOT NULL DEFAULT 0,
    average_execution_ns   INTEGER NOT NULL DEFAULT 0,
    last_executed_at       TIMESTAMP,
    tags                   TEXT,
    history                TEXT,
    created_at             TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_procedural_type ON procedural_memories(type);
`
