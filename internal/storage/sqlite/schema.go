package sqlite

// Schema is the complete SQLite schema for the memory layer. It is applied
// on every open; all statements are idempotent. Timestamps are stored as
// Unix milliseconds so range predicates stay integer comparisons.
//
// memories_fts mirrors memories via external-content triggers; agentic_fts is
// a standalone FTS5 table maintained by the agentic store because it indexes
// derived text (keywords, tags, context) that lives as JSON in the base row.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	ts_user INTEGER NOT NULL,
	user_text TEXT NOT NULL,
	ts_ai INTEGER,
	ai_text TEXT,
	source_app TEXT NOT NULL,
	source_url TEXT,
	source_path TEXT,
	body_hash TEXT NOT NULL,
	extraction_skipped INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, id);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);

CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	created_at INTEGER NOT NULL,
	UNIQUE(workspace_id, name)
);

CREATE INDEX IF NOT EXISTS idx_projects_workspace ON projects(workspace_id);

CREATE TABLE IF NOT EXISTS areas (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, name)
);

CREATE INDEX IF NOT EXISTS idx_areas_project ON areas(project_id);

CREATE TABLE IF NOT EXISTS topics (
	id TEXT PRIMARY KEY,
	area_id TEXT NOT NULL REFERENCES areas(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	is_index_note INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(area_id, name)
);

CREATE INDEX IF NOT EXISTS idx_topics_area ON topics(area_id);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	topic TEXT NOT NULL,
	text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	snippet_title TEXT,
	snippet_text TEXT,
	snippet_loc TEXT,
	snippet_language TEXT,
	source_turn_id TEXT NOT NULL REFERENCES turns(id),
	created_at INTEGER NOT NULL,
	ttl INTEGER,
	expires_at INTEGER,
	topic_id TEXT REFERENCES topics(id) ON DELETE SET NULL,
	UNIQUE(source_turn_id, normalized_text, kind)
);

CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_topic ON memories(topic);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_memories_topic_id ON memories(topic_id) WHERE topic_id IS NOT NULL;

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	text,
	snippet_text,
	topic,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, text, snippet_text, topic)
	VALUES (new.rowid, new.text, new.snippet_text, new.topic);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text, snippet_text, topic)
	VALUES ('delete', old.rowid, old.text, old.snippet_text, old.topic);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text, snippet_text, topic)
	VALUES ('delete', old.rowid, old.text, old.snippet_text, old.topic);
	INSERT INTO memories_fts(rowid, text, snippet_text, topic)
	VALUES (new.rowid, new.text, new.snippet_text, new.topic);
END;

CREATE TABLE IF NOT EXISTS memory_entities (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	entity TEXT NOT NULL,
	PRIMARY KEY (memory_id, entity)
);

CREATE TABLE IF NOT EXISTS memory_provenance (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	turn_id TEXT NOT NULL REFERENCES turns(id),
	ord INTEGER NOT NULL,
	PRIMARY KEY (memory_id, ord)
);

CREATE INDEX IF NOT EXISTS idx_provenance_turn ON memory_provenance(turn_id);

CREATE TABLE IF NOT EXISTS memory_embeddings (
	memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agentic (
	memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
	keywords_json TEXT NOT NULL,
	tags_json TEXT NOT NULL,
	context TEXT NOT NULL,
	category TEXT NOT NULL,
	retrieval_count INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	evolution_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agentic_last_accessed ON agentic(last_accessed DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS agentic_fts USING fts5(
	memory_id UNINDEXED,
	content,
	keywords,
	tags,
	context
);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	strength REAL NOT NULL CHECK (strength >= 0 AND strength <= 1),
	rationale TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (source, target),
	CHECK (source <> target)
);

CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
`
