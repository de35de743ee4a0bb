package sqlite

// Schema defines the SQLite schema for the Engram store.
//
// Notes carry both the live confidence and the immutable original_confidence
// snapshot the decay resolver computes from. Embeddings live in their own
// table as little-endian float32 BLOBs so the vector index can scan them
// without deserialising full note rows. The notes_fts virtual table is kept
// in sync with notes via triggers and backs lexical search.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	turn_number    INTEGER NOT NULL DEFAULT 0,
	user_text      TEXT NOT NULL DEFAULT '',
	assistant_text TEXT NOT NULL DEFAULT '',
	extracted      INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_owner ON turns(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_turns_unextracted ON turns(extracted, created_at);

CREATE TABLE IF NOT EXISTS notes (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	content             TEXT NOT NULL,
	note_type           TEXT NOT NULL,
	context             TEXT NOT NULL DEFAULT '',
	confidence          REAL NOT NULL DEFAULT 0.5,
	original_confidence REAL NOT NULL DEFAULT 0.5,
	importance          REAL NOT NULL DEFAULT 0,
	keywords            TEXT NOT NULL DEFAULT '[]',
	tags                TEXT NOT NULL DEFAULT '[]',
	contextual_desc     TEXT NOT NULL DEFAULT '',
	enriched            INTEGER NOT NULL DEFAULT 0,
	embedding_id        TEXT NOT NULL DEFAULT '',
	source_turn_id      TEXT,
	mutability          TEXT NOT NULL DEFAULT 'mutable',
	last_validated      TIMESTAMP NOT NULL,
	active              INTEGER NOT NULL DEFAULT 1,
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_owner_created ON notes(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notes_owner_importance ON notes(owner_id, importance);
CREATE INDEX IF NOT EXISTS idx_notes_owner_type ON notes(owner_id, note_type);
CREATE INDEX IF NOT EXISTS idx_notes_owner_content ON notes(owner_id, content);

CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	type       TEXT NOT NULL,
	strength   REAL NOT NULL,
	reasoning  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);

CREATE TABLE IF NOT EXISTS embeddings (
	note_id    TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_embeddings_owner ON embeddings(owner_id);

CREATE TABLE IF NOT EXISTS owner_settings (
	owner_id   TEXT PRIMARY KEY,
	settings   TEXT NOT NULL DEFAULT '{}',
	updated_at TIMESTAMP NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	content,
	keywords,
	tags,
	content='notes',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS notes_fts_insert AFTER INSERT ON notes BEGIN
	INSERT INTO notes_fts(rowid, content, keywords, tags)
	VALUES (new.rowid, new.content, new.keywords, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS notes_fts_delete AFTER DELETE ON notes BEGIN
	INSERT INTO notes_fts(notes_fts, rowid, content, keywords, tags)
	VALUES ('delete', old.rowid, old.content, old.keywords, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS notes_fts_update AFTER UPDATE ON notes BEGIN
	INSERT INTO notes_fts(notes_fts, rowid, content, keywords, tags)
	VALUES ('delete', old.rowid, old.content, old.keywords, old.tags);
	INSERT INTO notes_fts(rowid, content, keywords, tags)
	VALUES (new.rowid, new.content, new.keywords, new.tags);
END;
`
