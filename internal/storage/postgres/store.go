// Package postgres implements the Engram storage interfaces on PostgreSQL.
// It requires the pgvector extension for indexed ANN search and uses
// tsvector full-text indexes for lexical search.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// Schema contains the SQL statements to create the PostgreSQL schema.
// The embedding column dimension is fixed at store-open time via the
// dimension placeholder.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turns (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	turn_number    INTEGER NOT NULL DEFAULT 0,
	user_text      TEXT NOT NULL DEFAULT '',
	assistant_text TEXT NOT NULL DEFAULT '',
	extracted      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_owner ON turns(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_turns_unextracted ON turns(extracted, created_at);

CREATE TABLE IF NOT EXISTS notes (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	content             TEXT NOT NULL,
	note_type           TEXT NOT NULL,
	context             TEXT NOT NULL DEFAULT '',
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	original_confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	importance          DOUBLE PRECISION NOT NULL DEFAULT 0,
	keywords            TEXT[] NOT NULL DEFAULT '{}',
	tags                TEXT[] NOT NULL DEFAULT '{}',
	contextual_desc     TEXT NOT NULL DEFAULT '',
	enriched            BOOLEAN NOT NULL DEFAULT FALSE,
	embedding_id        TEXT NOT NULL DEFAULT '',
	source_turn_id      TEXT,
	mutability          TEXT NOT NULL DEFAULT 'mutable',
	last_validated      TIMESTAMPTZ NOT NULL,
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	content_tsv         tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_notes_owner_created ON notes(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notes_owner_importance ON notes(owner_id, importance);
CREATE INDEX IF NOT EXISTS idx_notes_owner_type ON notes(owner_id, note_type);
CREATE INDEX IF NOT EXISTS idx_notes_tsv ON notes USING GIN(content_tsv);

CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	type       TEXT NOT NULL,
	strength   DOUBLE PRECISION NOT NULL,
	reasoning  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);

CREATE TABLE IF NOT EXISTS embeddings (
	note_id    TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	embedding  vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pg_embeddings_owner ON embeddings(owner_id);

CREATE TABLE IF NOT EXISTS owner_settings (
	owner_id   TEXT PRIMARY KEY,
	settings   JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Store implements storage.Store on PostgreSQL with pgvector.
type Store struct {
	db        *sql.DB
	dimension int
}

var _ storage.Store = (*Store)(nil)

// Open connects to PostgreSQL, verifies connectivity, and creates the schema.
// dimension fixes the pgvector column width and must match the embedding
// model configured for the deployment.
func Open(dsn string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dimension)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &Store{db: db, dimension: dimension}, nil
}

// DB exposes the underlying connection for components that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTurn stores a new dialogue turn.
func (s *Store) CreateTurn(ctx context.Context, turn *types.DialogueTurn) error {
	if turn == nil || turn.ID == "" || turn.OwnerID == "" {
		return fmt.Errorf("%w: turn id and owner are required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		turn.ID, turn.OwnerID, turn.SessionID, turn.TurnNumber,
		turn.UserText, turn.AssistantText, turn.Extracted, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create turn: %w", err)
	}
	return nil
}

// GetTurn retrieves a turn by ID.
func (s *Store) GetTurn(ctx context.Context, id string) (*types.DialogueTurn, error) {
	var t types.DialogueTurn
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at
		FROM turns WHERE id = $1`, id).
		Scan(&t.ID, &t.OwnerID, &t.SessionID, &t.TurnNumber,
			&t.UserText, &t.AssistantText, &t.Extracted, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get turn: %w", err)
	}
	return &t, nil
}

// MarkExtracted flips the extracted flag to true.
func (s *Store) MarkExtracted(ctx context.Context, id string) error {
	return s.setExtracted(ctx, id, true)
}

// ResetExtraction explicitly clears the extracted flag for reprocessing.
func (s *Store) ResetExtraction(ctx context.Context, id string) error {
	return s.setExtracted(ctx, id, false)
}

func (s *Store) setExtracted(ctx context.Context, id string, extracted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET extracted = $1 WHERE id = $2`, extracted, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update extracted flag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUnextracted returns up to limit unextracted turns, oldest first.
func (s *Store) ListUnextracted(ctx context.Context, limit int) ([]*types.DialogueTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, session_id, turn_number, user_text, assistant_text, extracted, created_at
		FROM turns WHERE NOT extracted ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list unextracted turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*types.DialogueTurn
	for rows.Next() {
		var t types.DialogueTurn
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.SessionID, &t.TurnNumber,
			&t.UserText, &t.AssistantText, &t.Extracted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// buildNoteFilter assembles a WHERE clause from ListOptions using numbered
// placeholders starting at $1.
func buildNoteFilter(opts storage.ListOptions) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.OwnerID != "" {
		where = append(where, "owner_id = "+arg(opts.OwnerID))
	}
	if opts.NoteType != "" {
		where = append(where, "note_type = "+arg(opts.NoteType))
	}
	if !opts.IncludeInactive {
		where = append(where, "active")
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at > "+arg(opts.CreatedAfter))
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(opts.CreatedBefore))
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
