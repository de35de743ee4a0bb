package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/engram-memory/engram/internal/storage"
)

// LexicalSearch performs FTS5-backed term search over note content, keywords,
// and tags, restricted to the owner's active notes.
//
// FTS5 rank values are negative (more negative == better match), so ordering
// by rank ASC gives the best results first. The returned Score is the negated
// rank so callers see "higher is better"; only the ordering matters for
// reciprocal-rank fusion.
func (s *Store) LexicalSearch(ctx context.Context, ownerID, query string, topK int) ([]storage.LexicalHit, error) {
	if topK <= 0 {
		topK = 10
	}
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, fts.rank
		FROM notes_fts fts
		JOIN notes n ON n.rowid = fts.rowid
		WHERE notes_fts MATCH ? AND n.owner_id = ? AND n.active = 1
		ORDER BY fts.rank
		LIMIT ?`, ftsQuery, ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.LexicalHit
	for rows.Next() {
		var hit storage.LexicalHit
		var rank float64
		if err := rows.Scan(&hit.NoteID, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan lexical hit: %w", err)
		}
		hit.Score = -rank
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// sanitiseFTSQuery converts free-form user input into a safe FTS5 query.
// FTS5 syntax is powerful but fragile: an unbalanced quote or stray operator
// keyword causes a syntax error, so each word is quoted individually and the
// terms are OR'd for term-overlap semantics.
func sanitiseFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, f)
		if cleaned == "" {
			continue
		}
		terms = append(terms, `"`+cleaned+`"`)
	}
	return strings.Join(terms, " OR ")
}
