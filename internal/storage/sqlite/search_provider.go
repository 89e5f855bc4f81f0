package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// LexicalSearch runs an FTS5 query over memory text, snippet text, and topic,
// returning candidates with raw BM25 scores (higher is better). An empty or
// stop-word-only query returns no results.
func (s *Store) LexicalSearch(ctx context.Context, query string, filters storage.SearchFilters, limit int) ([]storage.ScoredMemory, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return []storage.ScoredMemory{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var (
		conds []string
		args  []interface{}
	)
	args = append(args, match, ms(time.Now()))
	if filters.Topic != "" {
		conds = append(conds, "AND m.topic = ?")
		args = append(args, filters.Topic)
	}
	if filters.Kind != "" {
		conds = append(conds, "AND m.kind = ?")
		args = append(args, string(filters.Kind))
	}
	if filters.SourceApp != "" {
		conds = append(conds, `AND EXISTS (
			SELECT 1 FROM memory_provenance p
			JOIN turns t ON t.id = p.turn_id
			WHERE p.memory_id = m.id AND t.source_app = ?
		)`)
		args = append(args, string(filters.SourceApp))
	}
	args = append(args, limit)

	// bm25() returns "smaller is better" values; negate so callers see
	// higher-is-better scores.
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, -bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND (m.expires_at IS NULL OR m.expires_at > ?)
		  %s
		ORDER BY score DESC, m.created_at DESC, m.id
		LIMIT ?
	`, memoryColumnsQualified, strings.Join(conds, "\n")), args...)
	if err != nil {
		return nil, wrapErr("lexical search", err)
	}
	defer rows.Close()

	var (
		results []storage.ScoredMemory
		ptrs    []*types.Memory
	)
	for rows.Next() {
		var (
			mem   types.Memory
			score float64
		)
		scanned, err := scanScoredMemoryRow(rows, &mem, &score)
		if err != nil {
			return nil, wrapErr("scan search result", err)
		}
		ptrs = append(ptrs, scanned)
		results = append(results, storage.ScoredMemory{Memory: mem, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate search results", err)
	}

	if err := s.attachMemoryDeps(ctx, ptrs); err != nil {
		return nil, err
	}
	for i, mem := range ptrs {
		results[i].Memory = *mem
	}
	return results, nil
}

// scanScoredMemoryRow reads a memory row plus its trailing score column.
func scanScoredMemoryRow(row rowScanner, mem *types.Memory, score *float64) (*types.Memory, error) {
	var (
		kind      string
		title     sql.NullString
		snipText  sql.NullString
		loc       sql.NullString
		language  sql.NullString
		createdAt int64
		ttl       sql.NullInt64
		topicID   sql.NullString
	)
	err := row.Scan(&mem.ID, &kind, &mem.Topic, &mem.Text,
		&title, &snipText, &loc, &language, &createdAt, &ttl, &topicID, score)
	if err != nil {
		return nil, err
	}

	mem.Kind = types.MemoryKind(kind)
	mem.CreatedAt = fromMS(createdAt)
	if ttl.Valid {
		v := ttl.Int64
		mem.TTL = &v
	}
	mem.TopicID = topicID.String
	if title.Valid || snipText.Valid {
		mem.Snippet = &types.Snippet{
			Title:    title.String,
			Text:     snipText.String,
			Loc:      loc.String,
			Language: language.String,
		}
	}
	return mem, nil
}

// sanitizeFTSQuery turns free text into a safe FTS5 prefix query.
func sanitizeFTSQuery(query string) string {
	// Strip FTS5 special characters.
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		return ""
	}
	return strings.Join(terms, " OR ")
}

// ftsStopWords are filtered from queries; they carry no discriminative value.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true,
	"between": true, "out": true, "off": true, "over": true, "under": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true, // post-apostrophe fragments e.g. "MJ's" → "MJ" + "s"
}
