package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// memoryColumns is the SELECT column list shared by every memory query.
// scanMemoryRow must stay in step with it.
const memoryColumns = "id, kind, topic, text, snippet_title, snippet_text, snippet_loc, snippet_language, created_at, ttl, topic_id"

// memoryColumnsQualified is memoryColumns with the "m" table alias, for joins.
const memoryColumnsQualified = "m.id, m.kind, m.topic, m.text, m.snippet_title, m.snippet_text, m.snippet_loc, m.snippet_language, m.created_at, m.ttl, m.topic_id"

// InsertMemories writes a batch of memories with their entities and
// provenance in one transaction. Duplicates under the
// (source_turn_id, normalized_text, kind) idempotence key are skipped.
func (s *Store) InsertMemories(ctx context.Context, memories []*types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	for _, mem := range memories {
		if err := mem.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin insert memories", err)
	}
	defer tx.Rollback()

	for _, mem := range memories {
		var expiresAt interface{}
		if mem.TTL != nil {
			expiresAt = ms(mem.ExpiresAt())
		}
		var title, text, loc, language interface{}
		if mem.Snippet != nil {
			title, text = mem.Snippet.Title, mem.Snippet.Text
			loc, language = mem.Snippet.Loc, mem.Snippet.Language
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, kind, topic, text, normalized_text,
				snippet_title, snippet_text, snippet_loc, snippet_language,
				source_turn_id, created_at, ttl, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_turn_id, normalized_text, kind) DO NOTHING
		`, mem.ID, string(mem.Kind), mem.Topic, mem.Text, types.NormalizeMemoryText(mem.Text),
			title, text, loc, language,
			mem.Provenance[0], ms(mem.CreatedAt), mem.TTL, expiresAt)
		if err != nil {
			return wrapErr("insert memory", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return wrapErr("insert memory", err)
		}
		if rows == 0 {
			// Idempotent re-extraction of the same turn.
			continue
		}

		for _, entity := range mem.Entities {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memory_entities (memory_id, entity) VALUES (?, ?)
				ON CONFLICT(memory_id, entity) DO NOTHING
			`, mem.ID, entity); err != nil {
				return wrapErr("insert memory entity", err)
			}
		}
		for ord, turnID := range mem.Provenance {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memory_provenance (memory_id, turn_id, ord) VALUES (?, ?, ?)
			`, mem.ID, turnID, ord); err != nil {
				return wrapErr("insert memory provenance", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit insert memories", err)
	}
	return nil
}

// GetMemory retrieves a memory by id. Expired memories are reported as not found.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.reader.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, memoryColumns), id, ms(time.Now()))

	mem, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get memory", err)
	}
	if err := s.attachMemoryDeps(ctx, []*types.Memory{mem}); err != nil {
		return nil, err
	}
	return mem, nil
}

// RecentMemories returns the newest non-expired memories, newest first.
func (s *Store) RecentMemories(ctx context.Context, limit int) ([]types.Memory, error) {
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, memoryColumns), ms(time.Now()), limit)
	if err != nil {
		return nil, wrapErr("list recent memories", err)
	}
	return s.collectMemories(ctx, rows)
}

// TopicSummaries aggregates non-expired memories by topic, most recently
// active first.
func (s *Store) TopicSummaries(ctx context.Context, limit int) ([]types.TopicSummary, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT topic, COUNT(*), MAX(created_at)
		FROM memories
		WHERE expires_at IS NULL OR expires_at > ?
		GROUP BY topic
		ORDER BY MAX(created_at) DESC
		LIMIT ?
	`, ms(time.Now()), limit)
	if err != nil {
		return nil, wrapErr("list topics", err)
	}
	defer rows.Close()

	var topics []types.TopicSummary
	for rows.Next() {
		var (
			summary types.TopicSummary
			lastAt  int64
		)
		if err := rows.Scan(&summary.Topic, &summary.MemoryCount, &lastAt); err != nil {
			return nil, wrapErr("scan topic summary", err)
		}
		summary.LastMemoryAt = fromMS(lastAt)
		topics = append(topics, summary)
	}
	return topics, rows.Err()
}

// SetMemoryTopicID points a memory at its hierarchy topic.
func (s *Store) SetMemoryTopicID(ctx context.Context, memoryID, topicID string) error {
	res, err := s.writer.ExecContext(ctx,
		"UPDATE memories SET topic_id = ? WHERE id = ?", topicID, memoryID)
	if err != nil {
		return wrapErr("set memory topic", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("set memory topic", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredMemories removes memories whose TTL elapsed before now.
// Dependent rows cascade; the standalone agentic FTS rows are cleaned up
// explicitly because no foreign key covers them.
func (s *Store) DeleteExpiredMemories(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin expiry sweep", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM agentic_fts WHERE memory_id IN
			(SELECT id FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?)
	`, ms(now)); err != nil {
		return 0, wrapErr("expiry sweep fts", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?", ms(now))
	if err != nil {
		return 0, wrapErr("expiry sweep", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("expiry sweep", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit expiry sweep", err)
	}
	return int(rows), nil
}

// Stats counts stored turns and memories by kind.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{ByKind: make(map[string]int)}

	if err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns").Scan(&stats.Turns); err != nil {
		return nil, wrapErr("count turns", err)
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM memories
		WHERE expires_at IS NULL OR expires_at > ?
		GROUP BY kind
	`, ms(time.Now()))
	if err != nil {
		return nil, wrapErr("count memories", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, wrapErr("scan memory count", err)
		}
		stats.ByKind[kind] = count
		stats.Memories += count
	}
	return stats, rows.Err()
}

// scanMemoryRow reads one memory row in memoryColumns order.
func scanMemoryRow(row rowScanner) (*types.Memory, error) {
	var (
		mem       types.Memory
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
		&title, &snipText, &loc, &language, &createdAt, &ttl, &topicID)
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
	return &mem, nil
}

// collectMemories drains rows and attaches entities and provenance.
func (s *Store) collectMemories(ctx context.Context, rows *sql.Rows) ([]types.Memory, error) {
	defer rows.Close()

	var ptrs []*types.Memory
	for rows.Next() {
		mem, err := scanMemoryRow(rows)
		if err != nil {
			return nil, wrapErr("scan memory", err)
		}
		ptrs = append(ptrs, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate memories", err)
	}

	if err := s.attachMemoryDeps(ctx, ptrs); err != nil {
		return nil, err
	}

	memories := make([]types.Memory, len(ptrs))
	for i, mem := range ptrs {
		memories[i] = *mem
	}
	return memories, nil
}

// attachMemoryDeps loads entities and provenance for a batch of memories.
func (s *Store) attachMemoryDeps(ctx context.Context, memories []*types.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	byID := make(map[string]*types.Memory, len(memories))
	ids := make([]interface{}, 0, len(memories))
	for _, mem := range memories {
		byID[mem.ID] = mem
		mem.Entities = []string{}
		mem.Provenance = nil
		ids = append(ids, mem.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT memory_id, entity FROM memory_entities
		WHERE memory_id IN (%s) ORDER BY entity
	`, placeholders), ids...)
	if err != nil {
		return wrapErr("load entities", err)
	}
	for rows.Next() {
		var memID, entity string
		if err := rows.Scan(&memID, &entity); err != nil {
			rows.Close()
			return wrapErr("scan entity", err)
		}
		if mem := byID[memID]; mem != nil {
			mem.Entities = append(mem.Entities, entity)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrapErr("iterate entities", err)
	}
	rows.Close()

	rows, err = s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT memory_id, turn_id FROM memory_provenance
		WHERE memory_id IN (%s) ORDER BY memory_id, ord
	`, placeholders), ids...)
	if err != nil {
		return wrapErr("load provenance", err)
	}
	defer rows.Close()
	for rows.Next() {
		var memID, turnID string
		if err := rows.Scan(&memID, &turnID); err != nil {
			return wrapErr("scan provenance", err)
		}
		if mem := byID[memID]; mem != nil {
			mem.Provenance = append(mem.Provenance, turnID)
		}
	}
	return rows.Err()
}
