package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// agenticColumns is the SELECT column list shared by agentic record queries.
const agenticColumns = "a.memory_id, a.keywords_json, a.tags_json, a.context, a.category, a.retrieval_count, a.last_accessed, a.created_at, a.evolution_json"

// UpsertAgentic creates or replaces the agentic record for a memory and
// refreshes its FTS row (content plus derived keyword/tag/context text).
func (s *Store) UpsertAgentic(ctx context.Context, rec *types.AgenticRecord) error {
	if rec == nil || rec.MemoryID == "" {
		return storage.ErrInvalidInput
	}

	keywordsJSON, err := json.Marshal(emptyIfNil(rec.Keywords))
	if err != nil {
		return fmt.Errorf("sqlite: marshal keywords: %w", err)
	}
	tagsJSON, err := json.Marshal(emptyIfNil(rec.Tags))
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}
	evolution := rec.Evolution
	if evolution == nil {
		evolution = []types.EvolutionEntry{}
	}
	evolutionJSON, err := json.Marshal(evolution)
	if err != nil {
		return fmt.Errorf("sqlite: marshal evolution: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.LastAccessed.IsZero() {
		rec.LastAccessed = rec.CreatedAt
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin upsert agentic", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agentic (memory_id, keywords_json, tags_json, context, category,
			retrieval_count, last_accessed, created_at, evolution_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			keywords_json = excluded.keywords_json,
			tags_json = excluded.tags_json,
			context = excluded.context,
			category = excluded.category,
			evolution_json = excluded.evolution_json
	`, rec.MemoryID, string(keywordsJSON), string(tagsJSON), rec.Context, string(rec.Category),
		rec.RetrievalCount, ms(rec.LastAccessed), ms(rec.CreatedAt), string(evolutionJSON)); err != nil {
		return wrapErr("upsert agentic", err)
	}

	var content string
	if err := tx.QueryRowContext(ctx,
		"SELECT text FROM memories WHERE id = ?", rec.MemoryID).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: memory %s", storage.ErrNotFound, rec.MemoryID)
		}
		return wrapErr("load memory for agentic fts", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM agentic_fts WHERE memory_id = ?", rec.MemoryID); err != nil {
		return wrapErr("refresh agentic fts", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agentic_fts (memory_id, content, keywords, tags, context)
		VALUES (?, ?, ?, ?, ?)
	`, rec.MemoryID, content, strings.Join(rec.Keywords, " "), strings.Join(rec.Tags, " "), rec.Context); err != nil {
		return wrapErr("insert agentic fts", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit upsert agentic", err)
	}
	return nil
}

// GetAgentic retrieves the agentic record for a memory.
func (s *Store) GetAgentic(ctx context.Context, memoryID string) (*types.AgenticRecord, error) {
	row := s.reader.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s FROM agentic a WHERE a.memory_id = ?", agenticColumns), memoryID)

	rec, err := scanAgenticRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get agentic", err)
	}
	return rec, nil
}

// RecentAgentic returns the most recently accessed agentic records.
func (s *Store) RecentAgentic(ctx context.Context, limit int) ([]types.AgenticRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM agentic a
		ORDER BY a.last_accessed DESC, a.memory_id DESC
		LIMIT ?
	`, agenticColumns), limit)
	if err != nil {
		return nil, wrapErr("list agentic", err)
	}
	return collectAgentic(rows)
}

// SearchAgentic runs a full-text query across content, keywords, tags, and
// context, best match first.
func (s *Store) SearchAgentic(ctx context.Context, query string, limit int) ([]types.AgenticRecord, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return []types.AgenticRecord{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM agentic_fts f
		JOIN agentic a ON a.memory_id = f.memory_id
		WHERE agentic_fts MATCH ?
		ORDER BY bm25(agentic_fts)
		LIMIT ?
	`, agenticColumns), match, limit)
	if err != nil {
		return nil, wrapErr("search agentic", err)
	}
	return collectAgentic(rows)
}

// TouchRetrieval increments retrieval_count and refreshes last_accessed.
func (s *Store) TouchRetrieval(ctx context.Context, memoryID string) error {
	res, err := s.writer.ExecContext(ctx, `
		UPDATE agentic
		SET retrieval_count = retrieval_count + 1, last_accessed = ?
		WHERE memory_id = ?
	`, ms(time.Now()), memoryID)
	if err != nil {
		return wrapErr("touch retrieval", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("touch retrieval", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendEvolution appends one entry to the record's evolution history.
func (s *Store) AppendEvolution(ctx context.Context, memoryID string, entry types.EvolutionEntry) error {
	rec, err := s.GetAgentic(ctx, memoryID)
	if err != nil {
		return err
	}
	rec.Evolution = append(rec.Evolution, entry)

	evolutionJSON, err := json.Marshal(rec.Evolution)
	if err != nil {
		return fmt.Errorf("sqlite: marshal evolution: %w", err)
	}
	_, err = s.writer.ExecContext(ctx,
		"UPDATE agentic SET evolution_json = ? WHERE memory_id = ?",
		string(evolutionJSON), memoryID)
	return wrapErr("append evolution", err)
}

// UpdateAgenticMeta replaces keywords, tags, and category after an evolution
// merge, keeping the FTS row in step.
func (s *Store) UpdateAgenticMeta(ctx context.Context, memoryID string, keywords, tags []string, category types.Category) error {
	keywordsJSON, err := json.Marshal(emptyIfNil(keywords))
	if err != nil {
		return fmt.Errorf("sqlite: marshal keywords: %w", err)
	}
	tagsJSON, err := json.Marshal(emptyIfNil(tags))
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin update agentic meta", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE agentic SET keywords_json = ?, tags_json = ?, category = ?
		WHERE memory_id = ?
	`, string(keywordsJSON), string(tagsJSON), string(category), memoryID)
	if err != nil {
		return wrapErr("update agentic meta", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update agentic meta", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agentic_fts SET keywords = ?, tags = ?
		WHERE memory_id = ?
	`, strings.Join(keywords, " "), strings.Join(tags, " "), memoryID); err != nil {
		return wrapErr("update agentic fts", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit update agentic meta", err)
	}
	return nil
}

// DeleteAgentic removes the record, its FTS row, and all links touching the
// memory. The memory row is untouched.
func (s *Store) DeleteAgentic(ctx context.Context, memoryID string) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin delete agentic", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM agentic WHERE memory_id = ?", memoryID)
	if err != nil {
		return wrapErr("delete agentic", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("delete agentic", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM agentic_fts WHERE memory_id = ?", memoryID); err != nil {
		return wrapErr("delete agentic fts", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM links WHERE source = ? OR target = ?", memoryID, memoryID); err != nil {
		return wrapErr("delete agentic links", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit delete agentic", err)
	}
	return nil
}

// AgenticGraph exports nodes (ordered by last_accessed descending) and the
// edges among them.
func (s *Store) AgenticGraph(ctx context.Context, limit int) (*types.Graph, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, m.text
		FROM agentic a
		JOIN memories m ON m.id = a.memory_id
		WHERE m.expires_at IS NULL OR m.expires_at > ?
		ORDER BY a.last_accessed DESC, a.memory_id DESC
		LIMIT ?
	`, agenticColumns), ms(time.Now()), limit)
	if err != nil {
		return nil, wrapErr("graph nodes", err)
	}
	defer rows.Close()

	graph := &types.Graph{Nodes: []types.GraphNode{}, Edges: []types.Link{}}
	inGraph := make(map[string]bool)
	for rows.Next() {
		var (
			rec     types.AgenticRecord
			content string
		)
		if err := scanAgenticInto(rows, &rec, &content); err != nil {
			return nil, wrapErr("scan graph node", err)
		}
		graph.Nodes = append(graph.Nodes, types.GraphNode{
			ID:             rec.MemoryID,
			Content:        content,
			Context:        rec.Context,
			Keywords:       rec.Keywords,
			Tags:           rec.Tags,
			Category:       rec.Category,
			RetrievalCount: rec.RetrievalCount,
			CreatedAt:      rec.CreatedAt,
			LastAccessed:   rec.LastAccessed,
		})
		inGraph[rec.MemoryID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate graph nodes", err)
	}

	edgeRows, err := s.reader.QueryContext(ctx,
		"SELECT source, target, strength, rationale FROM links ORDER BY source, target")
	if err != nil {
		return nil, wrapErr("graph edges", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var (
			link      types.Link
			rationale sql.NullString
		)
		if err := edgeRows.Scan(&link.Source, &link.Target, &link.Strength, &rationale); err != nil {
			return nil, wrapErr("scan graph edge", err)
		}
		link.Rationale = rationale.String
		if inGraph[link.Source] && inGraph[link.Target] {
			graph.Edges = append(graph.Edges, link)
		}
	}
	return graph, edgeRows.Err()
}

// scanAgenticRow reads one agentic row in agenticColumns order.
func scanAgenticRow(row rowScanner) (*types.AgenticRecord, error) {
	var rec types.AgenticRecord
	if err := scanAgenticInto(row, &rec, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

// scanAgenticInto reads agenticColumns (plus an optional trailing content
// column when content is non-nil) into rec.
func scanAgenticInto(row rowScanner, rec *types.AgenticRecord, content *string) error {
	var (
		keywordsJSON  string
		tagsJSON      string
		category      string
		lastAccessed  int64
		createdAt     int64
		evolutionJSON string
	)
	dest := []interface{}{&rec.MemoryID, &keywordsJSON, &tagsJSON, &rec.Context, &category,
		&rec.RetrievalCount, &lastAccessed, &createdAt, &evolutionJSON}
	if content != nil {
		dest = append(dest, content)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(evolutionJSON), &rec.Evolution); err != nil {
		return fmt.Errorf("unmarshal evolution: %w", err)
	}
	rec.Category = types.Category(category)
	rec.LastAccessed = fromMS(lastAccessed)
	rec.CreatedAt = fromMS(createdAt)
	return nil
}

// collectAgentic drains rows into a slice.
func collectAgentic(rows *sql.Rows) ([]types.AgenticRecord, error) {
	defer rows.Close()

	records := []types.AgenticRecord{}
	for rows.Next() {
		var rec types.AgenticRecord
		if err := scanAgenticInto(rows, &rec, nil); err != nil {
			return nil, wrapErr("scan agentic", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// emptyIfNil keeps JSON columns as [] rather than null.
func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
