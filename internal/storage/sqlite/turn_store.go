package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// bodyHash fingerprints the client-visible fields of a turn. Re-posting the
// same body under the same id must be a no-op; a different body under an
// existing id is a conflict.
func bodyHash(turn *types.Turn) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s",
		turn.ThreadID, turn.TSUser.UnixMilli(), turn.UserText, turn.AIText,
		turn.Source.App, turn.Source.URL, turn.Source.Path)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// InsertTurn appends a turn to the log.
func (s *Store) InsertTurn(ctx context.Context, turn *types.Turn) error {
	if turn == nil {
		return storage.ErrInvalidInput
	}
	if err := turn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if turn.ID == "" {
		return fmt.Errorf("%w: turn id is required at the storage layer", storage.ErrInvalidInput)
	}

	var tsAI interface{}
	if turn.TSAI != nil {
		tsAI = ms(*turn.TSAI)
	}

	hash := bodyHash(turn)
	res, err := s.writer.ExecContext(ctx, `
		INSERT INTO turns (id, thread_id, ts_user, user_text, ts_ai, ai_text,
			source_app, source_url, source_path, body_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, turn.ID, turn.ThreadID, ms(turn.TSUser), turn.UserText, tsAI, turn.AIText,
		string(turn.Source.App), turn.Source.URL, turn.Source.Path, hash, ms(time.Now()))
	if err != nil {
		return wrapErr("insert turn", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("insert turn", err)
	}
	if rows > 0 {
		return nil
	}

	// The id already exists. Idempotent re-post is fine; a different body is not.
	var existingHash string
	err = s.reader.QueryRowContext(ctx, "SELECT body_hash FROM turns WHERE id = ?", turn.ID).Scan(&existingHash)
	if err != nil {
		return wrapErr("insert turn", err)
	}
	if existingHash != hash {
		return fmt.Errorf("%w: turn %s already exists with a different body", storage.ErrConflict, turn.ID)
	}
	return nil
}

// GetTurn retrieves a turn by id.
func (s *Store) GetTurn(ctx context.Context, id string) (*types.Turn, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, thread_id, ts_user, user_text, ts_ai, ai_text, source_app, source_url, source_path
		FROM turns WHERE id = ?
	`, id)
	return scanTurn(row)
}

// LastTurnForThread returns the most recent turn of a thread. Turn ids are
// time-ordered, so the max id is the newest turn.
func (s *Store) LastTurnForThread(ctx context.Context, threadID string) (*types.Turn, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, thread_id, ts_user, user_text, ts_ai, ai_text, source_app, source_url, source_path
		FROM turns WHERE thread_id = ?
		ORDER BY id DESC LIMIT 1
	`, threadID)
	return scanTurn(row)
}

// UnextractedTurns returns turns created within the grace window that no
// memory references and that are not marked skipped.
func (s *Store) UnextractedTurns(ctx context.Context, since time.Time) ([]types.Turn, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT t.id, t.thread_id, t.ts_user, t.user_text, t.ts_ai, t.ai_text,
			t.source_app, t.source_url, t.source_path
		FROM turns t
		WHERE t.created_at >= ?
		  AND t.extraction_skipped = 0
		  AND NOT EXISTS (SELECT 1 FROM memory_provenance p WHERE p.turn_id = t.id)
		ORDER BY t.id
	`, ms(since))
	if err != nil {
		return nil, wrapErr("list unextracted turns", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		turn, err := scanTurnRow(rows)
		if err != nil {
			return nil, wrapErr("scan unextracted turn", err)
		}
		turns = append(turns, *turn)
	}
	return turns, rows.Err()
}

// MarkTurnSkipped records the sentinel that keeps recovery sweeps from
// re-enqueueing a turn whose extraction legitimately produced nothing.
func (s *Store) MarkTurnSkipped(ctx context.Context, turnID string) error {
	res, err := s.writer.ExecContext(ctx,
		"UPDATE turns SET extraction_skipped = 1 WHERE id = ?", turnID)
	if err != nil {
		return wrapErr("mark turn skipped", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr("mark turn skipped", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTurn(row *sql.Row) (*types.Turn, error) {
	turn, err := scanTurnRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("scan turn", err)
	}
	return turn, nil
}

func scanTurnRow(row rowScanner) (*types.Turn, error) {
	var (
		turn      types.Turn
		tsUser    int64
		tsAI      sql.NullInt64
		aiText    sql.NullString
		sourceApp string
		sourceURL sql.NullString
		sourcePth sql.NullString
	)
	err := row.Scan(&turn.ID, &turn.ThreadID, &tsUser, &turn.UserText,
		&tsAI, &aiText, &sourceApp, &sourceURL, &sourcePth)
	if err != nil {
		return nil, err
	}

	turn.TSUser = fromMS(tsUser)
	if tsAI.Valid {
		t := fromMS(tsAI.Int64)
		turn.TSAI = &t
	}
	turn.AIText = aiText.String
	turn.Source = types.TurnSource{
		App:  types.SourceApp(sourceApp),
		URL:  sourceURL.String,
		Path: sourcePth.String,
	}
	return &turn, nil
}
