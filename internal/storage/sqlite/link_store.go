package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// UpsertLink inserts or updates a link. (source, target) is unique; an upsert
// refreshes strength and rationale.
func (s *Store) UpsertLink(ctx context.Context, link *types.Link) error {
	if link == nil {
		return storage.ErrInvalidInput
	}
	if err := link.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO links (source, target, strength, rationale, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, target) DO UPDATE SET
			strength = excluded.strength,
			rationale = excluded.rationale
	`, link.Source, link.Target, link.Strength, link.Rationale, ms(time.Now()))
	return wrapErr("upsert link", err)
}

// LinksFor returns all links where the memory is source or target, outgoing
// links first.
func (s *Store) LinksFor(ctx context.Context, memoryID string) ([]types.Link, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT source, target, strength, rationale FROM links
		WHERE source = ? OR target = ?
		ORDER BY (source = ?) DESC, strength DESC, target
	`, memoryID, memoryID, memoryID)
	if err != nil {
		return nil, wrapErr("list links", err)
	}
	defer rows.Close()

	links := []types.Link{}
	for rows.Next() {
		var (
			link      types.Link
			rationale sql.NullString
		)
		if err := rows.Scan(&link.Source, &link.Target, &link.Strength, &rationale); err != nil {
			return nil, wrapErr("scan link", err)
		}
		link.Rationale = rationale.String
		links = append(links, link)
	}
	return links, rows.Err()
}
