package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// getOrCreate runs the lookup, and when it misses, the insert followed by a
// second lookup. The re-lookup absorbs races between concurrent workers: the
// unique constraint makes one insert win and both lookups agree.
func (s *Store) getOrCreate(ctx context.Context, lookup func() error, insert func() error) error {
	err := lookup()
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := insert(); err != nil {
		return err
	}
	return lookup()
}

// GetOrCreateWorkspace returns the workspace with the given name, creating it
// when absent.
func (s *Store) GetOrCreateWorkspace(ctx context.Context, name string) (*types.Workspace, error) {
	if name == "" {
		return nil, storage.ErrInvalidInput
	}
	var ws types.Workspace
	var createdAt int64

	err := s.getOrCreate(ctx,
		func() error {
			return s.reader.QueryRowContext(ctx,
				"SELECT id, name, created_at FROM workspaces WHERE name = ?", name).
				Scan(&ws.ID, &ws.Name, &createdAt)
		},
		func() error {
			_, err := s.writer.ExecContext(ctx, `
				INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)
				ON CONFLICT(name) DO NOTHING
			`, types.NewWorkspaceID(), name, ms(time.Now()))
			return err
		})
	if err != nil {
		return nil, wrapErr("get or create workspace", err)
	}
	ws.CreatedAt = fromMS(createdAt)
	return &ws, nil
}

// GetOrCreateProject returns the project with the given name under the
// workspace, creating it when absent.
func (s *Store) GetOrCreateProject(ctx context.Context, workspaceID, name string, status types.ProjectStatus) (*types.Project, error) {
	if workspaceID == "" || name == "" {
		return nil, storage.ErrInvalidInput
	}
	if status == "" {
		status = types.ProjectActive
	}
	var (
		proj      types.Project
		projState string
		createdAt int64
	)

	err := s.getOrCreate(ctx,
		func() error {
			return s.reader.QueryRowContext(ctx, `
				SELECT id, workspace_id, name, status, created_at FROM projects
				WHERE workspace_id = ? AND name = ?
			`, workspaceID, name).Scan(&proj.ID, &proj.WorkspaceID, &proj.Name, &projState, &createdAt)
		},
		func() error {
			_, err := s.writer.ExecContext(ctx, `
				INSERT INTO projects (id, workspace_id, name, status, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(workspace_id, name) DO NOTHING
			`, types.NewProjectID(), workspaceID, name, string(status), ms(time.Now()))
			return err
		})
	if err != nil {
		return nil, wrapErr("get or create project", err)
	}
	proj.Status = types.ProjectStatus(projState)
	proj.CreatedAt = fromMS(createdAt)
	return &proj, nil
}

// GetOrCreateArea returns the area with the given name under the project,
// creating it when absent.
func (s *Store) GetOrCreateArea(ctx context.Context, projectID, name string) (*types.Area, error) {
	if projectID == "" || name == "" {
		return nil, storage.ErrInvalidInput
	}
	var (
		area      types.Area
		createdAt int64
	)

	err := s.getOrCreate(ctx,
		func() error {
			return s.reader.QueryRowContext(ctx, `
				SELECT id, project_id, name, created_at FROM areas
				WHERE project_id = ? AND name = ?
			`, projectID, name).Scan(&area.ID, &area.ProjectID, &area.Name, &createdAt)
		},
		func() error {
			_, err := s.writer.ExecContext(ctx, `
				INSERT INTO areas (id, project_id, name, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(project_id, name) DO NOTHING
			`, types.NewAreaID(), projectID, name, ms(time.Now()))
			return err
		})
	if err != nil {
		return nil, wrapErr("get or create area", err)
	}
	area.CreatedAt = fromMS(createdAt)
	return &area, nil
}

// GetOrCreateTopic returns the topic with the given name under the area,
// creating it when absent.
func (s *Store) GetOrCreateTopic(ctx context.Context, areaID, name string) (*types.Topic, error) {
	if areaID == "" || name == "" {
		return nil, storage.ErrInvalidInput
	}
	var (
		topic     types.Topic
		indexNote int
		createdAt int64
	)

	err := s.getOrCreate(ctx,
		func() error {
			return s.reader.QueryRowContext(ctx, `
				SELECT id, area_id, name, is_index_note, created_at FROM topics
				WHERE area_id = ? AND name = ?
			`, areaID, name).Scan(&topic.ID, &topic.AreaID, &topic.Name, &indexNote, &createdAt)
		},
		func() error {
			_, err := s.writer.ExecContext(ctx, `
				INSERT INTO topics (id, area_id, name, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(area_id, name) DO NOTHING
			`, types.NewTopicID(), areaID, name, ms(time.Now()))
			return err
		})
	if err != nil {
		return nil, wrapErr("get or create topic", err)
	}
	topic.IsIndexNote = indexNote != 0
	topic.CreatedAt = fromMS(createdAt)
	return &topic, nil
}

// ListWorkspaces returns [id, name, "", memory_count] tuples.
func (s *Store) ListWorkspaces(ctx context.Context) ([]types.HierarchyTuple, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT w.id, w.name, '', COUNT(m.id)
		FROM workspaces w
		LEFT JOIN projects p ON p.workspace_id = w.id
		LEFT JOIN areas a ON a.project_id = p.id
		LEFT JOIN topics t ON t.area_id = a.id
		LEFT JOIN memories m ON m.topic_id = t.id
		GROUP BY w.id
		ORDER BY w.name
	`)
	if err != nil {
		return nil, wrapErr("list workspaces", err)
	}
	return collectTuples(rows)
}

// ListProjects returns [id, name, workspace_name, memory_count] tuples,
// optionally filtered by workspace id.
func (s *Store) ListProjects(ctx context.Context, workspaceID string) ([]types.HierarchyTuple, error) {
	query := `
		SELECT p.id, p.name, w.name, COUNT(m.id)
		FROM projects p
		JOIN workspaces w ON w.id = p.workspace_id
		LEFT JOIN areas a ON a.project_id = p.id
		LEFT JOIN topics t ON t.area_id = a.id
		LEFT JOIN memories m ON m.topic_id = t.id
	`
	var args []interface{}
	if workspaceID != "" {
		query += " WHERE p.workspace_id = ?"
		args = append(args, workspaceID)
	}
	query += " GROUP BY p.id ORDER BY p.name"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list projects", err)
	}
	return collectTuples(rows)
}

// ListAreas returns [id, name, project_name, memory_count] tuples, optionally
// filtered by project id.
func (s *Store) ListAreas(ctx context.Context, projectID string) ([]types.HierarchyTuple, error) {
	query := `
		SELECT a.id, a.name, p.name, COUNT(m.id)
		FROM areas a
		JOIN projects p ON p.id = a.project_id
		LEFT JOIN topics t ON t.area_id = a.id
		LEFT JOIN memories m ON m.topic_id = t.id
	`
	var args []interface{}
	if projectID != "" {
		query += " WHERE a.project_id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY a.id ORDER BY a.name"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list areas", err)
	}
	return collectTuples(rows)
}

// ListTopics returns [id, name, area_name, memory_count] tuples, optionally
// filtered by area id.
func (s *Store) ListTopics(ctx context.Context, areaID string) ([]types.HierarchyTuple, error) {
	query := `
		SELECT t.id, t.name, a.name, COUNT(m.id)
		FROM topics t
		JOIN areas a ON a.id = t.area_id
		LEFT JOIN memories m ON m.topic_id = t.id
	`
	var args []interface{}
	if areaID != "" {
		query += " WHERE t.area_id = ?"
		args = append(args, areaID)
	}
	query += " GROUP BY t.id ORDER BY t.name"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list topics", err)
	}
	return collectTuples(rows)
}

// collectTuples drains [id, name, parent_name, count] rows into wire tuples.
func collectTuples(rows *sql.Rows) ([]types.HierarchyTuple, error) {
	defer rows.Close()

	tuples := []types.HierarchyTuple{}
	for rows.Next() {
		var (
			id, name, parent string
			count            int
		)
		if err := rows.Scan(&id, &name, &parent, &count); err != nil {
			return nil, wrapErr("scan hierarchy tuple", err)
		}
		tuples = append(tuples, types.HierarchyTuple{id, name, parent, count})
	}
	return tuples, rows.Err()
}
