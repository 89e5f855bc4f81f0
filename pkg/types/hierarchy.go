package types

import "time"

// ProjectStatus is the lifecycle state of a hierarchy project.
type ProjectStatus string

// Project statuses.
const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
	ProjectPlanned  ProjectStatus = "planned"
)

// Workspace is the top level of the organizational hierarchy,
// clustered by source application.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Project groups areas under a workspace, inferred from file paths or URLs.
type Project struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Area groups topics under a project, clustered by memory kind.
type Area struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Topic is the leaf of the hierarchy; memories point at topics via topic_id.
type Topic struct {
	ID          string    `json:"id"`
	AreaID      string    `json:"area_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsIndexNote bool      `json:"is_index_note"`
	CreatedAt   time.Time `json:"created_at"`
}

// HierarchyTuple is the wire encoding of one hierarchy row:
// [id, name, parent_name?, count?].
type HierarchyTuple []interface{}
