package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// Organizer files memories into the Workspace > Project > Area > Topic
// hierarchy: workspace from the source app, project inferred from the source
// path or URL, area from the memory kind, topic from the extracted label.
type Organizer struct {
	store storage.HierarchyStore
}

// NewOrganizer creates an organizer over the hierarchy store.
func NewOrganizer(store storage.HierarchyStore) *Organizer {
	return &Organizer{store: store}
}

// Organize resolves (creating as needed) the hierarchy chain for the memory
// and returns the topic id to attach to it.
func (o *Organizer) Organize(ctx context.Context, mem *types.Memory, turn *types.Turn) (string, error) {
	workspace, err := o.store.GetOrCreateWorkspace(ctx, string(turn.Source.App))
	if err != nil {
		return "", fmt.Errorf("ingest: organize workspace: %w", err)
	}

	project, err := o.store.GetOrCreateProject(ctx, workspace.ID, inferProjectName(turn), types.ProjectActive)
	if err != nil {
		return "", fmt.Errorf("ingest: organize project: %w", err)
	}

	area, err := o.store.GetOrCreateArea(ctx, project.ID, areaForKind(mem.Kind))
	if err != nil {
		return "", fmt.Errorf("ingest: organize area: %w", err)
	}

	topicName := strings.TrimSpace(mem.Topic)
	if topicName == "" {
		topicName = "General"
	}
	topic, err := o.store.GetOrCreateTopic(ctx, area.ID, topicName)
	if err != nil {
		return "", fmt.Errorf("ingest: organize topic: %w", err)
	}
	return topic.ID, nil
}

// inferProjectName guesses the project from the source path (looking for a
// conventional projects directory) or the URL (first path segment, then the
// domain stem). Falls back to "Default".
func inferProjectName(turn *types.Turn) string {
	if turn.Source.Path != "" {
		parts := strings.Split(turn.Source.Path, "/")
		for i, part := range parts {
			switch part {
			case "code", "projects", "workspace", "work":
				if i+1 < len(parts) && parts[i+1] != "" {
					return parts[i+1]
				}
			}
		}
		// Skip the /Users/name or /home/name prefix.
		if len(parts) >= 4 {
			return parts[3]
		}
	}

	if turn.Source.URL != "" {
		if _, rest, ok := strings.Cut(turn.Source.URL, "://"); ok {
			segments := strings.Split(rest, "/")
			if len(segments) > 1 && segments[1] != "" {
				return segments[1]
			}
			if stem, _, _ := strings.Cut(segments[0], "."); stem != "" {
				return stem
			}
		}
	}
	return "Default"
}

func areaForKind(kind types.MemoryKind) string {
	switch kind {
	case types.KindDecision:
		return "Decisions"
	case types.KindFact:
		return "Facts"
	case types.KindSnippet:
		return "Code"
	case types.KindTask:
		return "Tasks"
	default:
		return "General"
	}
}
