package types

import (
	"fmt"
	"time"
)

// Category is the coarse label carried by an agentic record.
type Category string

// Known agentic categories.
const (
	CategoryTask         Category = "task"
	CategoryDecision     Category = "decision"
	CategoryFact         Category = "fact"
	CategoryCode         Category = "code"
	CategoryConversation Category = "conversation"
	CategoryDocument     Category = "document"
	CategoryReference    Category = "reference"
)

// CategoryForKind maps a memory kind to its default agentic category.
func CategoryForKind(kind MemoryKind) Category {
	switch kind {
	case KindTask:
		return CategoryTask
	case KindDecision:
		return CategoryDecision
	case KindSnippet:
		return CategoryCode
	default:
		return CategoryFact
	}
}

// EvolutionEntry records one event in an agentic record's history.
// The history is append-only.
type EvolutionEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// AgenticRecord is the derived metadata kept alongside each memory:
// lowercased deduped keywords, synthetic plus extractor tags, an enriched
// one-line context, retrieval statistics, and the evolution history.
// Exactly one record exists per live memory.
type AgenticRecord struct {
	MemoryID       string           `json:"memory_id"`
	Keywords       []string         `json:"keywords"`
	Tags           []string         `json:"tags"`
	Context        string           `json:"context"`
	Category       Category         `json:"category"`
	RetrievalCount int64            `json:"retrieval_count"`
	LastAccessed   time.Time        `json:"last_accessed"`
	CreatedAt      time.Time        `json:"created_at"`
	Evolution      []EvolutionEntry `json:"evolution_history"`
}

// Link is a directed, weighted relation between two memories.
// Self-links are forbidden and (Source, Target) is unique.
type Link struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Strength  float64 `json:"strength"`
	Rationale string  `json:"rationale,omitempty"`
}

// Validate checks the link's endpoints and strength bounds.
func (l *Link) Validate() error {
	if !ValidIDWithPrefix(l.Source, PrefixMemory) {
		return fmt.Errorf("malformed link source %q", l.Source)
	}
	if !ValidIDWithPrefix(l.Target, PrefixMemory) {
		return fmt.Errorf("malformed link target %q", l.Target)
	}
	if l.Source == l.Target {
		return fmt.Errorf("self-link on %q", l.Source)
	}
	if l.Strength < 0 || l.Strength > 1 {
		return fmt.Errorf("link strength %v out of [0,1]", l.Strength)
	}
	return nil
}

// GraphNode is one node in the exported agentic graph.
type GraphNode struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Context        string    `json:"context"`
	Keywords       []string  `json:"keywords"`
	Tags           []string  `json:"tags"`
	Category       Category  `json:"category"`
	RetrievalCount int64     `json:"retrieval_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
}

// Graph is the exported agentic graph payload.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []Link      `json:"edges"`
}
