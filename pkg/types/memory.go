package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryKind classifies a distilled memory.
type MemoryKind string

// The four memory kinds.
const (
	KindDecision MemoryKind = "decision"
	KindFact     MemoryKind = "fact"
	KindSnippet  MemoryKind = "snippet"
	KindTask     MemoryKind = "task"
)

// ValidMemoryKind reports whether kind is one of the four known kinds.
func ValidMemoryKind(kind MemoryKind) bool {
	switch kind {
	case KindDecision, KindFact, KindSnippet, KindTask:
		return true
	}
	return false
}

// Snippet carries a code excerpt attached to a snippet memory.
// Loc uses the form "L42-L56" (or "L42" for a single line).
type Snippet struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Loc      string `json:"loc,omitempty"`
	Language string `json:"language,omitempty"`
}

// Memory is a durable artifact distilled from one or more turns.
// Provenance is a non-empty ordered list of turn identifiers.
// TTL, when set, is a lifetime in seconds from CreatedAt; expired memories
// are hidden from selection until a sweep removes them.
type Memory struct {
	ID         string     `json:"id"`
	Kind       MemoryKind `json:"kind"`
	Topic      string     `json:"topic"`
	Text       string     `json:"text"`
	Snippet    *Snippet   `json:"snippet,omitempty"`
	Entities   []string   `json:"entities"`
	Provenance []string   `json:"provenance"`
	CreatedAt  time.Time  `json:"created_at"`
	TTL        *int64     `json:"ttl"`
	TopicID    string     `json:"topic_id,omitempty"`
}

// Validate checks the memory's required fields and identifier shapes.
func (m *Memory) Validate() error {
	if !ValidIDWithPrefix(m.ID, PrefixMemory) {
		return fmt.Errorf("malformed memory id %q", m.ID)
	}
	if !ValidMemoryKind(m.Kind) {
		return fmt.Errorf("unknown memory kind %q", m.Kind)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("text must be non-empty")
	}
	if len(m.Provenance) == 0 {
		return fmt.Errorf("provenance must be non-empty")
	}
	for _, turnID := range m.Provenance {
		if !ValidIDWithPrefix(turnID, PrefixTurn) {
			return fmt.Errorf("malformed provenance turn id %q", turnID)
		}
	}
	return nil
}

// ExpiresAt returns the expiry instant, or the zero time when the memory has no TTL.
func (m *Memory) ExpiresAt() time.Time {
	if m.TTL == nil {
		return time.Time{}
	}
	return m.CreatedAt.Add(time.Duration(*m.TTL) * time.Second)
}

// Expired reports whether the memory's TTL has elapsed at the given instant.
func (m *Memory) Expired(now time.Time) bool {
	if m.TTL == nil {
		return false
	}
	return now.After(m.ExpiresAt())
}

// NormalizeMemoryText lowercases text and collapses runs of whitespace.
// Extraction dedup and the storage idempotence key are both defined over
// this normal form.
func NormalizeMemoryText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// TopicSummary aggregates memories sharing one topic label.
type TopicSummary struct {
	Topic        string    `json:"topic"`
	MemoryCount  int       `json:"memory_count"`
	LastMemoryAt time.Time `json:"last_memory_at"`
}
