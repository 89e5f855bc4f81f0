// Package types defines the canonical in-memory schema shared by the three
// memory-layer services: conversation turns, distilled memories, agentic
// records, links, context capsules, and the optional organizational hierarchy.
// All cross-entity relations are by identifier; nothing here holds pointers
// into other entities.
package types

import (
	"fmt"
	"strings"
	"time"
)

// SourceApp identifies the client surface a turn originated from.
// The set is closed; anything unrecognized maps to SourceOther.
type SourceApp string

// Known source applications.
const (
	SourceClaude   SourceApp = "Claude"
	SourceChatGPT  SourceApp = "ChatGPT"
	SourceVSCode   SourceApp = "VSCode"
	SourceMail     SourceApp = "Mail"
	SourceNotes    SourceApp = "Notes"
	SourceTerminal SourceApp = "Terminal"
	SourceOther    SourceApp = "Other"
)

// ValidSourceApp reports whether app is a member of the closed source set.
func ValidSourceApp(app SourceApp) bool {
	switch app {
	case SourceClaude, SourceChatGPT, SourceVSCode, SourceMail, SourceNotes, SourceTerminal, SourceOther:
		return true
	}
	return false
}

// TurnSource describes where a turn was captured.
type TurnSource struct {
	App  SourceApp `json:"app"`
	URL  string    `json:"url,omitempty"`
	Path string    `json:"path,omitempty"`
}

// Turn is one immutable conversational event in the append-only log:
// a user utterance, optionally paired with the assistant's reply.
// Once written a turn is never mutated; memories reference it through
// their provenance lists.
type Turn struct {
	ID       string     `json:"id"`
	ThreadID string     `json:"thread_id"`
	TSUser   time.Time  `json:"ts_user"`
	UserText string     `json:"user_text"`
	TSAI     *time.Time `json:"ts_ai,omitempty"`
	AIText   string     `json:"ai_text,omitempty"`
	Source   TurnSource `json:"source"`
}

// Validate checks the turn's required fields and identifier shapes.
// The ID may be empty (the server assigns one); when present it must be a
// well-formed turn identifier.
func (t *Turn) Validate() error {
	if t.ID != "" && !ValidIDWithPrefix(t.ID, PrefixTurn) {
		return fmt.Errorf("malformed turn id %q", t.ID)
	}
	if t.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if strings.TrimSpace(t.UserText) == "" {
		return fmt.Errorf("user_text must be non-empty")
	}
	if t.TSUser.IsZero() {
		return fmt.Errorf("ts_user is required")
	}
	if !ValidSourceApp(t.Source.App) {
		return fmt.Errorf("unknown source app %q", t.Source.App)
	}
	return nil
}
