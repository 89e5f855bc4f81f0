package types

import (
	"fmt"
	"time"
)

// ContextStyle selects the capsule rendering template.
type ContextStyle string

// Capsule styles, auto-selected from the token budget.
const (
	StyleShort    ContextStyle = "short"
	StyleStandard ContextStyle = "standard"
	StyleDetailed ContextStyle = "detailed"
)

// StyleForBudget maps a token budget to a rendering style:
// under 120 tokens short, 120-350 standard, above 350 detailed.
func StyleForBudget(budgetTokens int) ContextStyle {
	switch {
	case budgetTokens < 120:
		return StyleShort
	case budgetTokens <= 350:
		return StyleStandard
	default:
		return StyleDetailed
	}
}

// MessageRole tags a capsule message.
type MessageRole string

// Message roles.
const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in a capsule's message list.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ProvenanceType tags a capsule provenance reference.
type ProvenanceType string

// Provenance reference types.
const (
	ProvenanceMemory ProvenanceType = "memory"
	ProvenanceTurn   ProvenanceType = "turn"
)

// ProvenanceItem points from a capsule back at the records it was built from.
type ProvenanceItem struct {
	Type ProvenanceType `json:"type"`
	Ref  string         `json:"ref"`
	When *time.Time     `json:"when,omitempty"`
}

// DefaultCapsuleTTLSec is the capsule cache lifetime in seconds.
const DefaultCapsuleTTLSec = 600

// ContextCapsule is a short-lived, token-budgeted preamble rendered from
// selected memories. Capsules live only in the composer's per-thread cache;
// they are never persisted.
type ContextCapsule struct {
	CapsuleID    string           `json:"capsule_id"`
	PreambleText string           `json:"preamble_text"`
	Messages     []Message        `json:"messages"`
	Provenance   []ProvenanceItem `json:"provenance"`
	DeltaOf      string           `json:"delta_of,omitempty"`
	TTLSec       int              `json:"ttl_sec"`
	TokenCount   int              `json:"token_count"`
	Style        ContextStyle     `json:"style,omitempty"`
}

// Scope selects which provenance kinds a context request permits.
type Scope string

// Known scopes.
const (
	ScopeAssistant Scope = "assistant"
	ScopeFile      Scope = "file"
	ScopePage      Scope = "page"
	ScopeTerminal  Scope = "terminal"
	ScopeMemory    Scope = "memory"
)

// ValidScope reports whether s is a member of the closed scope set.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeAssistant, ScopeFile, ScopePage, ScopeTerminal, ScopeMemory:
		return true
	}
	return false
}

// Token budget bounds for context requests.
const (
	MinBudgetTokens     = 50
	MaxBudgetTokens     = 4000
	DefaultBudgetTokens = 220
)

// ContextRequest asks the composer for a capsule.
type ContextRequest struct {
	TopicHint     string  `json:"topic_hint,omitempty"`
	Intent        string  `json:"intent,omitempty"`
	BudgetTokens  int     `json:"budget_tokens"`
	Scopes        []Scope `json:"scopes"`
	ThreadKey     string  `json:"thread_key,omitempty"`
	LastCapsuleID string  `json:"last_capsule_id,omitempty"`
}

// Normalize applies the budget default and clamps it to [MinBudgetTokens, MaxBudgetTokens].
func (r *ContextRequest) Normalize() {
	if r.BudgetTokens == 0 {
		r.BudgetTokens = DefaultBudgetTokens
	}
	if r.BudgetTokens < MinBudgetTokens {
		r.BudgetTokens = MinBudgetTokens
	}
	if r.BudgetTokens > MaxBudgetTokens {
		r.BudgetTokens = MaxBudgetTokens
	}
}

// Validate checks scope membership and identifier shapes.
func (r *ContextRequest) Validate() error {
	for _, s := range r.Scopes {
		if !ValidScope(s) {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	if r.LastCapsuleID != "" && !ValidIDWithPrefix(r.LastCapsuleID, PrefixCapsule) {
		return fmt.Errorf("malformed capsule id %q", r.LastCapsuleID)
	}
	return nil
}

// UndoRequest names a capsule to drop from the thread cache.
type UndoRequest struct {
	CapsuleID string `json:"capsule_id"`
	ThreadKey string `json:"thread_key"`
}

// UndoResponse reports the outcome of an undo. Undo is idempotent: unknown
// or expired capsules yield Success=false with HTTP 200, never an error.
type UndoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
