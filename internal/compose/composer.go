// Package compose renders token-budgeted context capsules from selected
// memories, with per-thread delta computation and an undo-able capsule
// cache.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// overRetrieveFactor is how far selection over-fetches before filtering and
// the greedy budget pass.
const overRetrieveFactor = 3

// threadTailLen is how much of the last turn's text feeds the search query.
const threadTailLen = 200

// maxTopicLen bounds how much of the topic hint the framing embeds, so a
// runaway hint cannot blow the token budget on its own.
const maxTopicLen = 120

// Searcher is the retrieval surface the composer drives.
type Searcher interface {
	Search(ctx context.Context, query string, filters storage.SearchFilters, limit int) ([]storage.ScoredMemory, error)
}

// ComposerStore is the storage surface the composer needs.
type ComposerStore interface {
	storage.MemoryStore
	storage.TurnStore
}

// Composer builds context capsules.
type Composer struct {
	store    ComposerStore
	searcher Searcher
	renderer *Renderer
	cache    *ThreadCache
	ttl      time.Duration
}

// NewComposer creates a composer. cacheThreads and ttlSec <= 0 fall back to
// the default thread capacity and capsule lifetime.
func NewComposer(store ComposerStore, searcher Searcher, cacheThreads, ttlSec int) *Composer {
	if ttlSec <= 0 {
		ttlSec = types.DefaultCapsuleTTLSec
	}
	return &Composer{
		store:    store,
		searcher: searcher,
		renderer: NewRenderer(),
		cache:    NewThreadCache(cacheThreads),
		ttl:      time.Duration(ttlSec) * time.Second,
	}
}

// Compose builds a capsule for the request. The token budget is a hard
// ceiling on the estimated token count of the result.
func (c *Composer) Compose(ctx context.Context, req *types.ContextRequest) (*types.ContextCapsule, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	if req.ThreadKey != "" {
		unlock := c.cache.Lock(req.ThreadKey)
		defer unlock()
	}

	style := types.StyleForBudget(req.BudgetTokens)
	target := targetCount(style)

	selected, err := c.selectMemories(ctx, req, target)
	if err != nil {
		return nil, err
	}

	topic := req.TopicHint
	if topic == "" {
		topic = "General"
	}
	if len(topic) > maxTopicLen {
		topic = strings.TrimSpace(topic[:maxTopicLen])
	}

	newSet := map[string]bool{}
	for _, m := range selected {
		newSet[m.ID] = true
	}

	// Delta path: compare against the referenced prior capsule when it is
	// still cached for this thread.
	delta := false
	deltaOf := ""
	if req.LastCapsuleID != "" && req.ThreadKey != "" {
		if oldSet, ok := c.cache.Get(req.ThreadKey, req.LastCapsuleID); ok {
			deltaOf = req.LastCapsuleID
			if setsEqual(newSet, oldSet) {
				return c.upToDateCapsule(req, style, newSet), nil
			}
			delta = true
			selected = subtractSet(selected, oldSet)
		}
	}

	preamble, selected := c.renderWithinBudget(style, topic, selected, req.BudgetTokens, delta)

	capsule := &types.ContextCapsule{
		CapsuleID:    types.NewCapsuleID(),
		PreambleText: preamble,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: preamble},
		},
		Provenance: provenanceFor(selected),
		DeltaOf:    deltaOf,
		TTLSec:     int(c.ttl / time.Second),
		TokenCount: EstimateTokens(preamble),
		Style:      style,
	}

	if req.ThreadKey != "" {
		c.cache.Put(req.ThreadKey, capsule.CapsuleID, newSet, c.ttl)
	}
	return capsule, nil
}

// Undo removes a capsule from the thread cache. It is idempotent: an
// unknown or expired capsule is reported, not an error.
func (c *Composer) Undo(req *types.UndoRequest) *types.UndoResponse {
	if req.CapsuleID == "" {
		return &types.UndoResponse{Success: false, Message: "unknown or expired"}
	}
	if c.cache.Remove(req.ThreadKey, req.CapsuleID) {
		return &types.UndoResponse{Success: true}
	}
	return &types.UndoResponse{Success: false, Message: "unknown or expired"}
}

// selectMemories retrieves candidates (hybrid search when a query can be
// built, recency otherwise), applies the scope filter, then greedily packs
// the budget in decreasing score order.
func (c *Composer) selectMemories(ctx context.Context, req *types.ContextRequest, target int) ([]*types.Memory, error) {
	query := c.buildQuery(ctx, req)
	fetch := target * overRetrieveFactor

	var candidates []storage.ScoredMemory
	var err error
	if query != "" {
		candidates, err = c.searcher.Search(ctx, query, storage.SearchFilters{}, fetch)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		recent, err := c.store.RecentMemories(ctx, fetch)
		if err != nil {
			return nil, err
		}
		for _, m := range recent {
			candidates = append(candidates, storage.ScoredMemory{Memory: m})
		}
	}

	avail := selectionBudget(req.BudgetTokens)
	used := 0
	var selected []*types.Memory
	for i := range candidates {
		if len(selected) >= target {
			break
		}
		mem := candidates[i].Memory
		if !c.inScope(ctx, &mem, req.Scopes) {
			continue
		}
		cost := memoryCost(&mem)
		if used+cost > avail && len(selected) > 0 {
			continue
		}
		selected = append(selected, &mem)
		used += cost
	}
	return selected, nil
}

// buildQuery joins the topic hint, the intent, and the tail of the thread's
// last turn.
func (c *Composer) buildQuery(ctx context.Context, req *types.ContextRequest) string {
	parts := []string{}
	if req.TopicHint != "" {
		parts = append(parts, req.TopicHint)
	}
	if req.Intent != "" {
		parts = append(parts, req.Intent)
	}
	if req.ThreadKey != "" {
		if turn, err := c.store.LastTurnForThread(ctx, req.ThreadKey); err == nil {
			tail := turn.UserText
			if len(tail) > threadTailLen {
				tail = tail[len(tail)-threadTailLen:]
			}
			parts = append(parts, tail)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return strings.Join(parts, " ")
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// inScope maps a memory's provenance source to a scope tag and checks it
// against the requested scopes. An empty scope list permits everything.
func (c *Composer) inScope(ctx context.Context, mem *types.Memory, scopes []types.Scope) bool {
	if len(scopes) == 0 {
		return true
	}
	tag := c.scopeOf(ctx, mem)
	for _, s := range scopes {
		if s == tag {
			return true
		}
	}
	return false
}

// scopeOf derives the scope tag from the memory's first provenance turn.
func (c *Composer) scopeOf(ctx context.Context, mem *types.Memory) types.Scope {
	if len(mem.Provenance) == 0 {
		return types.ScopeMemory
	}
	turn, err := c.store.GetTurn(ctx, mem.Provenance[0])
	if err != nil {
		return types.ScopeMemory
	}
	switch turn.Source.App {
	case types.SourceClaude, types.SourceChatGPT:
		return types.ScopeAssistant
	case types.SourceVSCode:
		return types.ScopeFile
	case types.SourceTerminal:
		return types.ScopeTerminal
	default:
		if turn.Source.URL != "" {
			return types.ScopePage
		}
		return types.ScopeMemory
	}
}

// renderWithinBudget renders the selection and, if the estimate overshoots
// the budget, sheds memories from the end until it fits. Framing alone can
// still overshoot a tiny budget; then the preamble itself is cut.
func (c *Composer) renderWithinBudget(style types.ContextStyle, topic string, selected []*types.Memory, budget int, delta bool) (string, []*types.Memory) {
	preamble := c.renderer.Render(style, topic, selected, delta)
	for EstimateTokens(preamble) > budget && len(selected) > 0 {
		selected = selected[:len(selected)-1]
		preamble = c.renderer.Render(style, topic, selected, delta)
	}
	if EstimateTokens(preamble) > budget {
		preamble = preamble[:budget*4]
	}
	return preamble, selected
}

// upToDateCapsule is returned when the new selection matches the cached one
// exactly: no messages, just the marker.
func (c *Composer) upToDateCapsule(req *types.ContextRequest, style types.ContextStyle, newSet map[string]bool) *types.ContextCapsule {
	capsule := &types.ContextCapsule{
		CapsuleID:    types.NewCapsuleID(),
		PreambleText: upToDateMarker,
		Messages:     []types.Message{},
		Provenance:   []types.ProvenanceItem{},
		DeltaOf:      req.LastCapsuleID,
		TTLSec:       int(c.ttl / time.Second),
		TokenCount:   EstimateTokens(upToDateMarker),
		Style:        style,
	}
	if req.ThreadKey != "" {
		c.cache.Put(req.ThreadKey, capsule.CapsuleID, newSet, c.ttl)
	}
	return capsule
}

func targetCount(style types.ContextStyle) int {
	switch style {
	case types.StyleShort:
		return 3
	case types.StyleDetailed:
		return 12
	default:
		return 7
	}
}

// memoryCost estimates the token contribution of a memory, including the
// first snippet lines a template may inline.
func memoryCost(m *types.Memory) int {
	cost := EstimateTokens(m.Text)
	if m.Snippet != nil {
		lines := strings.SplitN(m.Snippet.Text, "\n", 4)
		if len(lines) > 3 {
			lines = lines[:3]
		}
		cost += EstimateTokens(strings.Join(lines, "\n"))
	}
	return cost
}

func provenanceFor(selected []*types.Memory) []types.ProvenanceItem {
	items := make([]types.ProvenanceItem, 0, len(selected))
	for _, m := range selected {
		when := m.CreatedAt
		items = append(items, types.ProvenanceItem{
			Type: types.ProvenanceMemory,
			Ref:  m.ID,
			When: &when,
		})
	}
	return items
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func subtractSet(memories []*types.Memory, exclude map[string]bool) []*types.Memory {
	var kept []*types.Memory
	for _, m := range memories {
		if !exclude[m.ID] {
			kept = append(kept, m)
		}
	}
	return kept
}
