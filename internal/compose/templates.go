package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/pkg/types"
)

// upToDateMarker is the preamble of a zero-delta capsule.
const upToDateMarker = "Up to date."

// deltaFraming prefixes a capsule that renders only what changed since the
// prior capsule on the thread.
const deltaFraming = "Context update (changes since last capsule):"

// Renderer turns a selected memory set into preamble text in one of the
// three styles.
type Renderer struct{}

// NewRenderer creates a template renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the preamble for the style. The delta flag switches to the
// update framing.
func (r *Renderer) Render(style types.ContextStyle, topic string, memories []*types.Memory, delta bool) string {
	var body string
	switch style {
	case types.StyleShort:
		body = r.renderShort(topic, memories)
	case types.StyleDetailed:
		body = r.renderDetailed(topic, memories)
	default:
		body = r.renderStandard(topic, memories)
	}
	if delta {
		return deltaFraming + "\n" + body
	}
	return body
}

// renderShort targets 50-100 tokens: one-line framing plus a tight bullet
// list, no snippets.
func (r *Renderer) renderShort(topic string, memories []*types.Memory) string {
	parts := []string{"Context: " + topic}

	var gists []string
	for i, m := range memories {
		if i >= 3 {
			break
		}
		gists = append(gists, gist(m))
	}
	if len(gists) > 0 {
		parts = append(parts, "Last: "+strings.Join(gists, ", "))
	}
	return strings.Join(parts, ". ")
}

// renderStandard targets around 220 tokens: multi-line framing, memories
// grouped loosely, short snippets inlined.
func (r *Renderer) renderStandard(topic string, memories []*types.Memory) string {
	lines := []string{
		"Context (continue without re-explaining):",
		"- Project/Topic: " + topic,
	}

	var recent []string
	for i, m := range memories {
		if i >= 2 {
			break
		}
		recent = append(recent, fmt.Sprintf("%s (%s)", gist(m), relativeTime(m.CreatedAt)))
	}
	if len(recent) > 0 {
		lines = append(lines, "- Recent: "+strings.Join(recent, "; "))
	}

	for _, m := range memories {
		if m.Snippet == nil {
			continue
		}
		snippetLines := strings.Split(m.Snippet.Text, "\n")
		if len(snippetLines) > 3 {
			snippetLines = snippetLines[:3]
		}
		lines = append(lines, "- Snip: \""+strings.Join(snippetLines, "\n")+"\"")
		if m.Snippet.Loc != "" {
			lines = append(lines, fmt.Sprintf("  (%s %s)", m.Snippet.Title, m.Snippet.Loc))
		}
		break
	}

	lines = append(lines, "Instructions: Use the context to answer. Don't restate it. Ask one concise follow-up if a key detail is missing.")
	return strings.Join(lines, "\n")
}

// renderDetailed targets up to 500 tokens: memories grouped by kind,
// snippets up to eight lines, entities enumerated.
func (r *Renderer) renderDetailed(topic string, memories []*types.Memory) string {
	lines := []string{
		"# Context Summary",
		"",
		"## Project: " + topic,
	}

	byKind := map[types.MemoryKind][]*types.Memory{}
	for _, m := range memories {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}

	sections := []struct {
		kind    types.MemoryKind
		heading string
		cap     int
	}{
		{types.KindDecision, "### Decisions:", 3},
		{types.KindFact, "### Facts:", 5},
		{types.KindTask, "### Tasks:", 3},
	}
	for _, section := range sections {
		group := byKind[section.kind]
		if len(group) == 0 {
			continue
		}
		lines = append(lines, "", section.heading)
		for i, m := range group {
			if i >= section.cap {
				break
			}
			lines = append(lines, "- "+m.Text)
		}
	}

	if snippets := byKind[types.KindSnippet]; len(snippets) > 0 {
		lines = append(lines, "", "### Code Snippets:")
		for i, m := range snippets {
			if i >= 2 || m.Snippet == nil {
				break
			}
			lines = append(lines, "", "#### "+m.Snippet.Title)
			if m.Snippet.Loc != "" {
				lines = append(lines, "Location: "+m.Snippet.Loc)
			}
			snippetLines := strings.Split(m.Snippet.Text, "\n")
			if len(snippetLines) > 8 {
				snippetLines = snippetLines[:8]
			}
			lines = append(lines, "```", strings.Join(snippetLines, "\n"), "```")
		}
	}

	if entities := collectEntities(memories); len(entities) > 0 {
		lines = append(lines, "", "### Entities: "+strings.Join(entities, ", "))
	}

	lines = append(lines, "", "## Instructions:",
		"Use this context to inform your responses. Reference specific details when relevant. If critical information is missing, ask clarifying questions before proceeding.")
	return strings.Join(lines, "\n")
}

// gist produces a one-line summary of a memory: the text itself when short,
// the truncated first sentence otherwise.
func gist(m *types.Memory) string {
	text := m.Text
	if len(text) <= 50 {
		return text
	}
	first, _, _ := strings.Cut(text, ".")
	if len(first) > 50 {
		first = first[:50]
	}
	return strings.TrimSpace(first) + "..."
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/(24*7)))
	}
}

func collectEntities(memories []*types.Memory) []string {
	seen := map[string]bool{}
	var entities []string
	for _, m := range memories {
		for _, ent := range m.Entities {
			if !seen[ent] {
				seen[ent] = true
				entities = append(entities, ent)
			}
		}
	}
	if len(entities) > 12 {
		entities = entities[:12]
	}
	return entities
}
