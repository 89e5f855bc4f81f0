// Package extract distills durable memories from raw conversation turns.
// The heuristic extractor is always available and deterministic; an optional
// LLM pass can augment it depending on the configured strategy.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/memlayer/pkg/types"
)

// ConfidenceThreshold is the minimum confidence for a candidate to be kept.
const ConfidenceThreshold = 0.7

// Task TTLs in seconds, by urgency.
const (
	urgentTaskTTL = int64(86400 * 2)
	normalTaskTTL = int64(86400 * 7)
)

// Candidate is an extracted memory with its confidence score.
type Candidate struct {
	Memory     *types.Memory
	Confidence float64
}

// Confident reports whether the candidate clears the confidence filter.
func (c Candidate) Confident() bool {
	return c.Confidence >= ConfidenceThreshold
}

var (
	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(decided|chose|selected|picked|opted)\s+to\b`),
		regexp.MustCompile(`(?i)\b(will|going to|plan to|planning to)\s+(?:use|adopt|implement|switch to|move to)\b`),
		regexp.MustCompile(`(?i)\b(switching|moving|migrating|adopting)\s+(?:from|to)\b`),
		regexp.MustCompile(`(?i)\b(because|since|as|reason|rationale|why).*\b(decided|chose|using|adopted)\b`),
	}

	taskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK|XXX|NOTE)\s*[:\-]?\s*(.+)`),
		regexp.MustCompile(`(?i)\b(need to|must|should|have to|got to)\s+([a-z].+)`),
		regexp.MustCompile(`(?i)\b(remember to|don't forget to|action item)\s*[:\-]?\s*(.+)`),
		regexp.MustCompile(`(?i)\b(next step|next up|upcoming).*[:\-]\s*(.+)`),
	}

	factPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\w+)\s+(?:is|means|refers to|defined as)\s+(.+)`),
		regexp.MustCompile(`(?i)(\w+)\s*[=:]\s*([^\n]+)`),
		regexp.MustCompile(`(?i)\b(uses|requires|depends on|built with)\s+(.+)`),
	}

	fileRefPattern   = regexp.MustCompile(`([a-zA-Z0-9_\-./]+\.[a-z]+):(\d+)(?:-(\d+))?`)
	backtickPattern  = regexp.MustCompile("`([a-zA-Z0-9_:.<>]+(?:\\([^)]*\\))?)`")
	reasoningPattern = regexp.MustCompile(`(?i)\b(because|since|due to)\b`)
	urgencyPattern   = regexp.MustCompile(`(?i)\b(urgent|critical|blocking|asap|high priority|immediately|blocker)\b`)
)

var technicalTerms = []string{
	"api", "function", "class", "method", "library", "framework",
	"database", "sql", "endpoint", "service", "module", "package",
	"interface", "struct", "type", "trait", "impl", "enum",
}

var topicTerms = []string{
	"rust", "python", "javascript", "typescript", "go", "java",
	"api", "database", "auth", "frontend", "backend", "testing",
	"deployment", "docker", "kubernetes", "ci/cd",
}

var commonWords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"Here": true, "There": true, "When": true, "Where": true, "What": true,
	"Which": true, "How": true, "Why": true, "Who": true, "But": true,
	"And": true, "Or": true, "Not": true, "If": true, "Then": true, "So": true,
}

var languageByExt = map[string]string{
	"rs": "rust", "py": "python", "js": "javascript", "ts": "typescript",
	"tsx": "typescript", "jsx": "javascript", "go": "go", "java": "java",
	"swift": "swift", "kt": "kotlin", "cpp": "cpp", "cc": "cpp", "cxx": "cpp",
	"c": "c", "h": "c", "hpp": "cpp", "sh": "bash", "json": "json",
	"yaml": "yaml", "yml": "yaml", "toml": "toml", "md": "markdown",
	"html": "html", "css": "css", "sql": "sql",
}

// HeuristicExtractor extracts memory candidates using pattern families for
// decisions, tasks, facts and code references.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a heuristic extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract scans the turn and returns all candidates with confidence scores.
// The caller applies the confidence filter and deduplication.
func (e *HeuristicExtractor) Extract(turn *types.Turn) []Candidate {
	var candidates []Candidate

	// Fast path: unambiguous code artifacts.
	candidates = append(candidates, e.extractCodeBlocks(turn)...)
	candidates = append(candidates, e.extractFileReferences(turn)...)

	if decision := e.extractDecision(turn); decision != nil {
		candidates = append(candidates, *decision)
	}
	candidates = append(candidates, e.extractTasks(turn)...)
	candidates = append(candidates, e.extractFacts(turn)...)

	return candidates
}

// extractDecision finds the first decision trigger and windows a context
// around it. Confidence starts at 0.7, boosted by reasoning markers,
// detected entities and technical vocabulary.
func (e *HeuristicExtractor) extractDecision(turn *types.Turn) *Candidate {
	text := turn.UserText
	for _, pattern := range decisionPatterns {
		loc := pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		context := contextAround(text, loc[0], 200)

		confidence := 0.7
		if reasoningPattern.MatchString(text) {
			confidence += 0.15
		}
		entities := extractEntities(text)
		if len(entities) > 0 {
			confidence += 0.10
		}
		if hasTechnicalTerms(strings.ToLower(text)) {
			confidence += 0.05
		}

		return &Candidate{
			Memory: &types.Memory{
				ID:         types.NewMemoryID(),
				Kind:       types.KindDecision,
				Topic:      inferTopic(turn),
				Text:       context,
				Entities:   entities,
				Provenance: []string{turn.ID},
				CreatedAt:  time.Now().UTC(),
			},
			Confidence: clampConfidence(confidence),
		}
	}
	return nil
}

// extractTasks finds task triggers. Explicit TODO-family markers score 0.9,
// softer phrasings 0.75; urgency adds 0.20 and shortens the TTL.
func (e *HeuristicExtractor) extractTasks(turn *types.Turn) []Candidate {
	var tasks []Candidate
	text := turn.UserText

	for _, pattern := range taskPatterns {
		for _, match := range pattern.FindAllStringSubmatchIndex(text, -1) {
			body := submatch(text, match, 2)
			if strings.TrimSpace(body) == "" {
				continue
			}
			context := contextAround(text, match[0], 150)

			marker := submatch(text, match, 1)
			confidence := 0.75
			if strings.EqualFold(marker, "todo") {
				confidence = 0.9
			}

			urgent := urgencyPattern.MatchString(context)
			if urgent {
				confidence += 0.20
			}
			ttl := normalTaskTTL
			if urgent {
				ttl = urgentTaskTTL
			}

			tasks = append(tasks, Candidate{
				Memory: &types.Memory{
					ID:         types.NewMemoryID(),
					Kind:       types.KindTask,
					Topic:      inferTopic(turn),
					Text:       context,
					Entities:   extractEntities(context),
					Provenance: []string{turn.ID},
					CreatedAt:  time.Now().UTC(),
					TTL:        &ttl,
				},
				Confidence: clampConfidence(confidence),
			})
		}
	}
	return tasks
}

// extractFacts matches key-value pairs and definitional forms. File
// references are masked out first so a path:line mention never doubles as a
// key-value fact.
func (e *HeuristicExtractor) extractFacts(turn *types.Turn) []Candidate {
	var facts []Candidate
	text := maskFileReferences(turn.UserText)

	for _, pattern := range factPatterns {
		for _, match := range pattern.FindAllStringSubmatchIndex(text, -1) {
			key := strings.TrimSpace(submatch(text, match, 1))
			value := strings.TrimSpace(submatch(text, match, 2))
			if key == "" || value == "" {
				continue
			}
			if isLikelyFalsePositive(key, value) {
				continue
			}

			factText := key + ": " + value
			confidence := 0.6
			if hasTechnicalTerms(strings.ToLower(factText)) {
				confidence += 0.2
			}
			if strings.Contains(text, "defined as") || strings.Contains(text, "means") {
				confidence += 0.15
			}

			facts = append(facts, Candidate{
				Memory: &types.Memory{
					ID:         types.NewMemoryID(),
					Kind:       types.KindFact,
					Topic:      inferTopic(turn),
					Text:       factText,
					Entities:   []string{key},
					Provenance: []string{turn.ID},
					CreatedAt:  time.Now().UTC(),
				},
				Confidence: clampConfidence(confidence),
			})
		}
	}
	return facts
}

// extractCodeBlocks turns fenced code blocks into snippet memories with
// language detection from the fence info string.
func (e *HeuristicExtractor) extractCodeBlocks(turn *types.Turn) []Candidate {
	text := turn.UserText
	if !strings.Contains(text, "```") {
		return nil
	}

	var snippets []Candidate
	blocks := strings.Split(text, "```")
	for i, block := range blocks {
		if i%2 == 0 {
			continue
		}
		lines := strings.Split(block, "\n")
		language := ""
		code := block
		if len(lines) > 0 {
			first := strings.TrimSpace(lines[0])
			if first != "" && isAlphanumeric(first) {
				language = first
				code = strings.Join(lines[1:], "\n")
			}
		}

		snippets = append(snippets, Candidate{
			Memory: &types.Memory{
				ID:    types.NewMemoryID(),
				Kind:  types.KindSnippet,
				Topic: inferTopic(turn),
				Text:  "Code snippet",
				Snippet: &types.Snippet{
					Title:    "Snippet from " + string(turn.Source.App),
					Text:     code,
					Language: language,
				},
				Entities:   extractEntities(text),
				Provenance: []string{turn.ID},
				CreatedAt:  time.Now().UTC(),
			},
			Confidence: 0.95,
		})
	}
	return snippets
}

// extractFileReferences turns path:line mentions into snippet memories with
// the location preserved as "L<start>" or "L<start>-L<end>".
func (e *HeuristicExtractor) extractFileReferences(turn *types.Turn) []Candidate {
	var snippets []Candidate
	text := turn.UserText

	for _, match := range fileRefPattern.FindAllStringSubmatchIndex(text, -1) {
		file := submatch(text, match, 1)
		start := submatch(text, match, 2)
		end := submatch(text, match, 3)

		loc := "L" + start
		if end != "" {
			loc = "L" + start + "-L" + end
		}
		context := contextAround(text, match[0], 100)

		snippets = append(snippets, Candidate{
			Memory: &types.Memory{
				ID:    types.NewMemoryID(),
				Kind:  types.KindSnippet,
				Topic: inferTopic(turn),
				Text:  "Reference to " + file,
				Snippet: &types.Snippet{
					Title:    file,
					Text:     context,
					Loc:      loc,
					Language: detectLanguage(file),
				},
				Entities:   []string{file},
				Provenance: []string{turn.ID},
				CreatedAt:  time.Now().UTC(),
			},
			Confidence: 0.9,
		})
	}
	return snippets
}

// contextAround windows up to radius bytes either side of position, snapped
// outward-in to sentence boundaries.
func contextAround(text string, position, radius int) string {
	start := position - radius
	if start < 0 {
		start = 0
	}
	end := position + radius
	if end > len(text) {
		end = len(text)
	}

	before := text[start:position]
	after := text[position:end]

	if idx := strings.LastIndexAny(before, ".!?"); idx >= 0 {
		start += idx + 1
	}
	if idx := strings.IndexAny(after, ".!?"); idx >= 0 {
		end = position + idx + 1
	}
	return strings.TrimSpace(text[start:end])
}

// extractEntities collects capitalized words and backticked identifiers,
// sorted and deduplicated.
func extractEntities(text string) []string {
	seen := map[string]bool{}
	var entities []string

	for _, word := range strings.Fields(text) {
		if len(word) <= 2 {
			continue
		}
		r := rune(word[0])
		if r < 'A' || r > 'Z' {
			continue
		}
		clean := strings.TrimFunc(word, func(r rune) bool {
			return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
		})
		if clean == "" || commonWords[clean] || seen[clean] {
			continue
		}
		seen[clean] = true
		entities = append(entities, clean)
	}

	for _, match := range backtickPattern.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			entities = append(entities, match[1])
		}
	}

	sort.Strings(entities)
	return entities
}

// inferTopic derives the topic label: source path basename, then URL host,
// then the first known technical term in the text, then the source app.
func inferTopic(turn *types.Turn) string {
	if turn.Source.Path != "" {
		parts := strings.Split(turn.Source.Path, "/")
		if last := parts[len(parts)-1]; last != "" {
			return last
		}
	}
	if turn.Source.URL != "" {
		if _, rest, ok := strings.Cut(turn.Source.URL, "://"); ok {
			if host, _, _ := strings.Cut(rest, "/"); host != "" {
				return host
			}
		}
	}
	lower := strings.ToLower(turn.UserText)
	for _, term := range topicTerms {
		if strings.Contains(lower, term) {
			return term
		}
	}
	return string(turn.Source.App)
}

func hasTechnicalTerms(lower string) bool {
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func isLikelyFalsePositive(key, value string) bool {
	if len(key) < 2 || len(value) < 3 {
		return true
	}
	lowerKey := strings.ToLower(key)
	if strings.HasPrefix(lowerKey, "this") ||
		strings.HasPrefix(lowerKey, "that") ||
		strings.HasPrefix(lowerKey, "it") {
		return true
	}
	return strings.Contains(value, "?")
}

// maskFileReferences blanks path:line spans so the fact patterns do not
// reinterpret them as key-value pairs.
func maskFileReferences(text string) string {
	return fileRefPattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

func detectLanguage(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return languageByExt[filename[idx+1:]]
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// submatch returns the capture group text from FindAllStringSubmatchIndex
// output, or "" when the group did not participate.
func submatch(text string, match []int, group int) string {
	if 2*group+1 >= len(match) {
		return ""
	}
	lo, hi := match[2*group], match[2*group+1]
	if lo < 0 {
		return ""
	}
	return text[lo:hi]
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
