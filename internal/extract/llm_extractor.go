package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memlayer/internal/llm"
	"github.com/scrypster/memlayer/pkg/types"
)

const extractionPromptTemplate = `Extract structured memories from the following text. Identify:
1. DECISIONS - commitments or choices made (with reasoning)
2. TASKS - actionable items or TODOs (with priority context)
3. FACTS - important information, definitions, or key-value pairs
4. CODE REFERENCES - mentions of functions, classes, files, or code

Text:
%s

Respond with JSON only, in this shape:
{"memories": [{"kind": "decision|task|fact|snippet", "text": "...", "topic": "...", "entities": ["..."], "confidence": 0.0}]}`

// LLMExtractor extracts memories by prompting a text generation provider and
// parsing its JSON response.
type LLMExtractor struct {
	generator llm.TextGenerator
	timeout   time.Duration
}

// NewLLMExtractor creates an LLM extractor over the given generator.
func NewLLMExtractor(generator llm.TextGenerator, timeout time.Duration) *LLMExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMExtractor{generator: generator, timeout: timeout}
}

type llmExtractionResponse struct {
	Memories []llmExtractedMemory `json:"memories"`
}

type llmExtractedMemory struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text"`
	Topic      string   `json:"topic"`
	Entities   []string `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// Extract prompts the provider and parses candidates out of the response.
func (e *LLMExtractor) Extract(ctx context.Context, turn *types.Turn) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf(extractionPromptTemplate, turn.UserText)
	raw, err := e.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract: llm completion: %w", err)
	}
	return e.parse(raw, turn)
}

// parse decodes the model output. Models sometimes wrap JSON in prose or
// code fences, so the parser cuts to the outermost object first.
func (e *LLMExtractor) parse(raw string, turn *types.Turn) ([]Candidate, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("extract: no JSON object in llm response")
	}

	var resp llmExtractionResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("extract: parse llm response: %w", err)
	}

	candidates := make([]Candidate, 0, len(resp.Memories))
	for _, m := range resp.Memories {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		kind := types.MemoryKind(strings.ToLower(m.Kind))
		if !types.ValidMemoryKind(kind) {
			kind = types.KindFact
		}
		topic := m.Topic
		if topic == "" {
			topic = inferTopic(turn)
		}

		candidates = append(candidates, Candidate{
			Memory: &types.Memory{
				ID:         types.NewMemoryID(),
				Kind:       kind,
				Topic:      topic,
				Text:       text,
				Entities:   emptyIfNil(m.Entities),
				Provenance: []string{turn.ID},
				CreatedAt:  time.Now().UTC(),
			},
			Confidence: clampConfidence(m.Confidence),
		})
	}
	return candidates, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
