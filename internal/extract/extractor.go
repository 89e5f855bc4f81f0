package extract

import (
	"context"
	"log"

	"github.com/scrypster/memlayer/pkg/types"
)

// Strategy selects how the heuristic and LLM extractors cooperate.
type Strategy int

const (
	// HeuristicOnly never calls the LLM.
	HeuristicOnly Strategy = iota
	// LLMWithFallback calls the LLM and falls back to heuristics on any error.
	LLMWithFallback
	// Hybrid always runs heuristics and additionally calls the LLM when the
	// turn clears a complexity threshold, merging by normalized text.
	Hybrid
)

// ParseStrategy maps a configuration string to a Strategy. Unknown values
// fall back to HeuristicOnly.
func ParseStrategy(s string) Strategy {
	switch s {
	case "llm_fallback", "llm-with-fallback":
		return LLMWithFallback
	case "hybrid":
		return Hybrid
	default:
		return HeuristicOnly
	}
}

// hybridLengthThreshold gates the LLM pass in Hybrid mode.
const hybridLengthThreshold = 512

// Extractor runs the configured extraction pipeline over turns.
type Extractor struct {
	heuristic *HeuristicExtractor
	llm       *LLMExtractor
	strategy  Strategy
}

// NewExtractor creates an extractor. llmExtractor may be nil, which forces
// HeuristicOnly regardless of the requested strategy.
func NewExtractor(strategy Strategy, llmExtractor *LLMExtractor) *Extractor {
	if llmExtractor == nil {
		strategy = HeuristicOnly
	}
	return &Extractor{
		heuristic: NewHeuristicExtractor(),
		llm:       llmExtractor,
		strategy:  strategy,
	}
}

// Extract produces the final memory set for a turn: strategy dispatch,
// confidence filter, then per-turn deduplication on normalized text.
func (e *Extractor) Extract(ctx context.Context, turn *types.Turn) []*types.Memory {
	var candidates []Candidate

	switch e.strategy {
	case LLMWithFallback:
		fromLLM, err := e.llm.Extract(ctx, turn)
		if err != nil {
			log.Printf("extract: llm failed, falling back to heuristics: %v", err)
			candidates = e.heuristic.Extract(turn)
		} else {
			candidates = fromLLM
		}
	case Hybrid:
		candidates = e.heuristic.Extract(turn)
		if e.isComplex(turn, candidates) {
			fromLLM, err := e.llm.Extract(ctx, turn)
			if err != nil {
				log.Printf("extract: llm pass skipped: %v", err)
			} else {
				candidates = append(candidates, fromLLM...)
			}
		}
	default:
		candidates = e.heuristic.Extract(turn)
	}

	return finalize(candidates)
}

// isComplex reports whether a turn warrants the extra LLM pass: long text or
// heuristic hits across multiple kinds.
func (e *Extractor) isComplex(turn *types.Turn, heuristic []Candidate) bool {
	if len(turn.UserText) >= hybridLengthThreshold {
		return true
	}
	kinds := map[types.MemoryKind]bool{}
	for _, c := range heuristic {
		kinds[c.Memory.Kind] = true
	}
	return len(kinds) >= 2
}

// finalize applies the confidence filter and collapses candidates sharing a
// normalized text, keeping the highest confidence.
func finalize(candidates []Candidate) []*types.Memory {
	best := map[string]Candidate{}
	var order []string

	for _, c := range candidates {
		if !c.Confident() {
			continue
		}
		key := string(c.Memory.Kind) + "\x00" + types.NormalizeMemoryText(c.Memory.Text)
		prev, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = c
		} else if c.Confidence > prev.Confidence {
			best[key] = c
		}
	}

	memories := make([]*types.Memory, 0, len(order))
	for _, key := range order {
		memories = append(memories, best[key].Memory)
	}
	return memories
}
