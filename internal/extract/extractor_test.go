package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memlayer/pkg/types"
)

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeGenerator) GetModel() string { return "fake" }

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, HeuristicOnly, ParseStrategy("heuristic"))
	assert.Equal(t, HeuristicOnly, ParseStrategy("nonsense"))
	assert.Equal(t, LLMWithFallback, ParseStrategy("llm_fallback"))
	assert.Equal(t, Hybrid, ParseStrategy("hybrid"))
}

func TestHeuristicOnlyStrategy(t *testing.T) {
	e := NewExtractor(HeuristicOnly, nil)
	memories := e.Extract(context.Background(), testTurn("Decided to use Rust because it is fast.", types.SourceClaude))
	require.NotEmpty(t, memories)
	assert.Equal(t, types.KindDecision, memories[0].Kind)
}

func TestLLMWithFallbackUsesLLMResult(t *testing.T) {
	gen := &fakeGenerator{response: `{"memories": [{"kind": "decision", "text": "Use Rust for the backend", "topic": "backend", "entities": ["Rust"], "confidence": 0.92}]}`}
	e := NewExtractor(LLMWithFallback, NewLLMExtractor(gen, 0))

	memories := e.Extract(context.Background(), testTurn("Decided to use Rust.", types.SourceClaude))
	require.Len(t, memories, 1)
	assert.Equal(t, "Use Rust for the backend", memories[0].Text)
	assert.Equal(t, "backend", memories[0].Topic)
	assert.Equal(t, 1, gen.calls)
}

func TestLLMWithFallbackFallsBackOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	e := NewExtractor(LLMWithFallback, NewLLMExtractor(gen, 0))

	memories := e.Extract(context.Background(), testTurn("Decided to use Rust because it is fast.", types.SourceClaude))
	require.NotEmpty(t, memories)
	assert.Equal(t, types.KindDecision, memories[0].Kind)
}

func TestHybridSkipsLLMForSimpleTurns(t *testing.T) {
	gen := &fakeGenerator{response: `{"memories": []}`}
	e := NewExtractor(Hybrid, NewLLMExtractor(gen, 0))

	e.Extract(context.Background(), testTurn("Decided to use Rust because it is fast.", types.SourceClaude))
	assert.Equal(t, 0, gen.calls)
}

func TestHybridCallsLLMForComplexTurns(t *testing.T) {
	gen := &fakeGenerator{response: `{"memories": [{"kind": "fact", "text": "deploys run nightly", "confidence": 0.85}]}`}
	e := NewExtractor(Hybrid, NewLLMExtractor(gen, 0))

	// Two trigger families: a decision and an explicit TODO.
	memories := e.Extract(context.Background(),
		testTurn("Decided to use Rust because it is fast. TODO: port the auth module", types.SourceClaude))
	assert.Equal(t, 1, gen.calls)

	var texts []string
	for _, m := range memories {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "deploys run nightly")
}

func TestUnknownLLMKindBecomesFact(t *testing.T) {
	gen := &fakeGenerator{response: `{"memories": [{"kind": "revelation", "text": "x is y", "confidence": 0.9}]}`}
	e := NewExtractor(LLMWithFallback, NewLLMExtractor(gen, 0))

	memories := e.Extract(context.Background(), testTurn("anything", types.SourceClaude))
	require.Len(t, memories, 1)
	assert.Equal(t, types.KindFact, memories[0].Kind)
}

func TestLLMResponseWrappedInProse(t *testing.T) {
	gen := &fakeGenerator{response: "Sure! Here you go:\n```json\n{\"memories\": [{\"kind\": \"task\", \"text\": \"rotate keys\", \"confidence\": 0.8}]}\n```"}
	e := NewExtractor(LLMWithFallback, NewLLMExtractor(gen, 0))

	memories := e.Extract(context.Background(), testTurn("anything", types.SourceClaude))
	require.Len(t, memories, 1)
	assert.Equal(t, "rotate keys", memories[0].Text)
}

func TestFinalizeFiltersAndDeduplicates(t *testing.T) {
	turnID := types.NewTurnID()
	mk := func(text string, confidence float64) Candidate {
		return Candidate{
			Memory: &types.Memory{
				ID:         types.NewMemoryID(),
				Kind:       types.KindFact,
				Topic:      "t",
				Text:       text,
				Provenance: []string{turnID},
			},
			Confidence: confidence,
		}
	}

	memories := finalize([]Candidate{
		mk("Alpha  Beta", 0.75),
		mk("alpha beta", 0.95),
		mk("below threshold", 0.5),
		mk("gamma", 0.8),
	})
	require.Len(t, memories, 2)
	assert.Equal(t, "alpha beta", memories[0].Text)
	assert.Equal(t, "gamma", memories[1].Text)
}
