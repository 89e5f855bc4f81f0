package index

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/internal/storage/sqlite"
	"github.com/scrypster/memlayer/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertMemory(t *testing.T, store *sqlite.Store, text string, kind types.MemoryKind, createdAt time.Time) *types.Memory {
	return insertTopicMemory(t, store, text, "backend", kind, createdAt)
}

func insertTopicMemory(t *testing.T, store *sqlite.Store, text, topic string, kind types.MemoryKind, createdAt time.Time) *types.Memory {
	t.Helper()
	ctx := context.Background()
	turn := &types.Turn{
		ID:       types.NewTurnID(),
		ThreadID: "thr_test",
		TSUser:   time.Now().UTC(),
		UserText: text,
		Source:   types.TurnSource{App: types.SourceClaude},
	}
	require.NoError(t, store.InsertTurn(ctx, turn))

	mem := &types.Memory{
		ID:         types.NewMemoryID(),
		Kind:       kind,
		Topic:      topic,
		Text:       text,
		Entities:   []string{"Rust"},
		Provenance: []string{turn.ID},
		CreatedAt:  createdAt,
	}
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{mem}))
	return mem
}

// fixedEmbedder returns preset vectors by text, for tests needing exact
// similarity geometry.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectors[text], nil
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Len(t, a, EmbeddingDim)
	assert.Equal(t, a, b)

	c, err := e.Embed(ctx, "completely different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestExtractKeywords(t *testing.T) {
	keywords := ExtractKeywords("Decided to use Rust for the backend because it is fast")
	assert.Contains(t, keywords, "rust")
	assert.Contains(t, keywords, "backend")
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "use")
	assert.LessOrEqual(t, len(keywords), initialKeywordCount)
}

func TestMergeKeywordsCaps(t *testing.T) {
	base := []string{"a1", "b2"}
	var additions []string
	for i := 0; i < 40; i++ {
		additions = append(additions, string(rune('a'+i%26))+"x"+string(rune('0'+i%10)))
	}
	merged := MergeKeywords(base, additions)
	assert.Equal(t, "a1", merged[0])
	assert.LessOrEqual(t, len(merged), MaxKeywords)
}

func TestSharedKeywords(t *testing.T) {
	shared := SharedKeywords([]string{"rust", "backend", "fast"}, []string{"backend", "rust"})
	assert.Equal(t, []string{"rust", "backend"}, shared)
}

func TestHybridSearchRanking(t *testing.T) {
	store := newTestStore(t)
	searcher := NewSearcher(store, NewHashEmbedder())
	ctx := context.Background()

	now := time.Now().UTC()
	recent := insertMemory(t, store, "Decided to use Rust for the backend", types.KindDecision, now)
	insertMemory(t, store, "Rust toolchain notes from last quarter", types.KindFact, now.Add(-90*24*time.Hour))

	results, err := searcher.Search(ctx, "Rust backend", storage.SearchFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Scores are non-increasing and the fresher, better-matching memory wins.
	assert.Equal(t, recent.ID, results[0].Memory.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	searcher := NewSearcher(store, NewHashEmbedder())

	results, err := searcher.Search(context.Background(), "", storage.SearchFilters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	searcher := NewSearcher(store, NewHashEmbedder())
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertMemory(t, store, "Rust memory number "+string(rune('a'+i)), types.KindFact, now)
	}

	results, err := searcher.Search(ctx, "Rust", storage.SearchFilters{}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestEvolverSeedsAgenticRecord(t *testing.T) {
	store := newTestStore(t)
	evolver := NewEvolver(store, NewHashEmbedder())
	ctx := context.Background()

	mem := insertMemory(t, store, "Decided to use Rust for the backend", types.KindDecision, time.Now().UTC())
	require.NoError(t, evolver.IngestMemory(ctx, mem, types.SourceClaude))

	rec, err := store.GetAgentic(ctx, mem.ID)
	require.NoError(t, err)
	assert.Contains(t, rec.Keywords, "rust")
	assert.Contains(t, rec.Tags, "kind:decision")
	assert.Contains(t, rec.Tags, "app:claude")
	assert.Equal(t, types.CategoryDecision, rec.Category)
	require.Len(t, rec.Evolution, 1)
	assert.Equal(t, "ingested", rec.Evolution[0].Event)
	assert.Equal(t, "Claude", rec.Evolution[0].Detail)

	_, err = store.GetEmbedding(ctx, mem.ID)
	assert.NoError(t, err)
}

func TestEvolverMergesNearDuplicates(t *testing.T) {
	store := newTestStore(t)
	evolver := NewEvolver(store, NewHashEmbedder())
	ctx := context.Background()

	first := insertMemory(t, store, "Decided to use Rust for the backend", types.KindDecision, time.Now().UTC())
	require.NoError(t, evolver.IngestMemory(ctx, first, types.SourceClaude))

	second := insertMemory(t, store, "We will build the backend in Rust", types.KindDecision, time.Now().UTC())
	require.NoError(t, evolver.IngestMemory(ctx, second, types.SourceClaude))

	// The first record evolved: merged keywords and a history entry naming
	// the second memory.
	rec, err := store.GetAgentic(ctx, first.ID)
	require.NoError(t, err)
	var evolved bool
	for _, entry := range rec.Evolution {
		if entry.Event == "evolved" && entry.Detail == "merged_with:"+second.ID {
			evolved = true
		}
	}
	assert.True(t, evolved)
	assert.Contains(t, rec.Keywords, "build")

	// A bidirectional link pair exists with strength above the link floor.
	links, err := store.LinksFor(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, link := range links {
		assert.GreaterOrEqual(t, link.Strength, LinkThreshold)
	}

	graph, err := store.AgenticGraph(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2)
	assert.Len(t, graph.Edges, 2)
}

func TestTopicBoostCanDisplaceNearestNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Unit vector at a chosen cosine to the new memory's (1, 0).
	at := func(cos float64) []float32 {
		return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
	}

	// Eight off-topic neighbors at cosine 0.66 fill the candidate set.
	for i := 0; i < topSimilarCount; i++ {
		distractor := insertTopicMemory(t, store, "Unrelated note "+strconv.Itoa(i), "other", types.KindFact, now)
		require.NoError(t, store.StoreEmbedding(ctx, distractor.ID, at(0.66)))
	}

	// One same-topic candidate sits just below them at 0.63; the overlap
	// boost lifts it past the off-topic neighbors and over the link floor.
	candidate := insertTopicMemory(t, store, "Backend latency observation", "backend", types.KindFact, now)
	require.NoError(t, store.StoreEmbedding(ctx, candidate.ID, at(0.63)))

	mem := insertTopicMemory(t, store, "Fresh backend latency report", "backend", types.KindFact, now)
	evolver := NewEvolver(store, &fixedEmbedder{vectors: map[string][]float32{
		mem.Text: {1, 0},
	}})
	require.NoError(t, evolver.IngestMemory(ctx, mem, types.SourceClaude))

	links, err := store.LinksFor(ctx, candidate.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, link := range links {
		assert.InDelta(t, 0.68, link.Strength, 0.01)
	}
}

func TestProviderEmbedderFallsBack(t *testing.T) {
	embedder := NewEmbedder(nil)
	_, ok := embedder.(*HashEmbedder)
	assert.True(t, ok)
}
