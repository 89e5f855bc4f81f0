package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertTestTurn(t *testing.T, store *Store, text string) *types.Turn {
	t.Helper()
	turn := &types.Turn{
		ID:       types.NewTurnID(),
		ThreadID: "thr_test",
		TSUser:   time.Now().UTC(),
		UserText: text,
		Source:   types.TurnSource{App: types.SourceClaude},
	}
	require.NoError(t, store.InsertTurn(context.Background(), turn))
	return turn
}

func testMemory(turnID, text string, kind types.MemoryKind) *types.Memory {
	return &types.Memory{
		ID:         types.NewMemoryID(),
		Kind:       kind,
		Topic:      "General",
		Text:       text,
		Entities:   []string{"Rust"},
		Provenance: []string{turnID},
		CreatedAt:  time.Now().UTC(),
	}
}

func TestOpenAndPing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestInsertTurnIdempotentAndConflicting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turn := insertTestTurn(t, store, "hello world")

	// Same body, same id: no-op.
	require.NoError(t, store.InsertTurn(ctx, turn))

	// Different body under the same id: conflict.
	changed := *turn
	changed.UserText = "something else"
	err := store.InsertTurn(ctx, &changed)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.UserText)
	assert.Equal(t, types.SourceClaude, got.Source.App)
}

func TestGetTurnNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetTurn(context.Background(), types.NewTurnID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLastTurnForThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestTurn(t, store, "first")
	last := insertTestTurn(t, store, "second")

	got, err := store.LastTurnForThread(ctx, "thr_test")
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)

	_, err = store.LastTurnForThread(ctx, "thr_empty")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertMemoriesIdempotence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "Decided to use Rust")

	first := testMemory(turn.ID, "Decided to use Rust", types.KindDecision)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{first}))

	// Same turn, same normalized text, same kind, new id: skipped.
	dup := testMemory(turn.ID, "  decided TO use   rust ", types.KindDecision)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{dup}))

	recent, err := store.RecentMemories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, first.ID, recent[0].ID)
	assert.Equal(t, []string{"Rust"}, recent[0].Entities)
	assert.Equal(t, []string{turn.ID}, recent[0].Provenance)
}

func TestMemoryExpiryHidesAndSweeps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "TODO: fix auth bug")

	ttl := int64(1)
	expired := testMemory(turn.ID, "fix auth bug", types.KindTask)
	expired.TTL = &ttl
	expired.CreatedAt = time.Now().Add(-time.Hour)

	fresh := testMemory(turn.ID, "write tests", types.KindTask)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{expired, fresh}))

	_, err := store.GetMemory(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	recent, err := store.RecentMemories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fresh.ID, recent[0].ID)

	removed, err := store.DeleteExpiredMemories(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestTopicSummaries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "facts")

	memA := testMemory(turn.ID, "alpha one", types.KindFact)
	memA.Topic = "alpha"
	memB := testMemory(turn.ID, "alpha two", types.KindFact)
	memB.Topic = "alpha"
	memB.CreatedAt = memA.CreatedAt.Add(time.Second)
	memC := testMemory(turn.ID, "beta one", types.KindFact)
	memC.Topic = "beta"
	memC.CreatedAt = memA.CreatedAt.Add(2 * time.Second)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{memA, memB, memC}))

	topics, err := store.TopicSummaries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "beta", topics[0].Topic)
	assert.Equal(t, 1, topics[0].MemoryCount)
	assert.Equal(t, "alpha", topics[1].Topic)
	assert.Equal(t, 2, topics[1].MemoryCount)
}

func TestLexicalSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "some conversation")

	rust := testMemory(turn.ID, "Decided to use Rust for the backend", types.KindDecision)
	python := testMemory(turn.ID, "Python is used for scripting", types.KindFact)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{rust, python}))

	results, err := store.LexicalSearch(ctx, "Rust", storage.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rust.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, []string{turn.ID}, results[0].Memory.Provenance)

	// Kind filter.
	results, err = store.LexicalSearch(ctx, "Rust", storage.SearchFilters{Kind: types.KindFact}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Empty query returns nothing, not an error.
	results, err = store.LexicalSearch(ctx, "", storage.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalSearchSourceAppFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "from claude")

	mem := testMemory(turn.ID, "Rust decision captured in Claude", types.KindDecision)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{mem}))

	results, err := store.LexicalSearch(ctx, "Rust", storage.SearchFilters{SourceApp: types.SourceClaude}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = store.LexicalSearch(ctx, "Rust", storage.SearchFilters{SourceApp: types.SourceVSCode}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "vector test")
	mem := testMemory(turn.ID, "vectorized memory", types.KindFact)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{mem}))

	vec := []float32{0.1, -0.5, 0.75}
	require.NoError(t, store.StoreEmbedding(ctx, mem.ID, vec))

	got, err := store.GetEmbedding(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	all, err := store.AllEmbeddings(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, mem.ID, all[0].MemoryID)
	assert.Equal(t, mem.Topic, all[0].Topic)

	_, err = store.GetEmbedding(ctx, types.NewMemoryID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnextractedTurnsAndSkipSentinel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	extracted := insertTestTurn(t, store, "extracted turn")
	pending := insertTestTurn(t, store, "pending turn")
	skipped := insertTestTurn(t, store, "skipped turn")

	mem := testMemory(extracted.ID, "a memory", types.KindFact)
	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{mem}))
	require.NoError(t, store.MarkTurnSkipped(ctx, skipped.ID))

	turns, err := store.UnextractedTurns(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, pending.ID, turns[0].ID)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	turn := insertTestTurn(t, store, "stats turn")

	require.NoError(t, store.InsertMemories(ctx, []*types.Memory{
		testMemory(turn.ID, "a decision", types.KindDecision),
		testMemory(turn.ID, "a fact", types.KindFact),
		testMemory(turn.ID, "another fact", types.KindFact),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Turns)
	assert.Equal(t, 3, stats.Memories)
	assert.Equal(t, 2, stats.ByKind["fact"])
	assert.Equal(t, 1, stats.ByKind["decision"])
}
