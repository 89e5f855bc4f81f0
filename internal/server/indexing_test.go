package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/memlayer/internal/index"
	"github.com/scrypster/memlayer/pkg/types"
)

// seedIndexedMemory inserts a turn, a memory, and its agentic record the way
// the extraction pipeline would.
func seedIndexedMemory(t *testing.T, env *testEnv, text, topic string) string {
	t.Helper()
	ctx := context.Background()
	turn := &types.Turn{
		ID:       types.NewTurnID(),
		ThreadID: "thr_seed",
		TSUser:   time.Now().UTC(),
		UserText: text,
		Source:   types.TurnSource{App: types.SourceClaude},
	}
	require.NoError(t, env.store.InsertTurn(ctx, turn))

	mem := &types.Memory{
		ID:         types.NewMemoryID(),
		Kind:       types.KindFact,
		Topic:      topic,
		Text:       text,
		Provenance: []string{turn.ID},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, env.store.InsertMemories(ctx, []*types.Memory{mem}))

	evolver := index.NewEvolver(env.store, index.NewHashEmbedder())
	require.NoError(t, evolver.IngestMemory(ctx, mem, turn.Source.App))
	return mem.ID
}

// seedBareAgentic inserts a memory and its agentic record without running the
// evolution pass, so a test controls exactly which links exist.
func seedBareAgentic(t *testing.T, env *testEnv, text string) string {
	t.Helper()
	ctx := context.Background()
	turn := &types.Turn{
		ID:       types.NewTurnID(),
		ThreadID: "thr_seed",
		TSUser:   time.Now().UTC(),
		UserText: text,
		Source:   types.TurnSource{App: types.SourceClaude},
	}
	require.NoError(t, env.store.InsertTurn(ctx, turn))

	mem := &types.Memory{
		ID:         types.NewMemoryID(),
		Kind:       types.KindFact,
		Topic:      "cache",
		Text:       text,
		Provenance: []string{turn.ID},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, env.store.InsertMemories(ctx, []*types.Memory{mem}))

	now := time.Now().UTC()
	require.NoError(t, env.store.UpsertAgentic(ctx, &types.AgenticRecord{
		MemoryID:     mem.ID,
		Context:      text,
		Category:     types.CategoryFact,
		LastAccessed: now,
		CreatedAt:    now,
	}))
	return mem.ID
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, results := getJSONArray(t, ts.Client(), ts.URL+"/search?q=")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, results)
}

func TestSearchFindsMemory(t *testing.T) {
	env := newTestEnv(t)
	seedIndexedMemory(t, env, "The gateway service speaks grpc to the backend", "gateway")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	// The response is a bare array of {memory, score} pairs.
	resp, results := getJSONArray(t, ts.Client(), ts.URL+"/search?q=grpc&limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, results)

	first := results[0].(map[string]interface{})
	assert.Greater(t, first["score"].(float64), 0.0)
	mem := first["memory"].(map[string]interface{})
	assert.Contains(t, mem["text"], "grpc")
}

func TestSearchRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/search?q=x&kind=wish")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", body["kind"])
}

func TestSearchAckTouchesRetrieval(t *testing.T) {
	env := newTestEnv(t)
	id := seedIndexedMemory(t, env, "The gateway service speaks grpc to the backend", "gateway")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, _ := getJSONArray(t, ts.Client(), ts.URL+"/search?q=grpc&ack=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record, err := env.store.GetAgentic(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, record.RetrievalCount)
}

func TestGetAgenticTouchesAndReturnsHistory(t *testing.T) {
	env := newTestEnv(t)
	id := seedIndexedMemory(t, env, "Some durable fact about caching", "cache")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/agentic/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["memory_id"])
	history, ok := body["evolution_history"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, history)

	// Link arrays are always present, empty when the record is isolated.
	outgoing, ok := body["outgoing_links"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, outgoing)
	incoming, ok := body["incoming_links"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, incoming)

	record, err := env.store.GetAgentic(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, record.RetrievalCount)
}

func TestGetAgenticIncludesLinks(t *testing.T) {
	env := newTestEnv(t)
	first := seedBareAgentic(t, env, "The cache layer fronts the primary store")
	second := seedBareAgentic(t, env, "The primary store is fronted by a cache layer")
	ctx := context.Background()
	require.NoError(t, env.store.UpsertLink(ctx, &types.Link{Source: first, Target: second, Strength: 0.7}))
	require.NoError(t, env.store.UpsertLink(ctx, &types.Link{Source: second, Target: first, Strength: 0.7}))

	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/agentic/"+first)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	outgoing, ok := body["outgoing_links"].([]interface{})
	require.True(t, ok)
	require.Len(t, outgoing, 1)
	assert.Equal(t, second, outgoing[0].(map[string]interface{})["target"])

	incoming, ok := body["incoming_links"].([]interface{})
	require.True(t, ok)
	require.Len(t, incoming, 1)
	assert.Equal(t, second, incoming[0].(map[string]interface{})["source"])
}

func TestRecentAgenticCarriesLinkCounts(t *testing.T) {
	env := newTestEnv(t)
	first := seedBareAgentic(t, env, "The cache layer fronts the primary store")
	second := seedBareAgentic(t, env, "The primary store is fronted by a cache layer")
	ctx := context.Background()
	require.NoError(t, env.store.UpsertLink(ctx, &types.Link{Source: first, Target: second, Strength: 0.7}))

	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/agentic/recent")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records, ok := body["records"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 2)

	counts := map[string]float64{}
	for _, raw := range records {
		record := raw.(map[string]interface{})
		counts[record["memory_id"].(string)] = record["link_count"].(float64)
	}
	assert.EqualValues(t, 1, counts[first])
	assert.EqualValues(t, 1, counts[second])
}

func TestGetAgenticNotFound(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/agentic/"+types.NewMemoryID())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestDeleteAgentic(t *testing.T) {
	env := newTestEnv(t)
	id := seedIndexedMemory(t, env, "Some durable fact about caching", "cache")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/agentic/"+id, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	decodeBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGraphSnapshot(t *testing.T) {
	env := newTestEnv(t)
	seedIndexedMemory(t, env, "First fact about the scheduler", "sched")
	seedIndexedMemory(t, env, "Second fact about the scheduler", "sched")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/agentic/graph")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	nodes, ok := body["nodes"].([]interface{})
	require.True(t, ok)
	assert.Len(t, nodes, 2)
}

func TestGraphStreamPushesUpdates(t *testing.T) {
	env := newTestEnv(t)
	seedIndexedMemory(t, env, "First fact about the scheduler", "sched")
	ts := httptest.NewServer(env.indexing.Router())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/agentic/graph/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Initial snapshot on connect.
	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	var graph types.Graph
	require.NoError(t, json.Unmarshal(msg, &graph))
	assert.Len(t, graph.Nodes, 1)

	// A change notification pushes a fresh snapshot.
	seedIndexedMemory(t, env, "Second fact about the scheduler", "sched")
	env.indexing.NotifyChange()

	_, msg, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &graph))
	assert.Len(t, graph.Nodes, 2)
}
