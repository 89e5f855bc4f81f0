package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memlayer/pkg/types"
)

// e2eEnv runs all three routers over one store with the pipeline live, the
// way the daemons cooperate in production.
type e2eEnv struct {
	*testEnv
	ingestTS   *httptest.Server
	indexTS    *httptest.Server
	composerTS *httptest.Server
	client     *http.Client
}

func newE2E(t *testing.T) *e2eEnv {
	t.Helper()
	env := newTestEnv(t)
	env.startPipeline(t)

	ingestTS := httptest.NewServer(env.ingestion.Router())
	indexTS := httptest.NewServer(env.indexing.Router())
	composerTS := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ingestTS.Close)
	t.Cleanup(indexTS.Close)
	t.Cleanup(composerTS.Close)

	return &e2eEnv{
		testEnv:    env,
		ingestTS:   ingestTS,
		indexTS:    indexTS,
		composerTS: composerTS,
		client:     ingestTS.Client(),
	}
}

func (e *e2eEnv) ingest(t *testing.T, threadID, text string, app types.SourceApp) string {
	t.Helper()
	resp, body := postJSON(t, e.client, e.ingestTS.URL+"/ingest/turn", turnBody(threadID, text, app))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["id"].(string)
}

// waitForMemories polls the recent listing until at least n memories exist.
func (e *e2eEnv) waitForMemories(t *testing.T, n int) []map[string]interface{} {
	t.Helper()
	var memories []map[string]interface{}
	require.Eventually(t, func() bool {
		_, body := getJSON(t, e.client, e.ingestTS.URL+"/memories/recent")
		raw, _ := body["memories"].([]interface{})
		if len(raw) < n {
			return false
		}
		memories = memories[:0]
		for _, m := range raw {
			memories = append(memories, m.(map[string]interface{}))
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)
	return memories
}

func TestEndToEndIngestAndSearch(t *testing.T) {
	e := newE2E(t)
	id := e.ingest(t, "thr_T0", "Decided to use Rust because it is fast and safe.", types.SourceClaude)
	assert.True(t, strings.HasPrefix(id, "turn_"))

	var results []interface{}
	require.Eventually(t, func() bool {
		resp, body := getJSONArray(t, e.client, e.indexTS.URL+"/search?q=Rust&limit=5")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		results = body
		return len(results) > 0
	}, 5*time.Second, 50*time.Millisecond)

	first := results[0].(map[string]interface{})
	assert.Greater(t, first["score"].(float64), 0.0)
	mem := first["memory"].(map[string]interface{})
	assert.Equal(t, "decision", mem["kind"])
	assert.Contains(t, mem["text"], "Rust")

	entities, _ := mem["entities"].([]interface{})
	assert.Contains(t, entities, "Rust")
}

func TestEndToEndTaskTTL(t *testing.T) {
	e := newE2E(t)
	e.ingest(t, "thr_T1", "TODO: fix auth bug (URGENT)", types.SourceVSCode)
	e.ingest(t, "thr_T2", "TODO: write tests", types.SourceVSCode)

	memories := e.waitForMemories(t, 2)
	ttls := map[string]float64{}
	for _, m := range memories {
		if m["kind"] != "task" {
			continue
		}
		ttl, ok := m["ttl"].(float64)
		require.True(t, ok, "task memory missing ttl")
		ttls[m["text"].(string)] = ttl
	}
	require.Len(t, ttls, 2)
	for text, ttl := range ttls {
		if strings.Contains(text, "auth bug") {
			assert.EqualValues(t, 172800, ttl)
		} else {
			assert.EqualValues(t, 604800, ttl)
		}
	}
}

func TestEndToEndSnippetExtraction(t *testing.T) {
	e := newE2E(t)
	e.ingest(t, "thr_T3", "See src/main.rs:42-56 for impl", types.SourceVSCode)

	memories := e.waitForMemories(t, 1)
	require.Len(t, memories, 1, "exactly one memory expected")

	m := memories[0]
	assert.Equal(t, "snippet", m["kind"])
	snippet := m["snippet"].(map[string]interface{})
	assert.Equal(t, "L42-L56", snippet["loc"])
	assert.Equal(t, "rust", snippet["language"])
	provenance, _ := m["provenance"].([]interface{})
	assert.Len(t, provenance, 1)
}

func TestEndToEndCapsuleBudgets(t *testing.T) {
	e := newE2E(t)
	for i := 0; i < 20; i++ {
		seedIndexedMemory(t, e.testEnv, "Established fact number "+strings.Repeat("z", i+1)+" about the service mesh", "mesh")
	}

	resp, body := postJSON(t, e.client, e.composerTS.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 220,
		"scopes":        []string{"assistant"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "standard", body["style"])
	assert.LessOrEqual(t, body["token_count"].(float64), float64(220))

	resp, body = postJSON(t, e.client, e.composerTS.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 80,
		"scopes":        []string{"assistant"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "short", body["style"])
	assert.LessOrEqual(t, body["token_count"].(float64), float64(80))
}

func TestEndToEndDeltaCapsule(t *testing.T) {
	e := newE2E(t)
	for i := 0; i < 5; i++ {
		seedIndexedMemory(t, e.testEnv, "Established fact "+strings.Repeat("z", i+1)+" about the mesh", "mesh")
	}

	resp, first := postJSON(t, e.client, e.composerTS.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 220,
		"thread_key":    "thr_X",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	firstID := first["capsule_id"].(string)

	resp, second := postJSON(t, e.client, e.composerTS.URL+"/v1/context", map[string]interface{}{
		"budget_tokens":   220,
		"thread_key":      "thr_X",
		"last_capsule_id": firstID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, firstID, second["delta_of"])
	messages, _ := second["messages"].([]interface{})
	assert.Empty(t, messages)
	assert.Equal(t, "Up to date.", second["preamble_text"])
}

func TestEndToEndAgenticEvolution(t *testing.T) {
	e := newE2E(t)
	e.ingest(t, "thr_T4", "Decided to use Rust for the backend", types.SourceClaude)
	memories := e.waitForMemories(t, 1)
	firstID := memories[0]["id"].(string)

	e.ingest(t, "thr_T5", "We will adopt Rust for the backend", types.SourceClaude)
	memories = e.waitForMemories(t, 2)

	var secondID string
	for _, m := range memories {
		if m["id"].(string) != firstID {
			secondID = m["id"].(string)
		}
	}
	require.NotEmpty(t, secondID)

	// The earlier memory's record gains a merge entry naming the newcomer.
	resp, record := getJSON(t, e.client, e.indexTS.URL+"/agentic/"+firstID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history, _ := record["evolution_history"].([]interface{})
	merged := false
	for _, entry := range history {
		detail, _ := entry.(map[string]interface{})["detail"].(string)
		if strings.Contains(detail, secondID) {
			merged = true
		}
	}
	assert.True(t, merged, "expected a merge entry referencing %s", secondID)

	resp, graph := getJSON(t, e.client, e.indexTS.URL+"/agentic/graph")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edges, _ := graph["edges"].([]interface{})
	linked := false
	for _, raw := range edges {
		edge := raw.(map[string]interface{})
		pair := map[string]bool{edge["source"].(string): true, edge["target"].(string): true}
		if pair[firstID] && pair[secondID] && edge["strength"].(float64) >= 0.65 {
			linked = true
		}
	}
	assert.True(t, linked, "expected an edge between %s and %s", firstID, secondID)
}
