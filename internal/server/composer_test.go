package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memlayer/pkg/types"
)

func TestContextEndpoint(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		seedIndexedMemory(t, env, "Fact about the deployment pipeline number "+strings.Repeat("x", i), "deploy")
	}
	ts := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ts.Close)

	resp, body := postJSON(t, ts.Client(), ts.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 220,
		"scopes":        []string{"assistant"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "standard", body["style"])
	assert.LessOrEqual(t, body["token_count"].(float64), float64(220))

	id, ok := body["capsule_id"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(id, "cap_"))
}

func TestContextInvalidScope(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ts.Close)

	resp, body := postJSON(t, ts.Client(), ts.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 220,
		"scopes":        []string{"universe"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid", body["kind"])
}

func TestContextMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Post(ts.URL+"/v1/context", "application/json", strings.NewReader("nope"))
	require.NoError(t, err)
	decodeBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUndoAlwaysOK(t *testing.T) {
	env := newTestEnv(t)
	seedIndexedMemory(t, env, "Fact about the deployment pipeline", "deploy")
	ts := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ts.Close)

	resp, body := postJSON(t, ts.Client(), ts.URL+"/v1/context", map[string]interface{}{
		"budget_tokens": 220,
		"thread_key":    "thr_X",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	capsuleID := body["capsule_id"].(string)

	resp, body = postJSON(t, ts.Client(), ts.URL+"/v1/undo", types.UndoRequest{CapsuleID: capsuleID, ThreadKey: "thr_X"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = postJSON(t, ts.Client(), ts.URL+"/v1/undo", types.UndoRequest{CapsuleID: capsuleID, ThreadKey: "thr_X"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestComposerHealth(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.capsules.Router())
	t.Cleanup(ts.Close)

	resp, body := getJSON(t, ts.Client(), ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}
