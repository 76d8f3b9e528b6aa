package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/duet/internal/bot"
	"github.com/antoniostano/duet/internal/config"
	"github.com/antoniostano/duet/internal/duet"
	"github.com/antoniostano/duet/internal/observability"
	"github.com/antoniostano/duet/internal/persona"
)

type fakeOrchestrator struct {
	mu       sync.Mutex
	launched []duet.LaunchRequest
	stops    int
}

func (f *fakeOrchestrator) Launch(_ context.Context, req duet.LaunchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, req)
	return "launch-1", nil
}

func (f *fakeOrchestrator) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeOrchestrator) Status(int) duet.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := duet.Status{Running: len(f.launched) > 0 && f.stops == 0}
	if st.Running {
		st.Bots = []duet.SlotStatus{{Slot: duet.SlotA, Snapshot: bot.Snapshot{Username: f.launched[0].A.Username}}}
	}
	return st
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *fakeOrchestrator, *observability.LogBuffer) {
	t.Helper()
	orch := &fakeOrchestrator{}
	transcript := observability.NewLogBuffer(10)
	srv := New(cfg, orch, observability.NewMetrics("test_httpapi"), transcript, observability.NewLogBuffer(10))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, orch, transcript
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	res, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestLaunchUsesRequestBody(t *testing.T) {
	ts, orch, _ := newTestServer(t, config.Config{})

	res := postJSON(t, ts.URL+"/v1/duet/launch", map[string]any{
		"a":         map[string]string{"username": "bot_a", "password": "secret-a"},
		"b":         map[string]string{"username": "bot_b", "password": "secret-b"},
		"room":      "lobby",
		"persona_a": "Chill",
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, "launch-1", payload["launch_id"])

	require.Len(t, orch.launched, 1)
	assert.Equal(t, persona.Chill, orch.launched[0].PersonaA)
	assert.Equal(t, "lobby", orch.launched[0].Room)
}

func TestLaunchFallsBackToConfiguredAccounts(t *testing.T) {
	cfg := config.Config{
		ChatRoom: "lobby",
		BotA:     config.BotAccount{Username: "env_a", Password: "pa", Persona: "energetic"},
		BotB:     config.BotAccount{Username: "env_b", Password: "pb", Persona: "chill"},
	}
	ts, orch, _ := newTestServer(t, cfg)

	res, err := http.Post(ts.URL+"/v1/duet/launch", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Len(t, orch.launched, 1)
	assert.Equal(t, "env_a", orch.launched[0].A.Username)
	assert.Equal(t, "env_b", orch.launched[0].B.Username)
}

func TestLaunchRejectsInvalidRequest(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{})

	res := postJSON(t, ts.URL+"/v1/duet/launch", map[string]any{"room": "lobby"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	var payload errorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, "invalid_request", payload.Code)

	bad, err := http.Post(ts.URL+"/v1/duet/launch", "application/json", strings.NewReader(`{"room":`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStatusNeverEchoesPasswords(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{})
	postJSON(t, ts.URL+"/v1/duet/launch", map[string]any{
		"a":    map[string]string{"username": "bot_a", "password": "hunter2"},
		"b":    map[string]string{"username": "bot_b", "password": "hunter3"},
		"room": "lobby",
	})

	res, err := http.Get(ts.URL + "/v1/duet/status?tail=5")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"running":true`)
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestStopAndHealth(t *testing.T) {
	ts, orch, _ := newTestServer(t, config.Config{})

	res := postJSON(t, ts.URL+"/v1/duet/stop", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, orch.stops)

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, false, payload["running"])
}

func TestLogsEndpoint(t *testing.T) {
	ts, _, transcript := newTestServer(t, config.Config{})
	transcript.Add("chat", "ravi", "namaste")

	res, err := http.Get(ts.URL + "/v1/logs?kind=transcript&tail=10")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Kind    string                `json:"kind"`
		Entries []observability.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.Len(t, payload.Entries, 1)
	assert.Equal(t, "namaste", payload.Entries[0].Text)

	bad, err := http.Get(ts.URL + "/v1/logs?kind=secrets")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	badTail, err := http.Get(ts.URL + "/v1/logs?tail=-1")
	require.NoError(t, err)
	defer badTail.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badTail.StatusCode)
}

func TestMetricsAndUIRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Config{})

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	root, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	defer root.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, root.StatusCode)
	assert.Equal(t, "/ui/", root.Header.Get("Location"))

	ui, err := http.Get(ts.URL + "/ui/")
	require.NoError(t, err)
	defer ui.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(ui.Body)
	assert.Equal(t, http.StatusOK, ui.StatusCode)
	assert.Contains(t, body.String(), `id="transcript"`)

	perf, err := http.Get(ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer perf.Body.Close()
	assert.Equal(t, http.StatusOK, perf.StatusCode)
}
