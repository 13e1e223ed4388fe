// ABOUTME: End-to-end tests for the gateway over a real HTTP listener.
// ABOUTME: Exercises the client WebSocket path, JSON APIs, and the transcript.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pantheon-dev/pantheon-gateway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Upstream: config.UpstreamConfig{
			URL:         "ws://127.0.0.1:1/unused",
			APIKey:      "test-key",
			DialTimeout: time.Second,
		},
		Actors: config.ActorsConfig{
			WorkerName:  "worker",
			QueueSize:   128,
			MailboxSize: 64,
			EchoWorker:  true,
			SendTimeout: 5 * time.Second,
		},
	}
}

// startGateway runs a gateway in the background and returns its bound address.
func startGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	t.Setenv("PANTHEON_DB_PATH", "")

	g, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("gateway did not shut down")
		}
	})

	var addr string
	require.Eventually(t, func() bool {
		addr = g.BoundAddr()
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond, "gateway never bound")
	return g, addr
}

func dialClient(t *testing.T, addr, clientID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws/%s", addr, clientID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func readOutbound(t *testing.T, ws *websocket.Conn) outboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out outboundMessage
	require.NoError(t, wsjson.Read(ctx, ws, &out))
	return out
}

func TestGateway_ClientTaskRoundTrip(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, map[string]string{"type": "task", "text": "say hello"}))

	out := readOutbound(t, ws)
	assert.Equal(t, "Task has succeeded. echo: say hello", out.Text)
	assert.Equal(t, "task_response", out.Kind)
	assert.Equal(t, "orchestrator", out.OriginAgent)
}

func TestGateway_ClientTaskDecomposition(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, map[string]string{
		"type": "task",
		"text": "open the door and then close the window",
	}))

	first := readOutbound(t, ws)
	second := readOutbound(t, ws)
	assert.Equal(t, "Task has succeeded. echo: open the door", first.Text)
	assert.Equal(t, "Task has succeeded. echo: close the window", second.Text)
}

func TestGateway_QueryAPIDeliversToOriginClient(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	body, _ := json.Marshal(map[string]string{"rawText": "ping", "clientId": "client-1"})
	resp, err := http.Post(fmt.Sprintf("http://%s/api/query", addr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := readOutbound(t, ws)
	assert.Equal(t, "Task has succeeded. echo: ping", out.Text)
}

func TestGateway_QueryAPIRejectsEmptyText(t *testing.T) {
	_, addr := startGateway(t)

	body, _ := json.Marshal(map[string]string{"clientId": "client-1"})
	resp, err := http.Post(fmt.Sprintf("http://%s/api/query", addr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_AnalysisBroadcastAndDedupe(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	post := func(text string) {
		body, _ := json.Marshal(map[string]string{"text": text, "originAgent": "observer"})
		resp, err := http.Post(fmt.Sprintf("http://%s/api/analysis", addr), "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	post("the page is loading")
	post("the page is loading") // repeat, suppressed
	post("the page has loaded")

	first := readOutbound(t, ws)
	assert.Equal(t, "the page is loading", first.Text)
	assert.Equal(t, "analysis", first.Kind)
	assert.Equal(t, "observer", first.OriginAgent)

	second := readOutbound(t, ws)
	assert.Equal(t, "the page has loaded", second.Text)
}

func TestGateway_HistoryReturnsTranscript(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, map[string]string{"type": "task", "text": "remember me"}))
	readOutbound(t, ws)

	var entries []map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/history?client_id=client-1", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		entries = nil
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return false
		}
		return len(entries) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "Task has succeeded. echo: remember me", entries[0]["text"])
	assert.Equal(t, "task_response", entries[0]["kind"])
}

func TestGateway_HistoryRequiresClientID(t *testing.T) {
	_, addr := startGateway(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/history", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_Healthz(t *testing.T) {
	_, addr := startGateway(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["busy"])
	assert.Equal(t, float64(0), health["queued"])
}

func TestGateway_MalformedClientFrameKeepsConnection(t *testing.T) {
	_, addr := startGateway(t)
	ws := dialClient(t, addr, "client-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("{not json")))
	require.NoError(t, wsjson.Write(ctx, ws, map[string]string{"type": "task", "text": "still here"}))

	out := readOutbound(t, ws)
	assert.Equal(t, "Task has succeeded. echo: still here", out.Text)
}
