// ABOUTME: Tests for the echo worker and the remote worker WebSocket link.
// ABOUTME: Runs the link over a real websocket pair via httptest.

package worker

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
)

type capture struct {
	mu       sync.Mutex
	messages []actor.Message
	notify   chan struct{}
}

func newCapture() *capture {
	return &capture{notify: make(chan struct{}, 16)}
}

func (c *capture) Deliver(msg actor.Message) error {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *capture) last() actor.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	return c.messages[len(c.messages)-1]
}

func TestEcho_CompletesAssignment(t *testing.T) {
	reg := actor.NewRegistry(slog.Default())
	router := actor.NewRouter(reg, slog.Default())
	orch := newCapture()
	reg.Register("orchestrator", orch)

	echo := NewEcho(router, "orchestrator", 0, slog.Default())
	reg.Register("worker", echo.Mailbox())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echo.Run(ctx)

	require.NoError(t, router.Send("worker", actor.TaskAssignment{Seq: 3, TaskText: "open mail"}))

	select {
	case <-orch.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no result from echo worker")
	}

	result, ok := orch.last().(actor.TaskResult)
	require.True(t, ok)
	assert.Equal(t, uint64(3), result.Seq)
	assert.Equal(t, actor.StatusDone, result.Status)
	assert.Equal(t, "echo: open mail", result.Detail)
}

func TestServeLink_RegisterAssignResult(t *testing.T) {
	reg := actor.NewRegistry(slog.Default())
	router := actor.NewRouter(reg, slog.Default())
	orch := newCapture()
	reg.Register("orchestrator", orch)

	served := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		served <- ServeLink(r.Context(), ws, reg, router, "worker", "orchestrator", slog.Default())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	// Register and wait for the welcome.
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameRegister, Name: "browser-1"}))
	var welcome Frame
	require.NoError(t, wsjson.Read(ctx, ws, &welcome))
	assert.Equal(t, FrameWelcome, welcome.Type)
	assert.Equal(t, "worker", welcome.Name)

	// A dispatch to the worker name arrives as an assignment frame.
	require.NoError(t, router.Send("worker", actor.TaskAssignment{Seq: 11, TaskText: "click login"}))
	var assignment Frame
	require.NoError(t, wsjson.Read(ctx, ws, &assignment))
	assert.Equal(t, FrameAssignment, assignment.Type)
	assert.Equal(t, uint64(11), assignment.Seq)
	assert.Equal(t, "click login", assignment.Task)

	// A result frame is routed back to the orchestrator.
	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameResult, Seq: 11, Status: "done", Detail: "logged in"}))
	select {
	case <-orch.notify:
	case <-ctx.Done():
		t.Fatal("result never reached orchestrator")
	}
	result, ok := orch.last().(actor.TaskResult)
	require.True(t, ok)
	assert.Equal(t, uint64(11), result.Seq)
	assert.Equal(t, actor.StatusDone, result.Status)
	assert.Equal(t, "logged in", result.Detail)

	// Closing the socket unregisters the worker.
	ws.Close(websocket.StatusNormalClosure, "")
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("link did not shut down")
	}
	assert.ErrorIs(t, router.Send("worker", actor.TaskAssignment{Seq: 12}), actor.ErrUnknownActor)
}

func TestServeLink_RejectsNonRegisterFirstFrame(t *testing.T) {
	reg := actor.NewRegistry(slog.Default())
	router := actor.NewRouter(reg, slog.Default())

	served := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		served <- ServeLink(r.Context(), ws, reg, router, "worker", "orchestrator", slog.Default())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	require.NoError(t, wsjson.Write(ctx, ws, Frame{Type: FrameResult, Seq: 1}))

	select {
	case err := <-served:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected register frame")
	case <-ctx.Done():
		t.Fatal("link did not reject bad first frame")
	}

	_, _, ok := reg.Resolve("worker")
	assert.False(t, ok)
}
