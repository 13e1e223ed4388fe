// ABOUTME: Tests for the single-flight dispatcher and subtask decomposition.
// ABOUTME: Covers ordering, interrupts, stale results, and failure wording.

package orchestrator

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
)

// capture is an Endpoint that records everything delivered to it.
type capture struct {
	mu       sync.Mutex
	messages []actor.Message
}

func (c *capture) Deliver(msg actor.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capture) assignments() []actor.TaskAssignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []actor.TaskAssignment
	for _, m := range c.messages {
		if a, ok := m.(actor.TaskAssignment); ok {
			out = append(out, a)
		}
	}
	return out
}

func (c *capture) responses() []actor.TaskResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []actor.TaskResponse
	for _, m := range c.messages {
		if r, ok := m.(actor.TaskResponse); ok {
			out = append(out, r)
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *capture, *capture) {
	t.Helper()
	reg := actor.NewRegistry(slog.Default())
	router := actor.NewRouter(reg, slog.Default())
	worker := &capture{}
	herald := &capture{}
	reg.Register("worker", worker)
	reg.Register("front-door", herald)

	orch := New(Options{
		Router:     router,
		WorkerName: "worker",
		HeraldName: "front-door",
		Logger:     slog.Default(),
	})
	return orch, worker, herald
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "and then connective",
			raw:  "search flights, and then book one",
			want: []string{"search flights", "book one"},
		},
		{
			name: "semicolon",
			raw:  "go to site; click login",
			want: []string{"go to site", "click login"},
		},
		{
			name: "bare and then",
			raw:  "A and then B",
			want: []string{"A", "B"},
		},
		{
			name: "case insensitive",
			raw:  "open mail AND THEN archive everything",
			want: []string{"open mail", "archive everything"},
		},
		{
			name: "single task untouched",
			raw:  "just do the thing",
			want: []string{"just do the thing"},
		},
		{
			name: "and then requires word boundaries",
			raw:  "brand thentic",
			want: []string{"brand thentic"},
		},
		{
			name: "empty fragments dropped",
			raw:  " , and then ; ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decompose(tt.raw))
		})
	}
}

func TestSubmit_DispatchesInOrder(t *testing.T) {
	orch, worker, herald := newTestOrchestrator(t)

	orch.Submit("A and then B", "c1")

	// Only one task in flight: A is dispatched, B waits.
	assigns := worker.assignments()
	require.Len(t, assigns, 1)
	assert.Equal(t, "A", assigns[0].TaskText)

	busy, queued := orch.Status()
	assert.True(t, busy)
	assert.Equal(t, 1, queued)

	// Result for A: client hears success, B is dispatched automatically.
	orch.HandleResult(actor.TaskResult{Seq: assigns[0].Seq, Status: actor.StatusDone, Detail: "ok"})

	responses := herald.responses()
	require.Len(t, responses, 1)
	assert.Equal(t, "Task has succeeded. ok", responses[0].Text)
	assert.Equal(t, "c1", responses[0].ClientID)
	assert.Equal(t, Name, responses[0].OriginAgent)

	assigns = worker.assignments()
	require.Len(t, assigns, 2)
	assert.Equal(t, "B", assigns[1].TaskText)
	assert.Greater(t, assigns[1].Seq, assigns[0].Seq)
}

func TestSubmit_InterruptWipesQueueAndSlot(t *testing.T) {
	orch, worker, herald := newTestOrchestrator(t)

	orch.Submit("A and then A2", "c1")
	assigns := worker.assignments()
	require.Len(t, assigns, 1)
	seqA := assigns[0].Seq

	// Second submission while busy interrupts: A's bookkeeping is wiped and
	// B dispatched immediately.
	orch.Submit("B", "c2")
	assigns = worker.assignments()
	require.Len(t, assigns, 2)
	assert.Equal(t, "B", assigns[1].TaskText)

	busy, queued := orch.Status()
	assert.True(t, busy)
	assert.Equal(t, 0, queued, "A2 must not survive the interrupt")

	// Late result for abandoned A is discarded without a client message.
	orch.HandleResult(actor.TaskResult{Seq: seqA, Status: actor.StatusDone, Detail: "too late"})
	assert.Empty(t, herald.responses())

	// A2 is never dispatched afterwards either.
	orch.HandleResult(actor.TaskResult{Seq: assigns[1].Seq, Status: actor.StatusDone, Detail: "done"})
	responses := herald.responses()
	require.Len(t, responses, 1)
	assert.Equal(t, "c2", responses[0].ClientID)
	for _, a := range worker.assignments() {
		assert.NotEqual(t, "A2", a.TaskText)
	}
}

func TestHandleResult_StaleWhenIdle(t *testing.T) {
	orch, worker, herald := newTestOrchestrator(t)

	orch.HandleResult(actor.TaskResult{Seq: 99, Status: actor.StatusDone, Detail: "ghost"})
	assert.Empty(t, herald.responses())
	assert.Empty(t, worker.assignments())

	// Subsequent dispatch is not corrupted.
	orch.Submit("A", "c1")
	assigns := worker.assignments()
	require.Len(t, assigns, 1)
	assert.Equal(t, "A", assigns[0].TaskText)
}

func TestHandleResult_FailureWording(t *testing.T) {
	orch, worker, herald := newTestOrchestrator(t)

	orch.Submit("A", "c1")
	assigns := worker.assignments()
	require.Len(t, assigns, 1)

	orch.HandleResult(actor.TaskResult{Seq: assigns[0].Seq, Status: actor.StatusError, Detail: "element not found"})

	responses := herald.responses()
	require.Len(t, responses, 1)
	assert.Equal(t, "Task has failed. element not found", responses[0].Text)

	// A failed task is complete: the slot is free and nothing is retried.
	busy, queued := orch.Status()
	assert.False(t, busy)
	assert.Equal(t, 0, queued)
}

func TestSubmit_EmptyTextIsNoOp(t *testing.T) {
	orch, worker, _ := newTestOrchestrator(t)

	orch.Submit("  ,  ; ", "c1")
	assert.Empty(t, worker.assignments())

	busy, queued := orch.Status()
	assert.False(t, busy)
	assert.Equal(t, 0, queued)
}

func TestSubmit_UnreachableWorkerSurfacesError(t *testing.T) {
	reg := actor.NewRegistry(slog.Default())
	router := actor.NewRouter(reg, slog.Default())
	herald := &capture{}
	reg.Register("front-door", herald)

	orch := New(Options{
		Router:     router,
		WorkerName: "worker", // never registered
		HeraldName: "front-door",
		Logger:     slog.Default(),
	})

	orch.Submit("A", "c1")

	responses := herald.responses()
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Text, "Task has failed.")
	assert.Contains(t, responses[0].Text, "could not reach worker")

	busy, _ := orch.Status()
	assert.False(t, busy)
}
