// ABOUTME: In-process worker actor that completes tasks by echoing them.
// ABOUTME: Stands in for a real task executor during tests and local development.

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
)

// Echo is a trivial worker: every assignment succeeds with an echo of its
// task text after an optional artificial delay. It exercises the full
// dispatch/result contract without any real execution backend.
type Echo struct {
	router       *actor.Router
	orchestrator string
	mailbox      *actor.Mailbox
	delay        time.Duration
	logger       *slog.Logger
}

// NewEcho creates an echo worker reporting results to the named orchestrator.
func NewEcho(router *actor.Router, orchestratorName string, delay time.Duration, logger *slog.Logger) *Echo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{
		router:       router,
		orchestrator: orchestratorName,
		mailbox:      actor.NewMailbox("echo-worker", 16, logger),
		delay:        delay,
		logger:       logger.With("component", "echo-worker"),
	}
}

// Mailbox returns the endpoint to register under the worker name.
func (w *Echo) Mailbox() *actor.Mailbox {
	return w.mailbox
}

// Run drains assignments until ctx is cancelled.
func (w *Echo) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.mailbox.C():
			assignment, ok := msg.(actor.TaskAssignment)
			if !ok {
				w.logger.Warn("unexpected message in worker mailbox")
				continue
			}
			w.execute(ctx, assignment)
		}
	}
}

func (w *Echo) execute(ctx context.Context, assignment actor.TaskAssignment) {
	w.logger.Info("executing task", "seq", assignment.Seq, "task", assignment.TaskText)

	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.delay):
		}
	}

	result := actor.TaskResult{
		Seq:    assignment.Seq,
		Status: actor.StatusDone,
		Detail: "echo: " + assignment.TaskText,
	}
	if err := w.router.Send(w.orchestrator, result); err != nil {
		w.logger.Error("reporting result", "seq", assignment.Seq, "error", err)
	}
}
