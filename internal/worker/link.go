// ABOUTME: WebSocket link between the gateway and a remote worker process.
// ABOUTME: Frames assignments down the socket and routes result frames back to the orchestrator.

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
)

const (
	registerTimeout = 10 * time.Second
	writeTimeout    = 5 * time.Second
)

// Frame is one JSON message on the worker link, both directions.
type Frame struct {
	Type   string `json:"type"` // register, welcome, assignment, result
	Name   string `json:"name,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Task   string `json:"task,omitempty"`
	Status string `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

const (
	FrameRegister   = "register"
	FrameWelcome    = "welcome"
	FrameAssignment = "assignment"
	FrameResult     = "result"
)

// Link wraps one connected remote worker as a registry endpoint. While the
// link is registered, dispatches for the worker name travel down its socket.
type Link struct {
	ws     *websocket.Conn
	name   string
	logger *slog.Logger
}

// Deliver sends a TaskAssignment as a frame. Any other message variant on a
// worker link is a routing bug and is rejected.
func (l *Link) Deliver(msg actor.Message) error {
	assignment, ok := msg.(actor.TaskAssignment)
	if !ok {
		return errors.New("worker link only carries task assignments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, l.ws, Frame{
		Type: FrameAssignment,
		Seq:  assignment.Seq,
		Task: assignment.TaskText,
	})
}

// ServeLink runs one remote worker connection to completion: registration
// handshake, then a result loop. The worker is registered under workerName
// (replacing any prior binding, including the in-process echo worker) and
// unregistered again when the socket closes; restoring a fallback binding is
// the caller's concern.
func ServeLink(ctx context.Context, ws *websocket.Conn, registry *actor.Registry, router *actor.Router, workerName, orchestratorName string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker-link")

	regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	var reg Frame
	err := wsjson.Read(regCtx, ws, &reg)
	cancel()
	if err != nil {
		return fmt.Errorf("reading register frame: %w", err)
	}
	if reg.Type != FrameRegister {
		return fmt.Errorf("expected register frame, got %q", reg.Type)
	}

	link := &Link{ws: ws, name: reg.Name, logger: logger}
	registry.Register(workerName, link)
	defer registry.Unregister(workerName)

	logger.Info("worker attached", "worker", reg.Name, "as", workerName)

	wCtx, wCancel := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(wCtx, ws, Frame{Type: FrameWelcome, Name: workerName})
	wCancel()
	if err != nil {
		return fmt.Errorf("sending welcome frame: %w", err)
	}

	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			logger.Info("worker detached", "worker", reg.Name, "error", err)
			return nil
		}

		switch frame.Type {
		case FrameResult:
			result := actor.TaskResult{
				Seq:    frame.Seq,
				Status: actor.TaskStatus(frame.Status),
				Detail: frame.Detail,
			}
			if err := router.Send(orchestratorName, result); err != nil {
				logger.Error("routing worker result", "seq", frame.Seq, "error", err)
			}
		default:
			logger.Warn("unexpected frame from worker", "type", frame.Type)
		}
	}
}
