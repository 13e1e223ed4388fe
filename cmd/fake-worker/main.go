// ABOUTME: Minimal fake worker for E2E testing. Connects over WebSocket and echoes assignments.
// ABOUTME: Usage: fake-worker [-addr localhost:8080] [-name echo-worker] [-delay 0s]

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
	"github.com/pantheon-dev/pantheon-gateway/internal/worker"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway HTTP address")
	name := flag.String("name", "echo-worker", "worker display name")
	delay := flag.Duration("delay", 0, "artificial delay before each result")
	flag.Parse()

	if err := run(*addr, *name, *delay); err != nil {
		log.Fatal(err)
	}
}

func run(addr, name string, delay time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws/worker", addr)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ws.CloseNow()

	// Register
	if err := wsjson.Write(ctx, ws, worker.Frame{Type: worker.FrameRegister, Name: name}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	// Receive welcome
	var welcome worker.Frame
	if err := wsjson.Read(ctx, ws, &welcome); err != nil {
		return fmt.Errorf("failed to receive welcome: %w", err)
	}
	if welcome.Type != worker.FrameWelcome {
		return fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	fmt.Fprintf(os.Stderr, "registered as %s\n", welcome.Name)

	// Assignment loop
	for {
		var frame worker.Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("read error: %w", err)
		}
		if frame.Type != worker.FrameAssignment {
			fmt.Fprintf(os.Stderr, "ignoring frame type %q\n", frame.Type)
			continue
		}

		if delay > 0 {
			time.Sleep(delay)
		}

		// Assignments prefixed "fail:" report an error result, everything
		// else is echoed back as success.
		result := worker.Frame{
			Type:   worker.FrameResult,
			Seq:    frame.Seq,
			Status: string(actor.StatusDone),
			Detail: "echo: " + frame.Task,
		}
		if rest, ok := strings.CutPrefix(frame.Task, "fail:"); ok {
			result.Status = string(actor.StatusError)
			result.Detail = strings.TrimSpace(rest)
		}

		if err := wsjson.Write(ctx, ws, result); err != nil {
			return fmt.Errorf("failed to send result: %w", err)
		}
		fmt.Fprintf(os.Stderr, "completed seq %d\n", frame.Seq)
	}
}
