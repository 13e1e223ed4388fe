// ABOUTME: In-process delivery endpoint backed by a buffered channel.
// ABOUTME: The owning actor drains the channel in its own run loop.

package actor

import (
	"errors"
	"log/slog"
)

// ErrMailboxFull indicates the target actor is not draining its mailbox fast
// enough. The message is dropped rather than blocking the sender.
var ErrMailboxFull = errors.New("mailbox full")

// Mailbox is the default Endpoint for actors running inside this process.
// Delivery is non-blocking; a single consumer draining C preserves
// per-sender ordering because every sender enqueues on the same channel.
type Mailbox struct {
	name   string
	ch     chan Message
	logger *slog.Logger
}

// NewMailbox creates a mailbox with the given buffer size.
func NewMailbox(name string, size int, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	return &Mailbox{
		name:   name,
		ch:     make(chan Message, size),
		logger: logger.With("component", "mailbox", "actor", name),
	}
}

// Deliver enqueues a message without blocking. If the buffer is full the
// message is dropped and ErrMailboxFull returned.
func (m *Mailbox) Deliver(msg Message) error {
	select {
	case m.ch <- msg:
		return nil
	default:
		m.logger.Warn("mailbox full, dropping message", "message_type", typeName(msg))
		return ErrMailboxFull
	}
}

// C returns the receive side of the mailbox for the owning actor's run loop.
func (m *Mailbox) C() <-chan Message {
	return m.ch
}

func typeName(msg Message) string {
	switch msg.(type) {
	case TaskRequest:
		return "task_request"
	case TaskAssignment:
		return "task_assignment"
	case TaskResult:
		return "task_result"
	case TaskResponse:
		return "task_response"
	case AnalysisNotice:
		return "analysis_notice"
	default:
		return "unknown"
	}
}
