// ABOUTME: Fire-and-forget message router over the actor registry.
// ABOUTME: Resolves a target name and hands the message to its endpoint.

package actor

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownActor indicates the target name has no registered endpoint.
// This is a configuration error surfaced at call time, never swallowed.
var ErrUnknownActor = errors.New("unknown actor")

// Router sends typed messages to named actors. Delivery is asynchronous and
// unacknowledged: a nil return means the endpoint accepted the message, not
// that the actor processed it. Ordering is preserved per target because each
// endpoint serializes its own deliveries.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		logger:   logger.With("component", "router"),
	}
}

// Send resolves target and delivers msg to its endpoint.
func (r *Router) Send(target string, msg Message) error {
	_, ep, ok := r.registry.Resolve(target)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActor, target)
	}

	if err := ep.Deliver(msg); err != nil {
		return fmt.Errorf("delivering to %q: %w", target, err)
	}

	r.logger.Debug("message routed", "target", target, "message_type", typeName(msg))
	return nil
}
