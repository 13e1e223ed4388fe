// ABOUTME: Tracks live duplex client connections for addressed and broadcast delivery.
// ABOUTME: Dead connections are pruned on addressed send failure or explicit disconnect.

package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClientNotFound indicates no live connection is mapped to the client ID.
var ErrClientNotFound = errors.New("client not found")

const defaultSendTimeout = 5 * time.Second

// Conn is one live duplex channel to a client.
type Conn interface {
	// Send writes one message to the client. A non-nil error marks the
	// connection dead from the hub's point of view.
	Send(ctx context.Context, msg any) error
	// Close terminates the connection.
	Close() error
}

// Hub tracks the active connection set and the client-ID map. It is the only
// state shared across sessions, so every mutation happens under the lock.
type Hub struct {
	mu          sync.RWMutex
	active      map[Conn]struct{}
	byID        map[string]Conn
	logger      *slog.Logger
	sendTimeout time.Duration
}

// NewHub creates an empty hub. sendTimeout bounds each delivery attempt;
// zero selects the default.
func NewHub(sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Hub{
		active:      make(map[Conn]struct{}),
		byID:        make(map[string]Conn),
		logger:      logger.With("component", "hub"),
		sendTimeout: sendTimeout,
	}
}

// Connect registers a live connection under clientID, replacing any prior
// mapping for the same ID. The replaced connection stays in the active set
// until its own disconnect.
func (h *Hub) Connect(clientID string, conn Conn) {
	h.mu.Lock()
	h.active[conn] = struct{}{}
	h.byID[clientID] = conn
	total := len(h.active)
	h.mu.Unlock()

	h.logger.Info("client connected", "client_id", clientID, "total_clients", total)
}

// Disconnect removes a connection from the active set and from any client-ID
// mappings pointing at it.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	delete(h.active, conn)
	var removed []string
	for id, c := range h.byID {
		if c == conn {
			delete(h.byID, id)
			removed = append(removed, id)
		}
	}
	total := len(h.active)
	h.mu.Unlock()

	h.logger.Info("client disconnected", "client_ids", removed, "total_clients", total)
}

// Broadcast delivers msg to every active connection, best effort. A failed
// send is logged and the connection left in place for its own disconnect;
// it never prevents delivery to the others and never surfaces to the caller.
func (h *Hub) Broadcast(ctx context.Context, msg any) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.active))
	for c := range h.active {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.send(ctx, c, msg); err != nil {
			h.logger.Debug("broadcast send failed, leaving connection for disconnect", "error", err)
		}
	}
}

// SendTo delivers msg to the connection mapped to clientID. On send failure
// the connection is treated as implicitly disconnected and pruned rather
// than retried.
func (h *Hub) SendTo(ctx context.Context, clientID string, msg any) error {
	h.mu.RLock()
	conn, ok := h.byID[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrClientNotFound, clientID)
	}

	if err := h.send(ctx, conn, msg); err != nil {
		h.logger.Warn("addressed send failed, pruning connection", "client_id", clientID, "error", err)
		h.Disconnect(conn)
		return fmt.Errorf("sending to %q: %w", clientID, err)
	}
	return nil
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}

// CloseAll disconnects and closes every connection, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.active))
	for c := range h.active {
		conns = append(conns, c)
	}
	h.active = make(map[Conn]struct{})
	h.byID = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) send(ctx context.Context, conn Conn, msg any) error {
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return conn.Send(sendCtx, msg)
}
