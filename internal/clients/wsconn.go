// ABOUTME: WebSocket-backed implementation of the hub's Conn interface.
// ABOUTME: Serializes writes so broadcast and addressed sends never interleave frames.

package clients

import (
	"context"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSConn adapts a websocket connection to the hub's Conn interface. The
// websocket library allows one concurrent writer; the mutex enforces that
// when broadcasts and addressed sends race.
type WSConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// Send writes msg as one JSON text frame.
func (c *WSConn) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, msg)
}

// Close closes the underlying websocket with a normal closure.
func (c *WSConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
