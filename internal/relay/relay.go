// ABOUTME: Per-client duplex proxy to an upstream streaming WebSocket service.
// ABOUTME: Negotiates one handshake frame pair, then forwards in both directions until either side closes.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	defaultDialTimeout = 10 * time.Second

	// maxFrameBytes bounds a single relayed frame. Streaming model output can
	// carry inline audio chunks, so the default 32 KiB websocket limit is too
	// small.
	maxFrameBytes = 4 << 20
)

// Config holds the upstream endpoint the relay proxies to.
type Config struct {
	// UpstreamURL is the upstream WebSocket URL (wss://...).
	UpstreamURL string
	// APIKey is appended to the upstream URL as the key query parameter.
	// Missing credentials are a configuration error surfaced at session
	// start: the client is closed with a policy close code before dialing.
	APIKey string
	// DialTimeout bounds the upstream connect; zero selects the default.
	DialTimeout time.Duration
}

// Handler accepts client websocket connections and runs one relay session
// per connection. Sessions are fully independent: closing one client never
// affects another.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a relay handler.
func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Handler{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
	}
}

// ServeHTTP upgrades the request and runs the session to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // browser clients connect from arbitrary origins
	})
	if err != nil {
		h.logger.Warn("relay accept failed", "error", err)
		return
	}
	client.SetReadLimit(maxFrameBytes)

	s := &session{
		id:     uuid.New().String(),
		client: client,
	}
	s.logger = h.logger.With("session_id", s.id)

	s.logger.Info("relay session opened", "remote", r.RemoteAddr)
	h.run(r.Context(), s)
	s.logger.Info("relay session closed", "handshake_complete", s.handshakeComplete)
}

// session owns one client connection and one upstream connection for its
// lifetime. Neither is shared across sessions.
type session struct {
	id                string
	client            *websocket.Conn
	upstream          *websocket.Conn
	handshakeComplete bool
	logger            *slog.Logger
}

// run drives the session: connect upstream, exchange the handshake pair,
// then relay full duplex. Both connections are released on every exit path.
func (h *Handler) run(ctx context.Context, s *session) {
	defer s.client.CloseNow()

	if h.cfg.APIKey == "" {
		s.logger.Error("upstream credentials not configured")
		_ = s.client.Close(websocket.StatusPolicyViolation, "upstream credentials not configured")
		return
	}

	upstreamURL, err := h.upstreamURL()
	if err != nil {
		s.logger.Error("invalid upstream url", "error", err)
		_ = s.client.Close(websocket.StatusInternalError, "invalid upstream url")
		return
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, h.cfg.DialTimeout)
	upstream, _, err := websocket.Dial(dialCtx, upstreamURL, nil)
	cancelDial()
	if err != nil {
		// No retry: the session terminates immediately.
		s.logger.Error("upstream connect failed", "error", err)
		_ = s.client.Close(websocket.StatusInternalError, "upstream connect failed")
		return
	}
	upstream.SetReadLimit(maxFrameBytes)
	s.upstream = upstream
	defer s.upstream.CloseNow()

	if err := s.handshake(ctx); err != nil {
		// Closing the client mid-handshake lands here; the deferred closes
		// release the upstream connection before forwarding ever starts.
		s.logger.Info("handshake aborted", "error", err)
		return
	}

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.upstreamToClient(relayCtx)
	}()

	s.clientToUpstream(relayCtx)
	cancel()
	<-done

	_ = s.client.Close(websocket.StatusNormalClosure, "")
	_ = s.upstream.Close(websocket.StatusNormalClosure, "")
}

// handshake forwards the first client frame verbatim upstream, waits for
// exactly one upstream response, and forwards it verbatim back. Until this
// completes no independent listener runs.
func (s *session) handshake(ctx context.Context) error {
	typ, setup, err := s.client.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading client setup frame: %w", err)
	}
	if err := s.upstream.Write(ctx, typ, setup); err != nil {
		return fmt.Errorf("forwarding setup frame: %w", err)
	}

	typ, ack, err := s.upstream.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading upstream ack frame: %w", err)
	}
	if err := s.client.Write(ctx, typ, ack); err != nil {
		return fmt.Errorf("forwarding ack frame: %w", err)
	}

	s.handshakeComplete = true
	s.logger.Debug("handshake complete")
	return nil
}

// clientToUpstream forwards client frames upstream. Frames that do not
// decode as JSON are logged and dropped without ending the session;
// transport errors end it.
func (s *session) clientToUpstream(ctx context.Context) {
	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			s.logger.Debug("client leg closed", "error", err)
			return
		}
		if !json.Valid(data) {
			s.logger.Warn("dropping malformed client frame", "bytes", len(data))
			continue
		}
		if err := s.upstream.Write(ctx, typ, data); err != nil {
			s.logger.Debug("upstream write failed", "error", err)
			return
		}
	}
}

// upstreamToClient forwards upstream frames to the client verbatim as they
// arrive, no buffering or reordering.
func (s *session) upstreamToClient(ctx context.Context) {
	for {
		typ, data, err := s.upstream.Read(ctx)
		if err != nil {
			s.logger.Debug("upstream leg closed", "error", err)
			return
		}
		if err := s.client.Write(ctx, typ, data); err != nil {
			s.logger.Debug("client write failed", "error", err)
			return
		}
	}
}

// upstreamURL appends the API key to the configured upstream URL.
func (h *Handler) upstreamURL() (string, error) {
	u, err := url.Parse(h.cfg.UpstreamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("key", h.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
