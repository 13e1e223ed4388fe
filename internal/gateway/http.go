// ABOUTME: HTTP and WebSocket surface of the gateway.
// ABOUTME: Client duplex endpoint, worker link, relay endpoint, and the JSON APIs.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
	"github.com/pantheon-dev/pantheon-gateway/internal/clients"
	"github.com/pantheon-dev/pantheon-gateway/internal/orchestrator"
	"github.com/pantheon-dev/pantheon-gateway/internal/worker"
)

// clientFrame is one inbound message on a client connection.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{client_id}", g.handleClientWS)
	mux.HandleFunc("GET /ws/worker", g.handleWorkerWS)
	mux.Handle("GET /relay", g.relay)
	mux.HandleFunc("POST /api/query", g.handleQuery)
	mux.HandleFunc("POST /api/analysis", g.handleAnalysis)
	mux.HandleFunc("GET /api/history", g.handleHistory)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	return mux
}

// handleClientWS registers a duplex client connection and feeds its task
// frames to the orchestrator.
func (g *Gateway) handleClientWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // browser clients connect from arbitrary origins
	})
	if err != nil {
		g.logger.Warn("client accept failed", "client_id", clientID, "error", err)
		return
	}

	conn := clients.NewWSConn(ws)
	g.hub.Connect(clientID, conn)
	defer func() {
		g.hub.Disconnect(conn)
		ws.CloseNow()
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.logger.Warn("dropping malformed client frame", "client_id", clientID, "error", err)
			continue
		}

		switch frame.Type {
		case "task":
			if frame.Text == "" {
				g.logger.Warn("dropping empty task frame", "client_id", clientID)
				continue
			}
			req := actor.TaskRequest{RawText: frame.Text, OriginClient: clientID}
			if err := g.router.Send(orchestrator.Name, req); err != nil {
				g.logger.Error("routing task request", "client_id", clientID, "error", err)
			}
		default:
			g.logger.Warn("dropping client frame of unknown type", "client_id", clientID, "type", frame.Type)
		}
	}
}

// handleWorkerWS attaches a remote worker process. When the link drops, the
// built-in echo worker (if enabled) is re-registered so dispatches do not
// dead-end on an unknown actor.
func (g *Gateway) handleWorkerWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("worker accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	err = worker.ServeLink(r.Context(), ws, g.registry, g.router, g.config.Actors.WorkerName, orchestrator.Name, g.logger)
	if err != nil {
		g.logger.Warn("worker link ended", "error", err)
	}

	if g.echo != nil {
		g.registry.Register(g.config.Actors.WorkerName, g.echo.Mailbox())
	}
}

// handleQuery accepts a task submission over plain HTTP.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawText  string `json:"rawText"`
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.RawText == "" {
		http.Error(w, "rawText is required", http.StatusBadRequest)
		return
	}

	msg := actor.TaskRequest{RawText: req.RawText, OriginClient: req.ClientID}
	if err := g.router.Send(orchestrator.Name, msg); err != nil {
		g.logger.Error("routing task request", "error", err)
		http.Error(w, "orchestrator unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleAnalysis is the analysis producer boundary: narration lines posted
// here are routed to the front-door actor for dedupe and broadcast.
func (g *Gateway) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text        string `json:"text"`
		OriginAgent string `json:"originAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	msg := actor.AnalysisNotice{Text: req.Text, OriginAgent: req.OriginAgent}
	if err := g.router.Send(HeraldName, msg); err != nil {
		g.logger.Error("routing analysis notice", "error", err)
		http.Error(w, "front-door unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleHistory returns the delivery transcript visible to a client.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	deliveries, err := g.store.ListDeliveries(r.Context(), clientID, limit)
	if err != nil {
		g.logger.Error("listing deliveries", "client_id", clientID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type historyEntry struct {
		ID          string    `json:"id"`
		Text        string    `json:"text"`
		OriginAgent string    `json:"origin_agent"`
		Kind        string    `json:"kind"`
		Timestamp   time.Time `json:"timestamp"`
	}
	out := make([]historyEntry, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, historyEntry{
			ID:          d.ID,
			Text:        d.Text,
			OriginAgent: d.Author,
			Kind:        string(d.Kind),
			Timestamp:   d.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth reports liveness plus a small status snapshot.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	busy, queued := g.orch.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"busy":    busy,
		"queued":  queued,
		"clients": g.hub.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
