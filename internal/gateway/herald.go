// ABOUTME: Front-door actor loop that turns routed responses into client deliveries.
// ABOUTME: Persists each delivery to the transcript and dedupes narration lines.

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
	"github.com/pantheon-dev/pantheon-gateway/internal/clients"
	"github.com/pantheon-dev/pantheon-gateway/internal/store"
)

// outboundMessage is the wire shape delivered to clients.
type outboundMessage struct {
	Text        string `json:"text"`
	OriginAgent string `json:"origin_agent"`
	Kind        string `json:"kind"`
}

// runHerald drains the front-door mailbox until ctx is cancelled.
func (g *Gateway) runHerald(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.heraldMailbox.C():
			switch m := msg.(type) {
			case actor.TaskResponse:
				g.deliverResponse(ctx, m)
			case actor.AnalysisNotice:
				g.deliverAnalysis(ctx, m)
			default:
				g.logger.Warn("unexpected message in front-door mailbox")
			}
		}
	}
}

// deliverResponse sends a task response to its origin client, or broadcasts
// when no client is addressed.
func (g *Gateway) deliverResponse(ctx context.Context, resp actor.TaskResponse) {
	out := outboundMessage{
		Text:        resp.Text,
		OriginAgent: resp.OriginAgent,
		Kind:        string(store.KindTaskResponse),
	}

	if resp.ClientID == "" {
		g.hub.Broadcast(ctx, out)
	} else if err := g.hub.SendTo(ctx, resp.ClientID, out); err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			g.logger.Debug("response for disconnected client recorded for replay", "client_id", resp.ClientID)
		} else {
			g.logger.Warn("delivering task response", "client_id", resp.ClientID, "error", err)
		}
	}

	g.record(ctx, &store.Delivery{
		ClientID: resp.ClientID,
		Author:   resp.OriginAgent,
		Kind:     store.KindTaskResponse,
		Text:     resp.Text,
	})
}

// deliverAnalysis broadcasts a narration line unless it repeats a recent one.
func (g *Gateway) deliverAnalysis(ctx context.Context, notice actor.AnalysisNotice) {
	if g.window.Seen(notice.Text) {
		g.logger.Debug("suppressing repeated analysis line")
		return
	}

	g.hub.Broadcast(ctx, outboundMessage{
		Text:        notice.Text,
		OriginAgent: notice.OriginAgent,
		Kind:        string(store.KindAnalysis),
	})

	g.record(ctx, &store.Delivery{
		Author: notice.OriginAgent,
		Kind:   store.KindAnalysis,
		Text:   notice.Text,
	})
}

func (g *Gateway) record(ctx context.Context, d *store.Delivery) {
	d.ID = uuid.New().String()
	d.Timestamp = time.Now()
	if err := g.store.SaveDelivery(ctx, d); err != nil {
		g.logger.Error("recording delivery", "error", err)
	}
}
