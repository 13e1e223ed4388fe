// ABOUTME: Delivery transcript store interface and record types.
// ABOUTME: Records client-facing messages after delivery so clients can replay missed output.

package store

import (
	"context"
	"time"
)

// DeliveryKind categorizes a recorded delivery.
type DeliveryKind string

const (
	KindTaskResponse DeliveryKind = "task_response"
	KindAnalysis     DeliveryKind = "analysis"
)

// Delivery is one client-facing message recorded after it was handed to the
// connection hub. ClientID is empty for broadcast deliveries.
type Delivery struct {
	ID        string
	ClientID  string
	Author    string
	Kind      DeliveryKind
	Text      string
	Timestamp time.Time
}

// Store persists the delivery transcript. The task queue and in-flight slot
// are deliberately not stored here; only already-delivered output is.
type Store interface {
	SaveDelivery(ctx context.Context, d *Delivery) error
	// ListDeliveries returns the most recent deliveries visible to clientID:
	// its addressed messages plus broadcasts, newest first.
	ListDeliveries(ctx context.Context, clientID string, limit int) ([]Delivery, error)
	Close() error
}
