// Package reviewqueue hands ingested moderation events to the platform's
// review queue. From the bridge's perspective the queue is
// fire-and-forget: Enqueue either lands the item on the platform stream
// or returns an error for the caller to log and skip.
package reviewqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/apps/labeler-bridge-service/internal/natsclient"
)

// SubjectEnqueued is the outbox subject the DOMAIN_EVENTS stream captures
// for review items ("outbox.>" per the platform convention).
const SubjectEnqueued = "outbox.labeler.review.enqueued"

// Item is one unit of review work derived from an inbound labeler event.
type Item struct {
	TenantID      string          `json:"tenant_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	PolicyIDs     []string        `json:"policy_ids,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// Queue enqueues review items.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
}

// NATSQueue publishes items to the platform stream via JetStream,
// awaiting the ack so delivery is at-least-once.
type NATSQueue struct {
	nats   *natsclient.Client
	logger *zap.Logger
}

var _ Queue = (*NATSQueue)(nil)

// NewNATSQueue wraps a connected NATS client.
func NewNATSQueue(nc *natsclient.Client, logger *zap.Logger) *NATSQueue {
	return &NATSQueue{nats: nc, logger: logger}
}

// Enqueue publishes the item. Marshal failures and publish failures both
// surface to the caller; the scheduler logs and moves on.
func (q *NATSQueue) Enqueue(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode review item: %w", err)
	}

	if _, err := q.nats.JS.Publish(SubjectEnqueued, data); err != nil {
		return fmt.Errorf("publish review item: %w", err)
	}

	q.logger.Debug("review item enqueued",
		zap.String("tenant_id", item.TenantID),
		zap.String("correlation_id", item.CorrelationID),
	)
	return nil
}
