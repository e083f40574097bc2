// Package notify delivers fire-and-forget notifications through a
// transactional outbox. Domain code enqueues inside its own transaction, so
// a failed delivery can never fail or roll back a state transition; the
// dispatcher drains the table asynchronously with backoff.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Template identifiers consumed by the external mail/push sender.
const (
	TemplateOfferReceived   = "offer.received"
	TemplateOfferCountered  = "offer.countered"
	TemplateOfferAccepted   = "offer.accepted"
	TemplateOfferRejected   = "offer.rejected"
	TemplateOrderOpened     = "order.opened"
	TemplateOrderPaid       = "order.paid"
	TemplateOrderShipped    = "order.shipped"
	TemplateOrderDelivered  = "order.delivered"
	TemplateOrderSettled    = "order.settled"
	TemplateOrderCancelled  = "order.cancelled"
	TemplateShippingOverdue = "order.shipping_overdue"
	TemplateDisputeFiled    = "dispute.filed"
	TemplateDisputeResolved = "dispute.resolved"
	TemplateTradeStarted    = "trade.started"
	TemplateTradeVariant    = "trade.variant_selected"
	TemplateTradeTracking   = "trade.tracking_submitted"
	TemplateTradeCompleted  = "trade.completed"
	TemplateTradeForfeited  = "trade.forfeited"
)

// Message mirrors an outbox row.
type Message struct {
	ID            string
	Recipient     string
	TemplateID    string
	Payload       []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Enqueue records a notification inside the caller's transaction.
func Enqueue(ctx context.Context, tx pgx.Tx, recipient, templateID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (recipient, template_id, payload)
		VALUES ($1, $2, $3::jsonb)
	`, recipient, templateID, body); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}
