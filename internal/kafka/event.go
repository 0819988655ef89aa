package kafka

import (
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
)

// Типы сообщений
const (
	EventTypeProvisioned = "subscription.provisioned"
	EventTypeReconciled  = "subscription.reconciled"
)

// SubscriptionEvent сообщение об изменении локальной записи подписки.
// Ключ сообщения - email клиента, так что изменения одной записи идут в одну партицию.
type SubscriptionEvent struct {
	Type             string                    `json:"type"`
	CustomerEmail    string                    `json:"customer_email"`
	StripeCustomerID string                    `json:"stripe_customer_id,omitempty"`
	SubscriptionID   string                    `json:"subscription_id,omitempty"`
	PlanID           string                    `json:"plan_id,omitempty"`
	Status           domain.SubscriptionStatus `json:"status"`
	SourceEventID    string                    `json:"source_event_id"`
	SourceEventKind  domain.EventKind          `json:"source_event_kind,omitempty"`
	OccurredAt       time.Time                 `json:"occurred_at"`
}

// Key ключ партиционирования
func (e SubscriptionEvent) Key() string {
	return e.CustomerEmail
}

// NewSubscriptionEvent строит сообщение из сохраненной записи
func NewSubscriptionEvent(eventType string, rec domain.LocalSubscriptionRecord, kind domain.EventKind) SubscriptionEvent {
	return SubscriptionEvent{
		Type:             eventType,
		CustomerEmail:    rec.CustomerEmail,
		StripeCustomerID: rec.StripeCustomerID,
		SubscriptionID:   rec.SubscriptionID,
		PlanID:           rec.PlanID,
		Status:           rec.Status,
		SourceEventID:    rec.LastEventID,
		SourceEventKind:  kind,
		OccurredAt:       rec.LastEventTimestamp,
	}
}
