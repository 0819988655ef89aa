package domain

import "time"

// EventKind закрытый набор событий процессора, которые понимает сверка.
// Все прочие типы сводятся к EventUnknown.
type EventKind string

const (
	EventSubscriptionCreated     EventKind = "subscription_created"
	EventSubscriptionUpdated     EventKind = "subscription_updated"
	EventSubscriptionDeleted     EventKind = "subscription_deleted"
	EventInvoicePaymentSucceeded EventKind = "invoice_payment_succeeded"
	EventInvoicePaymentFailed    EventKind = "invoice_payment_failed"
	EventAuthorizationSucceeded  EventKind = "authorization_succeeded"
	EventUnknown                 EventKind = "unknown"
)

// SubscriptionScoped true для событий, которые описывают конкретную подписку.
func (k EventKind) SubscriptionScoped() bool {
	switch k {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// EventSubject нормализованный объект события (subscription, invoice или payment_intent).
type EventSubject struct {
	Object          string             `json:"object"`
	ID              string             `json:"id"`
	SubscriptionID  string             `json:"subscription_id,omitempty"`
	CustomerID      string             `json:"customer_id,omitempty"`
	CustomerEmail   string             `json:"customer_email,omitempty"`
	Status          SubscriptionStatus `json:"status,omitempty"`
	PlanID          string             `json:"plan_id,omitempty"`
	Interval        string             `json:"interval,omitempty"`
	PaymentMethodID string             `json:"payment_method_id,omitempty"`
}

// ProcessorEvent проверенное событие процессора
type ProcessorEvent struct {
	ID         string
	Kind       EventKind
	Type       string
	OccurredAt time.Time
	Subject    EventSubject
}
