package domain

import "time"

// SubscriptionStatus статус подписки. Словарь процессора может расширяться,
// неизвестные значения передаются как есть.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
)

// IsTerminal терминальные статусы не переоткрываются событиями об оплате.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

// SubscriptionInterval период подписки
type SubscriptionInterval string

const (
	SubscriptionIntervalDay   SubscriptionInterval = "day"
	SubscriptionIntervalWeek  SubscriptionInterval = "week"
	SubscriptionIntervalMonth SubscriptionInterval = "month"
	SubscriptionIntervalYear  SubscriptionInterval = "year"
)

// Subscription подписка на стороне процессора. После создания меняется только вебхуками.
type Subscription struct {
	ID              string             `json:"id"`
	CustomerID      string             `json:"customer_id"`
	PlanID          string             `json:"plan_id"`
	Interval        string             `json:"interval"`
	Status          SubscriptionStatus `json:"status"`
	LatestInvoiceID string             `json:"latest_invoice_id,omitempty"`
	ClientSecret    string             `json:"-"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// CreateSubscriptionParams запрос на создание подписки у процессора
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}
