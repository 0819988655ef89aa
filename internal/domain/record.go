package domain

import "time"

// LocalSubscriptionRecord локальная проекция подписки, ключ - email клиента.
// LastEventTimestamp не убывает между примененными обновлениями;
// запись никогда не удаляется, только помечается canceled.
type LocalSubscriptionRecord struct {
	CustomerEmail      string             `json:"customer_email" db:"customer_email"`
	StripeCustomerID   string             `json:"stripe_customer_id" db:"stripe_customer_id"`
	SubscriptionID     string             `json:"subscription_id" db:"subscription_id"`
	PlanID             string             `json:"plan_id" db:"plan_id"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	LastEventID        string             `json:"last_event_id" db:"last_event_id"`
	LastEventTimestamp time.Time          `json:"last_event_timestamp" db:"last_event_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// SupersededBy true, если запись с таким моментом события может заменить текущую.
// Равные моменты допускаются: временная метка процессора имеет точность в секунду.
func (r *LocalSubscriptionRecord) SupersededBy(ts time.Time) bool {
	return !ts.Before(r.LastEventTimestamp)
}

// ProvisioningEventID синтетический id последнего события для записи, созданной сагой.
func ProvisioningEventID(subscriptionID string) string {
	return "provisioned:" + subscriptionID
}
