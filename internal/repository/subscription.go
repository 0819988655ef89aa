package repository

import (
	"context"
	"strings"

	"github.com/Dhoini/subscription-service/internal/domain"
)

// SubscriptionStore граница хранения LocalSubscriptionRecord.
// Upsert атомарен и сам применяет правило порядка: запись с более старым
// LastEventTimestamp не перезаписывает более новую. Возвращается то, что реально хранится.
type SubscriptionStore interface {
	// FindByCustomer возвращает запись по email клиента или ErrNotFound.
	FindByCustomer(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error)

	// FindBySubscriptionID возвращает запись по id подписки процессора или ErrNotFound.
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.LocalSubscriptionRecord, error)

	// Upsert создает или обновляет запись по email.
	Upsert(ctx context.Context, rec domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error)

	// ReplaceIfUnchanged пишет rec, только если хранимая запись все еще имеет
	// LastEventID == expectedLastEventID (пустое значение: записи с этим email еще нет).
	// Правило порядка действует и здесь. Иначе ErrConflict, и вызывающий перечитывает запись.
	ReplaceIfUnchanged(ctx context.Context, rec domain.LocalSubscriptionRecord, expectedLastEventID string) (*domain.LocalSubscriptionRecord, error)
}

// NormalizeEmail ключ записи: email в нижнем регистре без пробелов по краям.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// mergeRecord применяет incoming поверх current по правилу порядка.
// Пустые поля идентичности incoming не затирают известные значения.
// Возвращает итоговую запись и признак того, что incoming был применен.
func mergeRecord(current *domain.LocalSubscriptionRecord, incoming domain.LocalSubscriptionRecord) (domain.LocalSubscriptionRecord, bool) {
	if current == nil {
		return incoming, true
	}
	if !current.SupersededBy(incoming.LastEventTimestamp) {
		return *current, false
	}
	merged := incoming
	if merged.StripeCustomerID == "" {
		merged.StripeCustomerID = current.StripeCustomerID
	}
	if merged.SubscriptionID == "" {
		merged.SubscriptionID = current.SubscriptionID
	}
	if merged.PlanID == "" {
		merged.PlanID = current.PlanID
	}
	if merged.Status == "" {
		merged.Status = current.Status
	}
	return merged, true
}
