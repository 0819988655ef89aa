package services

import (
	"github.com/Dhoini/subscription-service/internal/domain"
)

// transition чистая функция перехода записи по событию
type transition func(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord

var transitions = map[domain.EventKind]transition{
	domain.EventSubscriptionCreated:     applySubscriptionStatus,
	domain.EventSubscriptionUpdated:     applySubscriptionStatus,
	domain.EventSubscriptionDeleted:     applySubscriptionDeleted,
	domain.EventInvoicePaymentSucceeded: applyInvoicePaid,
	domain.EventInvoicePaymentFailed:    applyInvoiceFailed,
	domain.EventAuthorizationSucceeded:  applyAuthorizationSucceeded,
}

// adoptSubscription переносит идентичность из события. Если событие про другую подписку
// (предыдущая уже завершена), запись начинается заново для новой подписки.
func adoptSubscription(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	if s.SubscriptionID != "" && s.SubscriptionID != rec.SubscriptionID {
		rec.SubscriptionID = s.SubscriptionID
		rec.Status = ""
	}
	if s.CustomerID != "" {
		rec.StripeCustomerID = s.CustomerID
	}
	if s.PlanID != "" {
		rec.PlanID = s.PlanID
	}
	return rec
}

// created/updated: статус процессора копируется как есть, включая незнакомые значения.
// Завершенная подписка не открывается заново.
func applySubscriptionStatus(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	rec = adoptSubscription(rec, s)
	if rec.Status.IsTerminal() || s.Status == "" {
		return rec
	}
	rec.Status = s.Status
	return rec
}

func applySubscriptionDeleted(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	rec = adoptSubscription(rec, s)
	rec.Status = domain.SubscriptionStatusCanceled
	return rec
}

// applyInvoicePaid оплаченный счет активирует только incomplete и past_due.
// Пустой статус у записи, созданной самим событием, считается incomplete.
func applyInvoicePaid(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	rec = adoptSubscription(rec, s)
	switch rec.Status {
	case "", domain.SubscriptionStatusIncomplete, domain.SubscriptionStatusPastDue:
		rec.Status = domain.SubscriptionStatusActive
	}
	return rec
}

func applyInvoiceFailed(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	rec = adoptSubscription(rec, s)
	if !rec.Status.IsTerminal() {
		rec.Status = domain.SubscriptionStatusPastDue
	}
	return rec
}

// applyAuthorizationSucceeded заполняет только отсутствующую идентичность; статус не трогает.
func applyAuthorizationSucceeded(rec domain.LocalSubscriptionRecord, s domain.EventSubject) domain.LocalSubscriptionRecord {
	if rec.StripeCustomerID == "" {
		rec.StripeCustomerID = s.CustomerID
	}
	if rec.PlanID == "" {
		rec.PlanID = s.PlanID
	}
	return rec
}
