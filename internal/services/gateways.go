package services

import (
	"context"

	"github.com/Dhoini/subscription-service/internal/domain"
)

// Интерфейсы процессора платежей, которыми пользуются сервисы.
// *stripe.Client реализует их все.

// AuthorizationGateway разовые авторизации (PaymentIntent)
type AuthorizationGateway interface {
	CreatePaymentIntent(ctx context.Context, in domain.CreateAuthorizationInput, customerID string) (*domain.PaymentAuthorization, error)
	GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentAuthorization, error)
}

// CustomerGateway клиенты процессора
type CustomerGateway interface {
	FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, email string) (*domain.Customer, error)
}

// PaymentMethodGateway методы оплаты
type PaymentMethodGateway interface {
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

// SubscriptionGateway создание подписок
type SubscriptionGateway interface {
	CreateSubscription(ctx context.Context, p domain.CreateSubscriptionParams) (*domain.Subscription, error)
}

// PlanResolver каталог тарифов только для чтения
type PlanResolver interface {
	PriceFor(planID, interval string) (string, error)
}

// RecordNotifier оповещает об изменениях локальных записей; реализация не блокирует вызывающего.
type RecordNotifier interface {
	SubscriptionProvisioned(rec domain.LocalSubscriptionRecord)
	SubscriptionReconciled(rec domain.LocalSubscriptionRecord, kind domain.EventKind)
}

type nopNotifier struct{}

func (nopNotifier) SubscriptionProvisioned(domain.LocalSubscriptionRecord) {}

func (nopNotifier) SubscriptionReconciled(domain.LocalSubscriptionRecord, domain.EventKind) {}
