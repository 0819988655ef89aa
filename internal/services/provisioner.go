package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/metrics"
	"github.com/Dhoini/subscription-service/internal/repository"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

const defaultStoreTimeout = 5 * time.Second

// Timeouts ограничения на внешние вызовы
type Timeouts struct {
	Call  time.Duration // вызовы процессора
	Store time.Duration // чтение и запись LocalSubscriptionStore
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Call <= 0 {
		t.Call = defaultCallTimeout
	}
	if t.Store <= 0 {
		t.Store = defaultStoreTimeout
	}
	return t
}

// SubscriptionProvisioner сага подключения подписки:
// проверенная авторизация -> клиент -> метод оплаты -> подписка -> локальная запись.
// Отката нет: уже выполненные у процессора шаги не отменяются, повтор сверху безопасен.
type SubscriptionProvisioner struct {
	authorizer    *PaymentAuthorizer
	binder        *PaymentMethodBinder
	subscriptions SubscriptionGateway
	plans         PlanResolver
	store         repository.SubscriptionStore
	notifier      RecordNotifier
	metrics       metrics.ProvisioningMetrics
	timeouts      Timeouts
	log           *logger.Logger
}

// NewSubscriptionProvisioner notifier может быть nil.
func NewSubscriptionProvisioner(
	authorizer *PaymentAuthorizer,
	binder *PaymentMethodBinder,
	subscriptions SubscriptionGateway,
	plans PlanResolver,
	store repository.SubscriptionStore,
	notifier RecordNotifier,
	m metrics.ProvisioningMetrics,
	timeouts Timeouts,
	log *logger.Logger,
) *SubscriptionProvisioner {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &SubscriptionProvisioner{
		authorizer:    authorizer,
		binder:        binder,
		subscriptions: subscriptions,
		plans:         plans,
		store:         store,
		notifier:      notifier,
		metrics:       m,
		timeouts:      timeouts.withDefaults(),
		log:           log,
	}
}

// Provision выполняет сагу. Статус incomplete - нормальный результат:
// первый счет клиент подтверждает сам по ClientSecret.
func (p *SubscriptionProvisioner) Provision(ctx context.Context, in domain.ProvisionInput) (*domain.ProvisionResult, error) {
	start := time.Now()
	log := p.log.With("authorizationID", in.AuthorizationID, "planID", in.PlanID, "interval", in.Interval)

	result, state, err := p.provision(ctx, in, log)
	if err != nil {
		log.Warnw("Provisioning failed", "state", string(domain.StateFailed), "lastState", string(state), "kind", string(domain.KindOf(err)), "error", err)
		p.metrics.IncProvisioningFailed(string(domain.KindOf(err)))
		p.metrics.ObserveProvisioningDuration(metrics.OutcomeFailed, time.Since(start))
		return nil, err
	}

	p.metrics.IncProvisioned(string(result.Status))
	p.metrics.ObserveProvisioningDuration(metrics.OutcomeProvisioned, time.Since(start))
	log.Infow("Subscription provisioned", "subscriptionID", result.SubscriptionID, "status", string(result.Status), "duration", time.Since(start))
	return result, nil
}

// provision возвращает последнее достигнутое состояние для логов.
func (p *SubscriptionProvisioner) provision(ctx context.Context, in domain.ProvisionInput, log *logger.Logger) (*domain.ProvisionResult, domain.ProvisioningState, error) {
	state := domain.StateAuthorizationPending

	in = trimProvisionInput(in)
	if err := validateInput(in); err != nil {
		return nil, state, err
	}
	email := repository.NormalizeEmail(in.CustomerEmail)

	auth, err := p.authorizer.GetAuthorization(ctx, in.AuthorizationID)
	if err != nil {
		return nil, state, err
	}
	if !auth.Succeeded() {
		return nil, state, domain.NewNotReadyError("authorization %s is %s, expected %s", auth.ID, auth.Status, domain.AuthorizationSucceeded)
	}
	state = domain.StateAuthorizationVerified
	log.Debugw("Provisioning state", "state", string(state))

	customer, err := p.authorizer.ResolveCustomer(ctx, email)
	if err != nil {
		return nil, state, err
	}

	if auth.PaymentMethodID == "" {
		return nil, state, domain.NewMissingPaymentMethodError(auth.ID)
	}
	if _, err := p.binder.Bind(ctx, customer.ID, auth.PaymentMethodID); err != nil {
		return nil, state, err
	}
	state = domain.StateMethodBound
	log.Debugw("Provisioning state", "state", string(state), "stripeCustomerID", customer.ID)

	price, err := p.plans.PriceFor(in.PlanID, in.Interval)
	if err != nil {
		return nil, state, err
	}

	planID := strings.ToLower(strings.TrimSpace(in.PlanID))
	interval := strings.ToLower(strings.TrimSpace(in.Interval))
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Call)
	sub, err := p.subscriptions.CreateSubscription(callCtx, domain.CreateSubscriptionParams{
		CustomerID:      customer.ID,
		PriceID:         price,
		PaymentMethodID: auth.PaymentMethodID,
		IdempotencyKey:  SubscriptionIdempotencyKey(auth.ID, price),
		Metadata: map[string]string{
			domain.MetadataPlanID:        planID,
			domain.MetadataInterval:      interval,
			domain.MetadataCustomerEmail: email,
		},
	})
	cancel()
	if err != nil {
		return nil, state, fmt.Errorf("create subscription: %w", err)
	}
	state = domain.StateSubscriptionCreated
	log.Debugw("Provisioning state", "state", string(state), "subscriptionID", sub.ID, "status", string(sub.Status))

	if err := p.saveRecord(ctx, email, customer.ID, planID, sub); err != nil {
		return nil, state, err
	}

	return &domain.ProvisionResult{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		ClientSecret:   sub.ClientSecret,
	}, state, nil
}

// saveRecord пишет локальную запись по тому же правилу порядка, что и вебхуки:
// если вебхук уже записал более новое состояние, оно остается.
func (p *SubscriptionProvisioner) saveRecord(ctx context.Context, email, customerID, planID string, sub *domain.Subscription) error {
	occurredAt := sub.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	rec := domain.LocalSubscriptionRecord{
		CustomerEmail:      email,
		StripeCustomerID:   customerID,
		SubscriptionID:     sub.ID,
		PlanID:             planID,
		Status:             sub.Status,
		LastEventID:        domain.ProvisioningEventID(sub.ID),
		LastEventTimestamp: occurredAt,
		UpdatedAt:          time.Now().UTC(),
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.timeouts.Store)
	defer cancel()
	stored, err := p.store.Upsert(storeCtx, rec)
	if err != nil {
		return domain.NewStoreWriteError(err, "subscription %s was created but the local record was not saved", sub.ID)
	}

	if stored.LastEventID == rec.LastEventID {
		p.notifier.SubscriptionProvisioned(*stored)
	} else {
		p.log.Infow("Local record already reflects a newer event", "subscriptionID", sub.ID, "lastEventID", stored.LastEventID)
	}
	return nil
}

// SubscriptionIdempotencyKey один ключ на пару авторизация+цена:
// повтор саги сверху получает ту же подписку, а не вторую.
func SubscriptionIdempotencyKey(authorizationID, priceID string) string {
	return "sub-create-" + authorizationID + "-" + priceID
}

// trimProvisionInput поле из одних пробелов считается пустым и не проходит required.
func trimProvisionInput(in domain.ProvisionInput) domain.ProvisionInput {
	in.PlanID = strings.TrimSpace(in.PlanID)
	in.Interval = strings.TrimSpace(in.Interval)
	in.AuthorizationID = strings.TrimSpace(in.AuthorizationID)
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	return in
}
