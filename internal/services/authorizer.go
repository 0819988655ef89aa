package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

const defaultCallTimeout = 10 * time.Second

// PaymentAuthorizer создает и читает разовые авторизации платежа
// и находит или создает клиента процессора по email.
type PaymentAuthorizer struct {
	customers   CustomerGateway
	intents     AuthorizationGateway
	callTimeout time.Duration
	log         *logger.Logger
}

// NewPaymentAuthorizer callTimeout ограничивает каждый вызов процессора.
func NewPaymentAuthorizer(customers CustomerGateway, intents AuthorizationGateway, callTimeout time.Duration, log *logger.Logger) *PaymentAuthorizer {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &PaymentAuthorizer{
		customers:   customers,
		intents:     intents,
		callTimeout: callTimeout,
		log:         log,
	}
}

// ResolveCustomer возвращает первого клиента с таким email или создает нового.
// Последовательные вызовы идемпотентны. Два одновременных вызова могут создать
// двух клиентов: у процессора нет атомарного find-or-create.
func (a *PaymentAuthorizer) ResolveCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.NewValidationError("customer_email is required")
	}

	findCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	existing, err := a.customers.FindCustomerByEmail(findCtx, email)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve customer: %w", err)
	}
	if existing != nil {
		a.log.Debugw("Reusing existing customer", "stripeCustomerID", existing.ID, "email", email)
		return existing, nil
	}

	createCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	created, err := a.customers.CreateCustomer(createCtx, email)
	if err != nil {
		return nil, fmt.Errorf("resolve customer: %w", err)
	}
	a.log.Infow("Customer created", "stripeCustomerID", created.ID, "email", email)
	return created, nil
}

// CreateAuthorization создает авторизацию на сумму в минимальных единицах валюты.
// customer_email добавляется в метаданные, чтобы вебхуки могли найти запись.
func (a *PaymentAuthorizer) CreateAuthorization(ctx context.Context, in domain.CreateAuthorizationInput) (*domain.AuthorizationResult, error) {
	in.Currency = strings.TrimSpace(in.Currency)
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	customer, err := a.ResolveCustomer(ctx, in.CustomerEmail)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata[domain.MetadataCustomerEmail] = strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	in.Metadata = metadata
	in.Currency = strings.ToLower(in.Currency)

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	auth, err := a.intents.CreatePaymentIntent(callCtx, in, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("create authorization: %w", err)
	}

	a.log.Infow("Authorization created", "authorizationID", auth.ID, "stripeCustomerID", customer.ID, "amount", in.Amount, "currency", in.Currency)
	return &domain.AuthorizationResult{ID: auth.ID, ClientSecret: auth.ClientSecret}, nil
}

// GetAuthorization возвращает авторизацию; NotFound если процессор ее не знает.
func (a *PaymentAuthorizer) GetAuthorization(ctx context.Context, id string) (*domain.PaymentAuthorization, error) {
	if err := requiredID("authorization_id", id); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()
	auth, err := a.intents.GetPaymentIntent(callCtx, id)
	if err != nil {
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	return auth, nil
}
