package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// PaymentBehaviorDefaultIncomplete подписка создается в incomplete до оплаты первого счета
	PaymentBehaviorDefaultIncomplete = "default_incomplete"
	expandLatestInvoicePaymentIntent = "latest_invoice.payment_intent"
)

// Client реализует шлюзы авторизаций, клиентов, методов оплаты и подписок поверх stripe-go.
// Таймауты задает вызывающий через ctx.
type Client struct {
	api *client.API
	log *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
// backends == nil - боевые адреса Stripe; в тестах передается backend на httptest.Server.
func NewStripeClient(apiKey string, backends *stripe.Backends, log *logger.Logger) *Client {
	sc := &client.API{}
	sc.Init(apiKey, backends)
	return &Client{
		api: sc,
		log: log,
	}
}

// CreatePaymentIntent создает разовую авторизацию для клиента.
// setup_future_usage=off_session привязывает подтвержденный метод к клиенту для будущих счетов.
func (sc *Client) CreatePaymentIntent(ctx context.Context, in domain.CreateAuthorizationInput, customerID string) (*domain.PaymentAuthorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(in.Amount),
		Currency:         stripe.String(in.Currency),
		Customer:         stripe.String(customerID),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := sc.api.PaymentIntents.New(params)
	if err != nil {
		logStripeError(sc.log, "CreatePaymentIntent", err)
		return nil, wrapError("create payment intent", "authorization", "", err)
	}

	sc.log.Infow("Stripe payment intent created", "paymentIntentID", pi.ID, "stripeCustomerID", customerID, "amount", pi.Amount)
	return toAuthorization(pi), nil
}

// GetPaymentIntent возвращает авторизацию по id.
func (sc *Client) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentAuthorization, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := sc.api.PaymentIntents.Get(id, params)
	if err != nil {
		logStripeError(sc.log, "GetPaymentIntent", err)
		return nil, wrapError("get payment intent", "authorization", id, err)
	}
	return toAuthorization(pi), nil
}

// FindCustomerByEmail ищет первого клиента с данным email; nil, nil если такого нет.
// Используется List, а не Search: Search индексируется с задержкой и
// повторный вызов сразу после создания клиента его бы не нашел.
func (sc *Client) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	sc.log.Debugw("Listing Stripe customers by email", "email", email)

	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	customers := sc.api.Customers.List(params)
	if customers.Next() {
		cus := customers.Customer()
		sc.log.Debugw("Found existing Stripe customer", "stripeCustomerID", cus.ID, "email", email)
		return &domain.Customer{ID: cus.ID, Email: cus.Email}, nil
	}
	if err := customers.Err(); err != nil {
		logStripeError(sc.log, "ListCustomers", err)
		return nil, wrapError("list customers", "customer", email, err)
	}
	return nil, nil
}

// CreateCustomer создает нового клиента в Stripe.
func (sc *Client) CreateCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx

	cus, err := sc.api.Customers.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCustomer", err)
		return nil, wrapError("create customer", "customer", email, err)
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "email", email)
	return &domain.Customer{ID: cus.ID, Email: cus.Email}, nil
}

// GetPaymentMethod возвращает метод оплаты вместе с клиентом, к которому он привязан.
func (sc *Client) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx

	pm, err := sc.api.PaymentMethods.Get(id, params)
	if err != nil {
		logStripeError(sc.log, "GetPaymentMethod", err)
		return nil, wrapError("get payment method", "payment method", id, err)
	}

	out := &domain.PaymentMethod{ID: pm.ID}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	return out, nil
}

// AttachPaymentMethod привязывает метод оплаты к клиенту.
func (sc *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	if _, err := sc.api.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		logStripeError(sc.log, "AttachPaymentMethod", err)
		return wrapError("attach payment method", "payment method", paymentMethodID, err)
	}

	sc.log.Infow("Payment method attached", "paymentMethodID", paymentMethodID, "stripeCustomerID", customerID)
	return nil
}

// SetDefaultPaymentMethod делает метод оплаты методом по умолчанию для счетов клиента.
// Stripe хранит одно значение, так что предыдущий метод по умолчанию вытесняется.
func (sc *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := sc.api.Customers.Update(customerID, params); err != nil {
		logStripeError(sc.log, "SetDefaultPaymentMethod", err)
		return wrapError("set default payment method", "customer", customerID, err)
	}

	sc.log.Infow("Default payment method set", "paymentMethodID", paymentMethodID, "stripeCustomerID", customerID)
	return nil
}

// CreateSubscription создает подписку с payment_behavior=default_incomplete и сразу
// раскрывает latest_invoice.payment_intent, чтобы клиент получил client_secret без второго запроса.
func (sc *Client) CreateSubscription(ctx context.Context, p domain.CreateSubscriptionParams) (*domain.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(p.PriceID),
			},
		},
		PaymentBehavior: stripe.String(PaymentBehaviorDefaultIncomplete),
	}
	if p.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(p.PaymentMethodID)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand(expandLatestInvoicePaymentIntent)

	sub, err := sc.api.Subscriptions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateSubscription", err)
		return nil, wrapError("create subscription", "subscription", "", err)
	}

	sc.log.Infow("Stripe subscription created", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))

	out := toSubscription(sub)
	if out.ClientSecret == "" {
		sc.log.Warnw("No payment intent or client secret found in created subscription", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))
	}
	return out, nil
}

func toAuthorization(pi *stripe.PaymentIntent) *domain.PaymentAuthorization {
	out := &domain.PaymentAuthorization{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       domain.AuthorizationStatus(pi.Status),
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	return out
}

func toSubscription(sub *stripe.Subscription) *domain.Subscription {
	out := &domain.Subscription{
		ID:       sub.ID,
		Status:   domain.SubscriptionStatus(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Created > 0 {
		out.CreatedAt = time.Unix(sub.Created, 0).UTC()
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	out.PlanID = sub.Metadata[domain.MetadataPlanID]
	out.Interval = sub.Metadata[domain.MetadataInterval]
	if sub.LatestInvoice != nil {
		out.LatestInvoiceID = sub.LatestInvoice.ID
		if sub.LatestInvoice.PaymentIntent != nil {
			out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
		}
	}
	return out
}

// wrapError переводит ошибку stripe-go в доменную: resource_missing -> not_found,
// остальное -> processor_error с сообщением Stripe.
func wrapError(op, entity, id string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing && id != "" {
			return fmt.Errorf("stripe: %s: %w", op, domain.NewNotFoundError(entity, id))
		}
		return domain.NewProcessorError(err, "stripe: %s: %s", op, stripeErr.Msg)
	}
	return domain.NewProcessorError(err, "stripe: %s failed", op)
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
