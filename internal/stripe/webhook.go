package stripe

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Типы событий Stripe, которые сводятся к закрытому набору domain.EventKind
var eventKinds = map[stripe.EventType]domain.EventKind{
	"customer.subscription.created": domain.EventSubscriptionCreated,
	"customer.subscription.updated": domain.EventSubscriptionUpdated,
	"customer.subscription.deleted": domain.EventSubscriptionDeleted,
	"invoice.payment_succeeded":     domain.EventInvoicePaymentSucceeded,
	"invoice.payment_failed":        domain.EventInvoicePaymentFailed,
	"payment_intent.succeeded":      domain.EventAuthorizationSucceeded,
}

// KindOf сопоставляет тип события Stripe с domain.EventKind.
func KindOf(eventType string) domain.EventKind {
	if kind, ok := eventKinds[stripe.EventType(eventType)]; ok {
		return kind
	}
	return domain.EventUnknown
}

// EventVerifier проверяет подпись Stripe-Signature и разбирает событие.
type EventVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewEventVerifier tolerance == 0 означает webhook.DefaultTolerance (5 минут).
func NewEventVerifier(secret string, tolerance time.Duration) *EventVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &EventVerifier{secret: secret, tolerance: tolerance}
}

// Verify проверяет подпись по сырому телу запроса и возвращает нормализованное событие.
// Подпись считается по байтам как они пришли, поэтому тело нельзя разбирать до проверки.
func (v *EventVerifier) Verify(payload []byte, sigHeader string) (*domain.ProcessorEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, v.secret, v.tolerance); err != nil {
		return nil, domain.NewAuthenticityError(err)
	}
	return ParseEvent(payload)
}

// ParseEvent разбирает уже проверенное тело события.
func ParseEvent(payload []byte) (*domain.ProcessorEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.NewMalformedPayloadError(err, "event body is not valid JSON")
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, domain.NewMalformedPayloadError(nil, "event id and type are required")
	}

	out := &domain.ProcessorEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       KindOf(string(event.Type)),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if out.Kind == domain.EventUnknown {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, domain.NewMalformedPayloadError(nil, "event %s has no data object", event.ID)
	}

	subject, err := parseSubject(out.Kind, event.Data.Raw)
	if err != nil {
		return nil, domain.NewMalformedPayloadError(err, "event %s: cannot decode %s object", event.ID, event.Type)
	}
	out.Subject = *subject
	return out, nil
}

func parseSubject(kind domain.EventKind, raw json.RawMessage) (*domain.EventSubject, error) {
	switch kind {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return subscriptionSubject(&sub)
	case domain.EventInvoicePaymentSucceeded, domain.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		return invoiceSubject(&inv)
	case domain.EventAuthorizationSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		return authorizationSubject(&pi)
	}
	return nil, errors.New("unsupported event kind")
}

func subscriptionSubject(sub *stripe.Subscription) (*domain.EventSubject, error) {
	if sub.ID == "" {
		return nil, errors.New("subscription id is missing")
	}
	s := &domain.EventSubject{
		Object:         "subscription",
		ID:             sub.ID,
		SubscriptionID: sub.ID,
		Status:         domain.SubscriptionStatus(sub.Status),
		CustomerEmail:  sub.Metadata[domain.MetadataCustomerEmail],
		PlanID:         sub.Metadata[domain.MetadataPlanID],
		Interval:       sub.Metadata[domain.MetadataInterval],
	}
	if sub.Customer != nil {
		s.CustomerID = sub.Customer.ID
		if s.CustomerEmail == "" {
			s.CustomerEmail = sub.Customer.Email
		}
	}
	if sub.DefaultPaymentMethod != nil {
		s.PaymentMethodID = sub.DefaultPaymentMethod.ID
	}
	if s.Interval == "" && sub.Items != nil && len(sub.Items.Data) > 0 {
		if price := sub.Items.Data[0].Price; price != nil && price.Recurring != nil {
			s.Interval = string(price.Recurring.Interval)
		}
	}
	return s, nil
}

func invoiceSubject(inv *stripe.Invoice) (*domain.EventSubject, error) {
	if inv.ID == "" {
		return nil, errors.New("invoice id is missing")
	}
	s := &domain.EventSubject{
		Object:        "invoice",
		ID:            inv.ID,
		CustomerEmail: inv.CustomerEmail,
	}
	if inv.Subscription != nil {
		s.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		s.CustomerID = inv.Customer.ID
	}
	return s, nil
}

func authorizationSubject(pi *stripe.PaymentIntent) (*domain.EventSubject, error) {
	if pi.ID == "" {
		return nil, errors.New("payment intent id is missing")
	}
	s := &domain.EventSubject{
		Object:        "payment_intent",
		ID:            pi.ID,
		CustomerEmail: pi.Metadata[domain.MetadataCustomerEmail],
		PlanID:        pi.Metadata[domain.MetadataPlanID],
		Interval:      pi.Metadata[domain.MetadataInterval],
	}
	if s.CustomerEmail == "" {
		s.CustomerEmail = pi.ReceiptEmail
	}
	if pi.Customer != nil {
		s.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		s.PaymentMethodID = pi.PaymentMethod.ID
	}
	return s, nil
}
