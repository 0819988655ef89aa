package stripe_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Dhoini/subscription-service/internal/domain"
	stripegw "github.com/Dhoini/subscription-service/internal/stripe"
	"github.com/Dhoini/subscription-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *stripegw.Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	backends := &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	return stripegw.NewStripeClient("sk_test_123", backends, logger.NewNop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func stripeErrorBody(errType, code, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"type": errType, "code": code, "message": msg}}
}

func TestFindCustomerByEmail(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		data := []any{}
		if r.URL.Query().Get("email") == "a@b.com" {
			data = append(data, map[string]any{"id": "cus_1", "object": "customer", "email": "a@b.com"})
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"object": "list", "url": "/v1/customers", "has_more": false, "data": data})
	})
	sc := newTestClient(t, mux)

	cus, err := sc.FindCustomerByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, cus)
	assert.Equal(t, "cus_1", cus.ID)

	cus, err = sc.FindCustomerByEmail(context.Background(), "nobody@b.com")
	require.NoError(t, err)
	assert.Nil(t, cus)
}

func TestCreatePaymentIntent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2499", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "off_session", r.PostForm.Get("setup_future_usage"))
		assert.Equal(t, "a@b.com", r.PostForm.Get("metadata[customer_email]"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "pi_1", "object": "payment_intent", "amount": 2499, "currency": "usd",
			"status": "requires_payment_method", "customer": "cus_1", "client_secret": "pi_1_secret_abc",
			"metadata": map[string]any{"customer_email": "a@b.com"},
		})
	})
	sc := newTestClient(t, mux)

	auth, err := sc.CreatePaymentIntent(context.Background(), domain.CreateAuthorizationInput{
		Amount:   2499,
		Currency: "usd",
		Metadata: map[string]string{"customer_email": "a@b.com"},
	}, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", auth.ID)
	assert.Equal(t, "pi_1_secret_abc", auth.ClientSecret)
	assert.Equal(t, domain.AuthorizationRequiresPaymentMethod, auth.Status)
	assert.Equal(t, "cus_1", auth.CustomerID)
}

func TestGetPaymentIntent(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents/pi_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "pi_1", "object": "payment_intent", "amount": 2499, "currency": "usd",
			"status": "succeeded", "customer": "cus_1", "payment_method": "pm_1",
		})
	})
	mux.HandleFunc("/v1/payment_intents/pi_missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, stripeErrorBody("invalid_request_error", "resource_missing", "No such payment_intent: 'pi_missing'"))
	})
	mux.HandleFunc("/v1/payment_intents/pi_down", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, stripeErrorBody("api_error", "", "Stripe is having a bad day"))
	})
	sc := newTestClient(t, mux)

	auth, err := sc.GetPaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, auth.Succeeded())
	assert.Equal(t, "pm_1", auth.PaymentMethodID)

	_, err = sc.GetPaymentIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = sc.GetPaymentIntent(context.Background(), "pi_down")
	assert.ErrorIs(t, err, domain.ErrProcessor)
	assert.Contains(t, domain.MessageOf(err), "Stripe is having a bad day")
}

func TestAttachAndSetDefaultPaymentMethod(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_methods/pm_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "pm_1", "object": "payment_method", "customer": "cus_1"})
	})
	mux.HandleFunc("/v1/payment_methods/pm_1/attach", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "pm_1", "object": "payment_method", "customer": "cus_1"})
	})
	mux.HandleFunc("/v1/payment_methods/pm_declined/attach", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusPaymentRequired, stripeErrorBody("card_error", "card_declined", "Your card was declined."))
	})
	mux.HandleFunc("/v1/customers/cus_1", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "pm_1", r.PostForm.Get("invoice_settings[default_payment_method]"))
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "cus_1", "object": "customer"})
	})
	sc := newTestClient(t, mux)
	ctx := context.Background()

	pm, err := sc.GetPaymentMethod(ctx, "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", pm.CustomerID)

	require.NoError(t, sc.AttachPaymentMethod(ctx, "pm_1", "cus_1"))
	require.NoError(t, sc.SetDefaultPaymentMethod(ctx, "cus_1", "pm_1"))

	err = sc.AttachPaymentMethod(ctx, "pm_declined", "cus_1")
	assert.ErrorIs(t, err, domain.ErrProcessor)
	assert.Contains(t, domain.MessageOf(err), "Your card was declined.")
}

func TestCreateSubscription(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "price_ess_month", r.PostForm.Get("items[0][price]"))
		assert.Equal(t, "default_incomplete", r.PostForm.Get("payment_behavior"))
		assert.Equal(t, "pm_1", r.PostForm.Get("default_payment_method"))
		assert.Equal(t, "latest_invoice.payment_intent", r.PostForm.Get("expand[0]"))
		assert.Equal(t, "essential", r.PostForm.Get("metadata[plan_id]"))
		assert.Equal(t, "sub-create-pi_1", r.Header.Get("Idempotency-Key"))

		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "sub_1", "object": "subscription", "status": "incomplete", "customer": "cus_1", "created": 1700000000,
			"metadata": map[string]any{"plan_id": "essential", "interval": "month"},
			"latest_invoice": map[string]any{
				"id": "in_1", "object": "invoice",
				"payment_intent": map[string]any{"id": "pi_inv_1", "object": "payment_intent", "client_secret": "pi_inv_1_secret"},
			},
		})
	})
	sc := newTestClient(t, mux)

	sub, err := sc.CreateSubscription(context.Background(), domain.CreateSubscriptionParams{
		CustomerID:      "cus_1",
		PriceID:         "price_ess_month",
		PaymentMethodID: "pm_1",
		IdempotencyKey:  "sub-create-pi_1",
		Metadata:        map[string]string{"plan_id": "essential", "interval": "month"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, domain.SubscriptionStatusIncomplete, sub.Status)
	assert.Equal(t, "in_1", sub.LatestInvoiceID)
	assert.Equal(t, "pi_inv_1_secret", sub.ClientSecret)
	assert.Equal(t, "essential", sub.PlanID)
	assert.Equal(t, int64(1700000000), sub.CreatedAt.Unix())
}
