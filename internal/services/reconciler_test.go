package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/metrics"
	"github.com/Dhoini/subscription-service/internal/repository"
	stripegw "github.com/Dhoini/subscription-service/internal/stripe"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

const testWebhookSecret = "whsec_reconciler"

type delivery struct {
	body   []byte
	header string
}

func sign(t *testing.T, body []byte) delivery {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return delivery{body: body, header: signed.Header}
}

func event(t *testing.T, id, eventType string, created int64, object map[string]any) delivery {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return sign(t, body)
}

func subscriptionEvent(t *testing.T, id, eventType string, created int64, subID, status, email string) delivery {
	return event(t, id, eventType, created, map[string]any{
		"id":       subID,
		"object":   "subscription",
		"status":   status,
		"customer": "cus_1",
		"metadata": map[string]any{"customer_email": email, "plan_id": "essential"},
	})
}

func invoiceEvent(t *testing.T, id, eventType string, created int64, subID, email string) delivery {
	return event(t, id, eventType, created, map[string]any{
		"id":             "in_" + id,
		"object":         "invoice",
		"subscription":   subID,
		"customer":       "cus_1",
		"customer_email": email,
	})
}

type reconcilerFixture struct {
	store    repository.SubscriptionStore
	ledger   repository.EventLedger
	notifier *mockNotifier
	registry *prometheus.Registry
	r        *WebhookReconciler
}

func newReconcilerFixture(t *testing.T, store repository.SubscriptionStore, ledger repository.EventLedger) *reconcilerFixture {
	t.Helper()
	if store == nil {
		store = repository.NewInMemorySubscriptionStore()
	}
	notifier := new(mockNotifier)
	notifier.On("SubscriptionReconciled", mock.Anything, mock.Anything).Maybe()
	registry := prometheus.NewRegistry()

	r := NewWebhookReconciler(
		stripegw.NewEventVerifier(testWebhookSecret, 0),
		store, ledger, notifier,
		metrics.NewReconcileMetrics(registry),
		time.Second, logger.NewNop(),
	)
	return &reconcilerFixture{store: store, ledger: ledger, notifier: notifier, registry: registry, r: r}
}

func (f *reconcilerFixture) deliver(t *testing.T, d delivery) *ReconcileResult {
	t.Helper()
	res, err := f.r.Reconcile(context.Background(), d.body, d.header)
	require.NoError(t, err)
	require.True(t, res.Received)
	return res
}

func (f *reconcilerFixture) record(t *testing.T, email string) *domain.LocalSubscriptionRecord {
	t.Helper()
	rec, err := f.store.FindByCustomer(context.Background(), email)
	require.NoError(t, err)
	return rec
}

func (f *reconcilerFixture) seed(t *testing.T, rec domain.LocalSubscriptionRecord) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), rec)
	require.NoError(t, err)
}

func TestReconcile_OrderTolerance(t *testing.T) {
	orders := map[string][]string{"E1,E2": {"E1", "E2"}, "E2,E1": {"E2", "E1"}}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			f := newReconcilerFixture(t, nil, nil)
			events := map[string]delivery{
				"E1": subscriptionEvent(t, "evt_E1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"),
				"E2": subscriptionEvent(t, "evt_E2", "customer.subscription.updated", 50, "sub_1", "past_due", "a@b.com"),
			}
			for _, key := range order {
				f.deliver(t, events[key])
			}

			rec := f.record(t, "a@b.com")
			assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
			assert.Equal(t, "evt_E1", rec.LastEventID)
			assert.Equal(t, time.Unix(100, 0).UTC(), rec.LastEventTimestamp.UTC())
		})
	}
}

func TestReconcile_StaleEventIsAcknowledged(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.deliver(t, subscriptionEvent(t, "evt_new", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"))

	res := f.deliver(t, subscriptionEvent(t, "evt_old", "customer.subscription.updated", 50, "sub_1", "past_due", "a@b.com"))
	assert.True(t, res.Stale)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.SubscriptionStatusActive, res.Status)
}

func TestReconcile_Idempotence(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	d := subscriptionEvent(t, "evt_1", "customer.subscription.created", 100, "sub_1", "incomplete", "a@b.com")

	first := f.deliver(t, d)
	assert.True(t, first.Applied)
	before := f.record(t, "a@b.com")

	second := f.deliver(t, d)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)
	assert.Equal(t, before, f.record(t, "a@b.com"))
}

func TestReconcile_TerminalCancellation(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusPastDue,
		LastEventID: "provisioned:sub_1", LastEventTimestamp: time.Unix(10, 0),
	})

	f.deliver(t, subscriptionEvent(t, "evt_del", "customer.subscription.deleted", 100, "sub_1", "canceled", "a@b.com"))
	assert.Equal(t, domain.SubscriptionStatusCanceled, f.record(t, "a@b.com").Status)

	res := f.deliver(t, invoiceEvent(t, "evt_paid", "invoice.payment_succeeded", 200, "sub_1", "a@b.com"))
	assert.True(t, res.Applied)
	assert.Equal(t, domain.SubscriptionStatusCanceled, res.Status)

	f.deliver(t, invoiceEvent(t, "evt_fail", "invoice.payment_failed", 300, "sub_1", "a@b.com"))
	f.deliver(t, subscriptionEvent(t, "evt_upd", "customer.subscription.updated", 400, "sub_1", "active", "a@b.com"))
	assert.Equal(t, domain.SubscriptionStatusCanceled, f.record(t, "a@b.com").Status)
}

func TestReconcile_InvoiceFailedThenDuplicate(t *testing.T) {
	f := newReconcilerFixture(t, nil, repository.NewInMemoryEventLedger(time.Hour))
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusActive,
		LastEventID: "evt_0", LastEventTimestamp: time.Unix(100, 0),
	})

	d := invoiceEvent(t, "evt_fail", "invoice.payment_failed", 200, "sub_1", "a@b.com")
	res := f.deliver(t, d)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.SubscriptionStatusPastDue, res.Status)

	res = f.deliver(t, d)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.SubscriptionStatusPastDue, f.record(t, "a@b.com").Status)

	expected := `
# HELP webhook_events_applied_total The total number of webhook events applied to local records, by kind
# TYPE webhook_events_applied_total counter
webhook_events_applied_total{kind="invoice_payment_failed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "webhook_events_applied_total"))
	f.notifier.AssertNumberOfCalls(t, "SubscriptionReconciled", 1)
}

func TestReconcile_LedgerCatchesReplayOfEarlierEvent(t *testing.T) {
	f := newReconcilerFixture(t, nil, repository.NewInMemoryEventLedger(time.Hour))

	first := invoiceEvent(t, "evt_a", "invoice.payment_failed", 100, "sub_1", "a@b.com")
	f.deliver(t, first)
	f.deliver(t, subscriptionEvent(t, "evt_b", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"))

	// равные моменты не отсекаются правилом порядка, повтор ловит журнал
	res := f.deliver(t, first)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.SubscriptionStatusActive, f.record(t, "a@b.com").Status)
}

func TestReconcile_SeedsRecordForUnseenSubscription(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	res := f.deliver(t, subscriptionEvent(t, "evt_1", "customer.subscription.created", 100, "sub_9", "incomplete", "New@Example.com"))
	assert.True(t, res.Applied)

	rec := f.record(t, "new@example.com")
	assert.Equal(t, "sub_9", rec.SubscriptionID)
	assert.Equal(t, "cus_1", rec.StripeCustomerID)
	assert.Equal(t, "essential", rec.PlanID)
	assert.Equal(t, domain.SubscriptionStatusIncomplete, rec.Status)
}

func TestReconcile_UnaddressableEventIsNotApplied(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	res := f.deliver(t, invoiceEvent(t, "evt_1", "invoice.payment_succeeded", 100, "sub_unknown", ""))
	assert.False(t, res.Applied)

	_, err := f.store.FindBySubscriptionID(context.Background(), "sub_unknown")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcile_UnknownEventType(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	res := f.deliver(t, event(t, "evt_1", "charge.refunded", 100, map[string]any{"id": "ch_1", "object": "charge"}))
	assert.True(t, res.Received)
	assert.False(t, res.Applied)
	assert.Equal(t, domain.EventUnknown, res.Kind)
}

func TestReconcile_OtherSubscriptionIsNotApplied(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusActive,
		LastEventID: "evt_0", LastEventTimestamp: time.Unix(100, 0),
	})

	res := f.deliver(t, subscriptionEvent(t, "evt_other", "customer.subscription.deleted", 200, "sub_2", "canceled", "a@b.com"))
	assert.False(t, res.Applied)
	rec := f.record(t, "a@b.com")
	assert.Equal(t, "sub_1", rec.SubscriptionID)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
}

func TestReconcile_NewSubscriptionAfterTerminal(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusCanceled,
		LastEventID: "evt_0", LastEventTimestamp: time.Unix(100, 0),
	})

	res := f.deliver(t, subscriptionEvent(t, "evt_new", "customer.subscription.created", 200, "sub_2", "incomplete", "a@b.com"))
	assert.True(t, res.Applied)
	rec := f.record(t, "a@b.com")
	assert.Equal(t, "sub_2", rec.SubscriptionID)
	assert.Equal(t, domain.SubscriptionStatusIncomplete, rec.Status)
}

func TestReconcile_AuthorizationSucceededFillsIdentity(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.deliver(t, event(t, "evt_pi", "payment_intent.succeeded", 100, map[string]any{
		"id":             "pi_1",
		"object":         "payment_intent",
		"customer":       "cus_7",
		"payment_method": "pm_1",
		"metadata":       map[string]any{"customer_email": "a@b.com", "plan_id": "essential"},
	}))

	rec := f.record(t, "a@b.com")
	assert.Equal(t, "cus_7", rec.StripeCustomerID)
	assert.Equal(t, "essential", rec.PlanID)
	assert.Empty(t, rec.Status)
	assert.Empty(t, rec.SubscriptionID)
}

func TestReconcile_Rejections(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	d := subscriptionEvent(t, "evt_1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com")

	_, err := f.r.Reconcile(context.Background(), d.body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, domain.ErrAuthenticity)

	bad := sign(t, []byte(`{"id":"evt_1"`))
	_, err = f.r.Reconcile(context.Background(), bad.body, bad.header)
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	_, err = f.store.FindByCustomer(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcile_StoreWriteFailure(t *testing.T) {
	f := newReconcilerFixture(t, failingStore{}, nil)
	d := subscriptionEvent(t, "evt_1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com")

	_, err := f.r.Reconcile(context.Background(), d.body, d.header)
	assert.ErrorIs(t, err, domain.ErrStoreWrite)
}

func TestReconcile_ConcurrentDeliveriesCommute(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newReconcilerFixture(t, nil, nil)
		deliveries := []delivery{
			subscriptionEvent(t, "evt_E1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"),
			subscriptionEvent(t, "evt_E2", "customer.subscription.updated", 50, "sub_1", "past_due", "a@b.com"),
			subscriptionEvent(t, "evt_E1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"),
		}

		var wg sync.WaitGroup
		for _, d := range deliveries {
			wg.Add(1)
			go func(d delivery) {
				defer wg.Done()
				_, _ = f.r.Reconcile(context.Background(), d.body, d.header)
			}(d)
		}
		wg.Wait()

		rec := f.record(t, "a@b.com")
		assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
		assert.Equal(t, "evt_E1", rec.LastEventID)
	}
}

func TestReconcile_InterleavedDeliveriesDoNotReopenCanceled(t *testing.T) {
	store := newInterleavedStore(2, "evt_del", "evt_fail")
	f := newReconcilerFixture(t, store, nil)
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusActive,
		LastEventID: "evt_0", LastEventTimestamp: time.Unix(90, 0),
	})

	deliveries := []delivery{
		subscriptionEvent(t, "evt_del", "customer.subscription.deleted", 100, "sub_1", "canceled", "a@b.com"),
		invoiceEvent(t, "evt_fail", "invoice.payment_failed", 101, "sub_1", "a@b.com"),
	}
	errs := make([]error, len(deliveries))
	var wg sync.WaitGroup
	for i, d := range deliveries {
		wg.Add(1)
		go func(i int, d delivery) {
			defer wg.Done()
			_, errs[i] = f.r.Reconcile(context.Background(), d.body, d.header)
		}(i, d)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	rec := f.record(t, "a@b.com")
	assert.Equal(t, domain.SubscriptionStatusCanceled, rec.Status)
	assert.Equal(t, "evt_fail", rec.LastEventID)
}

func TestReconcile_ConflictRetriesAreBounded(t *testing.T) {
	f := newReconcilerFixture(t, conflictingStore{}, nil)
	d := subscriptionEvent(t, "evt_1", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com")

	_, err := f.r.Reconcile(context.Background(), d.body, d.header)
	assert.ErrorIs(t, err, domain.ErrStoreWrite)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestReconcile_LedgerFailureIsRetried(t *testing.T) {
	f := newReconcilerFixture(t, nil, repository.NewInMemoryEventLedger(time.Hour))
	first := invoiceEvent(t, "evt_a", "invoice.payment_failed", 100, "sub_1", "a@b.com")
	f.deliver(t, first)
	f.deliver(t, subscriptionEvent(t, "evt_b", "customer.subscription.updated", 100, "sub_1", "active", "a@b.com"))

	broken := NewWebhookReconciler(
		stripegw.NewEventVerifier(testWebhookSecret, 0),
		f.store, brokenLedger{}, nil,
		metrics.NewReconcileMetrics(prometheus.NewRegistry()),
		time.Second, logger.NewNop(),
	)
	_, err := broken.Reconcile(context.Background(), first.body, first.header)
	require.Error(t, err)
	assert.Empty(t, domain.KindOf(err))

	rec := f.record(t, "a@b.com")
	assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
	assert.Equal(t, "evt_b", rec.LastEventID)
}

func TestReconcile_OneOffInvoiceIsNotApplied(t *testing.T) {
	f := newReconcilerFixture(t, nil, nil)
	f.seed(t, domain.LocalSubscriptionRecord{
		CustomerEmail: "a@b.com", SubscriptionID: "sub_1", Status: domain.SubscriptionStatusActive,
		LastEventID: "evt_0", LastEventTimestamp: time.Unix(100, 0),
	})

	res := f.deliver(t, event(t, "evt_oneoff", "invoice.payment_failed", 200, map[string]any{
		"id":             "in_oneoff",
		"object":         "invoice",
		"customer":       "cus_1",
		"customer_email": "a@b.com",
	}))
	assert.False(t, res.Applied)

	rec := f.record(t, "a@b.com")
	assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
	assert.Equal(t, "evt_0", rec.LastEventID)
}
