package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/repository"
)

// fakeProcessor процессор в памяти: клиенты по email, подписки по ключу идемпотентности.
type fakeProcessor struct {
	mu sync.Mutex

	customers map[string]*domain.Customer
	intents   map[string]*domain.PaymentAuthorization
	methods   map[string]*domain.PaymentMethod
	defaults  map[string]string
	subs      map[string]*domain.Subscription
	lastSub   domain.CreateSubscriptionParams

	customerCreates int
	attachCalls     int
	subCreates      int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		customers: make(map[string]*domain.Customer),
		intents:   make(map[string]*domain.PaymentAuthorization),
		methods:   make(map[string]*domain.PaymentMethod),
		defaults:  make(map[string]string),
		subs:      make(map[string]*domain.Subscription),
	}
}

func (f *fakeProcessor) addIntent(auth domain.PaymentAuthorization) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[auth.ID] = &auth
	if auth.PaymentMethodID != "" {
		if _, ok := f.methods[auth.PaymentMethodID]; !ok {
			f.methods[auth.PaymentMethodID] = &domain.PaymentMethod{ID: auth.PaymentMethodID}
		}
	}
}

func (f *fakeProcessor) FindCustomerByEmail(_ context.Context, email string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.customers[email]; ok {
		out := *c
		return &out, nil
	}
	return nil, nil
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, email string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCreates++
	c := &domain.Customer{ID: fmt.Sprintf("cus_%d", f.customerCreates), Email: email}
	f.customers[email] = c
	out := *c
	return &out, nil
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, in domain.CreateAuthorizationInput, customerID string) (*domain.PaymentAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("pi_%d", len(f.intents)+1)
	auth := &domain.PaymentAuthorization{
		ID:           id,
		Amount:       in.Amount,
		Currency:     in.Currency,
		Status:       domain.AuthorizationRequiresPaymentMethod,
		CustomerID:   customerID,
		ClientSecret: id + "_secret",
		Metadata:     in.Metadata,
	}
	f.intents[id] = auth
	out := *auth
	return &out, nil
}

func (f *fakeProcessor) GetPaymentIntent(_ context.Context, id string) (*domain.PaymentAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if auth, ok := f.intents[id]; ok {
		out := *auth
		return &out, nil
	}
	return nil, fmt.Errorf("stripe: get payment intent: %w", domain.NewNotFoundError("authorization", id))
}

func (f *fakeProcessor) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pm, ok := f.methods[id]; ok {
		out := *pm
		return &out, nil
	}
	return nil, domain.NewNotFoundError("payment method", id)
}

func (f *fakeProcessor) AttachPaymentMethod(_ context.Context, paymentMethodID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	f.methods[paymentMethodID].CustomerID = customerID
	return nil
}

func (f *fakeProcessor) SetDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[customerID] = paymentMethodID
	return nil
}

func (f *fakeProcessor) CreateSubscription(_ context.Context, p domain.CreateSubscriptionParams) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSub = p
	if sub, ok := f.subs[p.IdempotencyKey]; ok {
		out := *sub
		return &out, nil
	}
	f.subCreates++
	n := f.subCreates
	sub := &domain.Subscription{
		ID:           fmt.Sprintf("sub_%d", n),
		CustomerID:   p.CustomerID,
		PlanID:       p.Metadata[domain.MetadataPlanID],
		Interval:     p.Metadata[domain.MetadataInterval],
		Status:       domain.SubscriptionStatusIncomplete,
		ClientSecret: fmt.Sprintf("pi_sub_%d_secret", n),
		Metadata:     p.Metadata,
		CreatedAt:    time.Unix(1700000000+int64(n), 0).UTC(),
	}
	f.subs[p.IdempotencyKey] = sub
	out := *sub
	return &out, nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SubscriptionProvisioned(rec domain.LocalSubscriptionRecord) {
	m.Called(rec)
}

func (m *mockNotifier) SubscriptionReconciled(rec domain.LocalSubscriptionRecord, kind domain.EventKind) {
	m.Called(rec, kind)
}

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	args := m.Called(ctx, email)
	if c := args.Get(0); c != nil {
		return c.(*domain.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCustomers) CreateCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	args := m.Called(ctx, email)
	if c := args.Get(0); c != nil {
		return c.(*domain.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIntents struct {
	mock.Mock
}

func (m *mockIntents) CreatePaymentIntent(ctx context.Context, in domain.CreateAuthorizationInput, customerID string) (*domain.PaymentAuthorization, error) {
	args := m.Called(ctx, in, customerID)
	if a := args.Get(0); a != nil {
		return a.(*domain.PaymentAuthorization), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIntents) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentAuthorization, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*domain.PaymentAuthorization), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMethods struct {
	mock.Mock
}

func (m *mockMethods) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	args := m.Called(ctx, id)
	if pm := args.Get(0); pm != nil {
		return pm.(*domain.PaymentMethod), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMethods) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	return m.Called(ctx, paymentMethodID, customerID).Error(0)
}

func (m *mockMethods) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return m.Called(ctx, customerID, paymentMethodID).Error(0)
}

// failingStore хранилище, у которого не работает запись
type failingStore struct {
	domainErr error
}

func (s failingStore) FindByCustomer(context.Context, string) (*domain.LocalSubscriptionRecord, error) {
	return nil, domain.ErrNotFound
}

func (s failingStore) FindBySubscriptionID(context.Context, string) (*domain.LocalSubscriptionRecord, error) {
	return nil, domain.ErrNotFound
}

func (s failingStore) Upsert(context.Context, domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error) {
	if s.domainErr != nil {
		return nil, s.domainErr
	}
	return nil, errors.New("connection refused")
}

func (s failingStore) ReplaceIfUnchanged(ctx context.Context, rec domain.LocalSubscriptionRecord, _ string) (*domain.LocalSubscriptionRecord, error) {
	return s.Upsert(ctx, rec)
}

// interleavedStore задерживает первые readers чтений, пока все они не прочитают запись,
// а условную запись события waitingEvent выпускает только после записи события firstEvent.
type interleavedStore struct {
	*repository.InMemorySubscriptionStore

	readers      int32
	reads        int32
	arrived      sync.WaitGroup
	firstEvent   string
	waitingEvent string
	firstWritten chan struct{}
}

func newInterleavedStore(readers int, firstEvent, waitingEvent string) *interleavedStore {
	s := &interleavedStore{
		InMemorySubscriptionStore: repository.NewInMemorySubscriptionStore(),
		readers:                   int32(readers),
		firstEvent:                firstEvent,
		waitingEvent:              waitingEvent,
		firstWritten:              make(chan struct{}),
	}
	s.arrived.Add(readers)
	return s
}

func (s *interleavedStore) hold() {
	if atomic.AddInt32(&s.reads, 1) <= s.readers {
		s.arrived.Done()
		s.arrived.Wait()
	}
}

func (s *interleavedStore) FindByCustomer(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error) {
	rec, err := s.InMemorySubscriptionStore.FindByCustomer(ctx, email)
	s.hold()
	return rec, err
}

func (s *interleavedStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.LocalSubscriptionRecord, error) {
	rec, err := s.InMemorySubscriptionStore.FindBySubscriptionID(ctx, subscriptionID)
	s.hold()
	return rec, err
}

func (s *interleavedStore) ReplaceIfUnchanged(ctx context.Context, rec domain.LocalSubscriptionRecord, expected string) (*domain.LocalSubscriptionRecord, error) {
	if rec.LastEventID == s.waitingEvent {
		select {
		case <-s.firstWritten:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	stored, err := s.InMemorySubscriptionStore.ReplaceIfUnchanged(ctx, rec, expected)
	if rec.LastEventID == s.firstEvent && err == nil {
		close(s.firstWritten)
	}
	return stored, err
}

// brokenLedger журнал событий, который не отвечает
type brokenLedger struct{}

func (brokenLedger) Seen(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (brokenLedger) Remember(context.Context, string) error {
	return errors.New("redis: connection refused")
}

// conflictingStore хранилище, в котором запись всегда успевают изменить
type conflictingStore struct{}

func (conflictingStore) FindByCustomer(context.Context, string) (*domain.LocalSubscriptionRecord, error) {
	return nil, domain.ErrNotFound
}

func (conflictingStore) FindBySubscriptionID(context.Context, string) (*domain.LocalSubscriptionRecord, error) {
	return nil, domain.ErrNotFound
}

func (conflictingStore) Upsert(context.Context, domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error) {
	return nil, repository.ErrConflict
}

func (conflictingStore) ReplaceIfUnchanged(context.Context, domain.LocalSubscriptionRecord, string) (*domain.LocalSubscriptionRecord, error) {
	return nil, repository.ErrConflict
}
