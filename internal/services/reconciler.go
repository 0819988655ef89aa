package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/internal/metrics"
	"github.com/Dhoini/subscription-service/internal/repository"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// EventVerifier проверяет подпись вебхука и разбирает событие
type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (*domain.ProcessorEvent, error)
}

// ReconcileResult ответ на доставку вебхука. Наружу уходят только received и status,
// остальные флаги для логов и тестов.
type ReconcileResult struct {
	Received  bool                      `json:"received"`
	Status    domain.SubscriptionStatus `json:"status,omitempty"`
	EventID   string                    `json:"-"`
	Kind      domain.EventKind          `json:"-"`
	Applied   bool                      `json:"-"`
	Duplicate bool                      `json:"-"`
	Stale     bool                      `json:"-"`
}

// maxApplyAttempts сколько раз перечитывать запись, если ее изменили между чтением и записью
const maxApplyAttempts = 3

// WebhookReconciler применяет события процессора к LocalSubscriptionRecord.
// Корректность при повторной и параллельной доставке держится на LastEventID и
// LastEventTimestamp записи и на условной записи в хранилище, а не на блокировках.
type WebhookReconciler struct {
	verifier     EventVerifier
	store        repository.SubscriptionStore
	ledger       repository.EventLedger
	notifier     RecordNotifier
	metrics      metrics.ReconcileMetrics
	storeTimeout time.Duration
	log          *logger.Logger
}

// NewWebhookReconciler ledger и notifier могут быть nil.
func NewWebhookReconciler(
	verifier EventVerifier,
	store repository.SubscriptionStore,
	ledger repository.EventLedger,
	notifier RecordNotifier,
	m metrics.ReconcileMetrics,
	storeTimeout time.Duration,
	log *logger.Logger,
) *WebhookReconciler {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &WebhookReconciler{
		verifier:     verifier,
		store:        store,
		ledger:       ledger,
		notifier:     notifier,
		metrics:      m,
		storeTimeout: storeTimeout,
		log:          log,
	}
}

// Reconcile проверяет, разбирает и применяет одно событие.
// Ошибка означает, что процессор должен повторить доставку; все остальное подтверждается.
func (r *WebhookReconciler) Reconcile(ctx context.Context, rawBody []byte, signatureHeader string) (*ReconcileResult, error) {
	evt, err := r.verifier.Verify(rawBody, signatureHeader)
	if err != nil {
		r.metrics.IncEventRejected(string(domain.KindOf(err)))
		r.log.Warnw("Webhook rejected", "kind", string(domain.KindOf(err)), "error", err)
		return nil, err
	}

	result := &ReconcileResult{Received: true, EventID: evt.ID, Kind: evt.Kind}
	log := r.log.With("eventID", evt.ID, "eventType", evt.Type)
	r.metrics.IncEventReceived(string(evt.Kind))

	apply, ok := transitions[evt.Kind]
	if !ok {
		log.Infow("Ignoring unhandled event type")
		r.metrics.IncEventSkipped(string(evt.Kind), metrics.SkipUnknownKind)
		return result, nil
	}

	// счет без подписки (разовый) не должен менять статус подписки клиента
	if evt.Kind.SubscriptionScoped() && evt.Subject.SubscriptionID == "" {
		log.Infow("Event does not reference a subscription, not applied", "object", evt.Subject.Object, "objectID", evt.Subject.ID)
		r.metrics.IncEventSkipped(string(evt.Kind), metrics.SkipNoSubscription)
		return result, nil
	}

	seen, err := r.alreadyApplied(ctx, evt.ID, log)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: check processed events: %w", evt.ID, err)
	}
	if seen {
		result.Duplicate = true
		r.metrics.IncEventSkipped(string(evt.Kind), metrics.SkipDuplicate)
		return result, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		done, err := r.applyOnce(storeCtx, evt, apply, result, log)
		if err == nil {
			if done {
				r.remember(ctx, evt.ID, log)
			}
			return result, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		if attempt >= maxApplyAttempts {
			log.Errorw("Record kept changing concurrently, event not applied", "attempts", attempt)
			return nil, domain.NewStoreWriteError(err, "event %s was not applied", evt.ID)
		}
		log.Debugw("Record changed concurrently, re-reading", "attempt", attempt)
	}
}

// applyOnce читает запись, вычисляет переход и пишет его условно на LastEventID
// прочитанной записи. true - событие применено; ErrConflict - запись изменилась после чтения.
func (r *WebhookReconciler) applyOnce(ctx context.Context, evt *domain.ProcessorEvent, apply transition, result *ReconcileResult, log *logger.Logger) (bool, error) {
	rec, err := r.locateRecord(ctx, evt.Subject)
	if err != nil {
		return false, fmt.Errorf("reconcile %s: load record: %w", evt.ID, err)
	}
	if rec == nil {
		log.Warnw("Event does not reference a known subscription or customer email, not applied",
			"subscriptionID", evt.Subject.SubscriptionID, "stripeCustomerID", evt.Subject.CustomerID)
		r.metrics.IncEventSkipped(string(evt.Kind), metrics.SkipUnaddressable)
		return false, nil
	}
	result.Status = rec.Status

	if reason := skipReason(rec, evt); reason != "" {
		switch reason {
		case metrics.SkipDuplicate:
			result.Duplicate = true
		case metrics.SkipStale:
			result.Stale = true
		}
		log.Infow("Event acknowledged but not applied", "reason", reason,
			"email", rec.CustomerEmail, "recordSubscriptionID", rec.SubscriptionID, "lastEventID", rec.LastEventID)
		r.metrics.IncEventSkipped(string(evt.Kind), reason)
		return false, nil
	}

	next := apply(*rec, evt.Subject)
	next.LastEventID = evt.ID
	next.LastEventTimestamp = evt.OccurredAt
	next.UpdatedAt = time.Now().UTC()

	stored, err := r.store.ReplaceIfUnchanged(ctx, next, rec.LastEventID)
	if errors.Is(err, repository.ErrConflict) {
		return false, err
	}
	if err != nil {
		log.Errorw("Failed to persist reconciled record", "error", err, "email", next.CustomerEmail)
		return false, domain.NewStoreWriteError(err, "event %s was not applied", evt.ID)
	}

	result.Status = stored.Status
	result.Applied = true
	r.metrics.IncEventApplied(string(evt.Kind))
	r.notifier.SubscriptionReconciled(*stored, evt.Kind)

	log.Infow("Event applied", "email", stored.CustomerEmail, "subscriptionID", stored.SubscriptionID,
		"from", string(rec.Status), "to", string(stored.Status))
	return true, nil
}

// locateRecord ищет запись по id подписки, затем по email. Если ничего нет,
// но email известен, возвращает новую запись с нулевым LastEventTimestamp.
// nil, nil - событие не к чему привязать.
func (r *WebhookReconciler) locateRecord(ctx context.Context, s domain.EventSubject) (*domain.LocalSubscriptionRecord, error) {
	if s.SubscriptionID != "" {
		rec, err := r.store.FindBySubscriptionID(ctx, s.SubscriptionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	email := repository.NormalizeEmail(s.CustomerEmail)
	if email == "" {
		return nil, nil
	}
	rec, err := r.store.FindByCustomer(ctx, email)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return &domain.LocalSubscriptionRecord{
		CustomerEmail:    email,
		StripeCustomerID: s.CustomerID,
		PlanID:           s.PlanID,
	}, nil
}

// skipReason правила подтверждения без применения; "" - событие надо применить.
func skipReason(rec *domain.LocalSubscriptionRecord, evt *domain.ProcessorEvent) string {
	if rec.LastEventID == evt.ID {
		return metrics.SkipDuplicate
	}
	if evt.OccurredAt.Before(rec.LastEventTimestamp) {
		return metrics.SkipStale
	}
	if evt.Kind.SubscriptionScoped() &&
		evt.Subject.SubscriptionID != "" &&
		rec.SubscriptionID != "" &&
		evt.Subject.SubscriptionID != rec.SubscriptionID &&
		!rec.Status.IsTerminal() {
		return metrics.SkipOtherSubject
	}
	return ""
}

// alreadyApplied ошибка журнала возвращается: событие с тем же моментом, что и последнее
// примененное, без журнала не отличить от повтора, поэтому доставку должен повторить процессор.
func (r *WebhookReconciler) alreadyApplied(ctx context.Context, eventID string, log *logger.Logger) (bool, error) {
	if r.ledger == nil {
		return false, nil
	}
	seen, err := r.ledger.Seen(ctx, eventID)
	if err != nil {
		log.Errorw("Processed event ledger unavailable", "error", err)
		return false, err
	}
	if seen {
		log.Infow("Duplicate event delivery")
	}
	return seen, nil
}

func (r *WebhookReconciler) remember(ctx context.Context, eventID string, log *logger.Logger) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Remember(ctx, eventID); err != nil {
		log.Warnw("Failed to record processed event", "error", err)
	}
}
