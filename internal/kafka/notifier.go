package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const defaultPublishTimeout = 15 * time.Second

// Notifier асинхронно публикует изменения записей подписок.
// Публикация best effort: ошибки логируются и не возвращаются вызывающему.
type Notifier struct {
	producer   Producer
	topics     Topics
	log        *logger.Logger
	timeout    time.Duration
	newBackOff func() backoff.BackOff

	wg sync.WaitGroup
}

// NewNotifier producer == nil дает notifier, который только пишет в лог.
func NewNotifier(producer Producer, topics Topics, log *logger.Logger) *Notifier {
	if producer == nil {
		log.Warnw("Kafka producer is nil, event publishing will be skipped")
	}
	return &Notifier{
		producer:   producer,
		topics:     topics,
		log:        log,
		timeout:    defaultPublishTimeout,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(bo, 3)
}

// SubscriptionProvisioned сообщает о записи, созданной сагой.
func (n *Notifier) SubscriptionProvisioned(rec domain.LocalSubscriptionRecord) {
	n.publishAsync(n.topics.Provisioned, NewSubscriptionEvent(EventTypeProvisioned, rec, ""))
}

// SubscriptionReconciled сообщает о примененном событии процессора.
func (n *Notifier) SubscriptionReconciled(rec domain.LocalSubscriptionRecord, kind domain.EventKind) {
	n.publishAsync(n.topics.Reconciled, NewSubscriptionEvent(EventTypeReconciled, rec, kind))
}

func (n *Notifier) publishAsync(topic string, evt SubscriptionEvent) {
	if n.producer == nil || topic == "" {
		n.log.Debugw("Skipping event publishing", "type", evt.Type, "email", evt.CustomerEmail)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// контекст запроса к этому моменту уже может быть отменен
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := n.publish(ctx, topic, evt); err != nil {
			n.log.Errorw("Failed to publish subscription event after retries",
				"error", err, "topic", topic, "type", evt.Type, "subscriptionID", evt.SubscriptionID)
		}
	}()
}

func (n *Notifier) publish(ctx context.Context, topic string, evt SubscriptionEvent) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := n.producer.PublishSubscriptionEvent(ctx, topic, evt)
		if err != nil {
			n.log.Warnw("Publish attempt failed", "error", err, "topic", topic, "attempt", attempt)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(n.newBackOff(), ctx))
}

// Close дожидается отправки уже запущенных публикаций и закрывает продюсер.
func (n *Notifier) Close() error {
	n.wg.Wait()
	if n.producer == nil {
		return nil
	}
	return n.producer.Close()
}
