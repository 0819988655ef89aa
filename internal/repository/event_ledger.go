package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	processedEventKeyPrefix = "webhook_event:"
	defaultEventTTL         = 72 * time.Hour
)

// EventLedger помнит id уже примененных событий процессора. LastEventID записи ловит
// повтор только последнего события; повтор более раннего события с тем же моментом
// отличает только журнал.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// RedisEventLedger хранит id событий в Redis с TTL.
type RedisEventLedger struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisEventLedger ttl <= 0 означает 72 часа, окно повторной доставки Stripe.
func NewRedisEventLedger(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisEventLedger {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &RedisEventLedger{client: client, ttl: ttl, log: log}
}

// Seen true, если событие уже было применено.
func (l *RedisEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, processedEventKeyPrefix+eventID).Result()
	if err != nil {
		l.log.Errorw("Failed to check processed event", "error", err, "eventID", eventID)
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// Remember отмечает событие как примененное.
func (l *RedisEventLedger) Remember(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, processedEventKeyPrefix+eventID, time.Now().UTC().Unix(), l.ttl).Err(); err != nil {
		l.log.Errorw("Failed to remember processed event", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to remember processed event: %w", err)
	}
	return nil
}

// inMemoryLedgerSize верхняя граница числа id в памяти; старые вытесняются раньше TTL
const inMemoryLedgerSize = 1 << 20

// InMemoryEventLedger реализация EventLedger в памяти с тем же TTL, что и в Redis.
// Переживает только текущий процесс.
type InMemoryEventLedger struct {
	seen *lru.LRU[string, struct{}]
}

// NewInMemoryEventLedger ttl <= 0 означает 72 часа.
func NewInMemoryEventLedger(ttl time.Duration) *InMemoryEventLedger {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &InMemoryEventLedger{seen: lru.NewLRU[string, struct{}](inMemoryLedgerSize, nil, ttl)}
}

func (l *InMemoryEventLedger) Seen(_ context.Context, eventID string) (bool, error) {
	_, ok := l.seen.Get(eventID)
	return ok, nil
}

func (l *InMemoryEventLedger) Remember(_ context.Context, eventID string) error {
	l.seen.Add(eventID, struct{}{})
	return nil
}
