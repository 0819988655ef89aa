package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	recordKeyPrefix            = "subscription_record:"
	subscriptionIndexKeyPrefix = "subscription_index:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// NewRedisClient создает клиента и проверяет соединение.
func NewRedisClient(addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err, "addr", addr)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

// RedisCacheRepository кеширует LocalSubscriptionRecord в Redis.
// Хранит запись по email и индекс subscription id -> email.
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository ttl <= 0 означает 15 минут.
func NewRedisCacheRepository(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// CacheRecord кеширует запись и обновляет индекс по subscription id.
func (r *RedisCacheRepository) CacheRecord(ctx context.Context, rec *domain.LocalSubscriptionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Errorw("Failed to marshal record for caching", "error", err, "email", rec.CustomerEmail)
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+rec.CustomerEmail, data, r.ttl)
	if rec.SubscriptionID != "" {
		pipe.Set(ctx, subscriptionIndexKeyPrefix+rec.SubscriptionID, rec.CustomerEmail, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Errorw("Failed to cache record in Redis", "error", err, "email", rec.CustomerEmail)
		return fmt.Errorf("failed to cache record: %w", err)
	}

	r.log.Debugw("Record cached successfully", "email", rec.CustomerEmail, "subscriptionID", rec.SubscriptionID)
	return nil
}

// GetCachedRecord получает запись из кеша; nil, nil при промахе.
func (r *RedisCacheRepository) GetCachedRecord(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error) {
	data, err := r.client.Get(ctx, recordKeyPrefix+email).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.Debugw("Record not found in cache", "email", email)
			return nil, nil
		}
		r.log.Errorw("Error getting record from Redis", "error", err, "email", email)
		return nil, fmt.Errorf("failed to get record from cache: %w", err)
	}

	var rec domain.LocalSubscriptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.Errorw("Failed to unmarshal cached record", "error", err, "email", email)
		return nil, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}
	return &rec, nil
}

// GetCachedEmail возвращает email по subscription id из индекса; "" при промахе.
func (r *RedisCacheRepository) GetCachedEmail(ctx context.Context, subscriptionID string) (string, error) {
	email, err := r.client.Get(ctx, subscriptionIndexKeyPrefix+subscriptionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get subscription index from cache: %w", err)
	}
	return email, nil
}

// DeleteCachedRecord удаляет запись из кеша
func (r *RedisCacheRepository) DeleteCachedRecord(ctx context.Context, email string) error {
	if err := r.client.Del(ctx, recordKeyPrefix+email).Err(); err != nil {
		r.log.Errorw("Failed to delete record from cache", "error", err, "email", email)
		return fmt.Errorf("failed to delete record from cache: %w", err)
	}
	return nil
}
