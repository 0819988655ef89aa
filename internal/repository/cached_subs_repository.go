package repository

import (
	"context"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// CachedSubscriptionStore реализует SubscriptionStore с кешированием.
// Ошибки кеша только логируются; источник истины - вложенное хранилище.
type CachedSubscriptionStore struct {
	store SubscriptionStore
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionStore создает хранилище с кешированием
func NewCachedSubscriptionStore(store SubscriptionStore, cache *RedisCacheRepository, log *logger.Logger) SubscriptionStore {
	return &CachedSubscriptionStore{
		store: store,
		cache: cache,
		log:   log,
	}
}

// FindByCustomer получает запись сначала из кеша, потом из хранилища
func (r *CachedSubscriptionStore) FindByCustomer(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error) {
	email = NormalizeEmail(email)

	cached, err := r.cache.GetCachedRecord(ctx, email)
	if err != nil {
		r.log.Warnw("Error getting record from cache", "error", err, "email", email)
	}
	if cached != nil {
		return cached, nil
	}

	rec, err := r.store.FindByCustomer(ctx, email)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, rec)
	return rec, nil
}

// FindBySubscriptionID использует индекс subscription id -> email, затем хранилище
func (r *CachedSubscriptionStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.LocalSubscriptionRecord, error) {
	email, err := r.cache.GetCachedEmail(ctx, subscriptionID)
	if err != nil {
		r.log.Warnw("Error getting subscription index from cache", "error", err, "subscriptionID", subscriptionID)
	}
	if email != "" {
		cached, err := r.cache.GetCachedRecord(ctx, email)
		if err != nil {
			r.log.Warnw("Error getting record from cache", "error", err, "email", email)
		}
		// индекс мог устареть, если у клиента уже другая подписка
		if cached != nil && cached.SubscriptionID == subscriptionID {
			return cached, nil
		}
	}

	rec, err := r.store.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	r.remember(ctx, rec)
	return rec, nil
}

// Upsert пишет в хранилище и кеширует то, что там реально лежит
func (r *CachedSubscriptionStore) Upsert(ctx context.Context, rec domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error) {
	stored, err := r.store.Upsert(ctx, rec)
	if err != nil {
		if delErr := r.cache.DeleteCachedRecord(ctx, NormalizeEmail(rec.CustomerEmail)); delErr != nil {
			r.log.Warnw("Failed to invalidate cached record", "error", delErr, "email", rec.CustomerEmail)
		}
		return nil, err
	}
	r.remember(ctx, stored)
	return stored, nil
}

// ReplaceIfUnchanged при любой ошибке, включая ErrConflict, сбрасывает кеш,
// чтобы повторное чтение пошло в хранилище.
func (r *CachedSubscriptionStore) ReplaceIfUnchanged(ctx context.Context, rec domain.LocalSubscriptionRecord, expectedLastEventID string) (*domain.LocalSubscriptionRecord, error) {
	stored, err := r.store.ReplaceIfUnchanged(ctx, rec, expectedLastEventID)
	if err != nil {
		if delErr := r.cache.DeleteCachedRecord(ctx, NormalizeEmail(rec.CustomerEmail)); delErr != nil {
			r.log.Warnw("Failed to invalidate cached record", "error", delErr, "email", rec.CustomerEmail)
		}
		return nil, err
	}
	r.remember(ctx, stored)
	return stored, nil
}

func (r *CachedSubscriptionStore) remember(ctx context.Context, rec *domain.LocalSubscriptionRecord) {
	if err := r.cache.CacheRecord(ctx, rec); err != nil {
		r.log.Warnw("Failed to cache record", "error", err, "email", rec.CustomerEmail)
	}
}
