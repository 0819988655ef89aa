package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
)

// InMemorySubscriptionStore реализация SubscriptionStore в памяти
// для локального запуска без database.dsn и для тестов.
type InMemorySubscriptionStore struct {
	records map[string]domain.LocalSubscriptionRecord
	mu      sync.RWMutex
}

// NewInMemorySubscriptionStore создает новое хранилище в памяти.
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		records: make(map[string]domain.LocalSubscriptionRecord),
	}
}

// FindByCustomer возвращает копию записи по email.
func (s *InMemorySubscriptionStore) FindByCustomer(_ context.Context, email string) (*domain.LocalSubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// FindBySubscriptionID линейный поиск; объемы в памяти небольшие.
func (s *InMemorySubscriptionStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*domain.LocalSubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.SubscriptionID == subscriptionID {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// Upsert применяет то же правило порядка, что и PostgreSQL-хранилище.
func (s *InMemorySubscriptionStore) Upsert(_ context.Context, rec domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error) {
	rec.CustomerEmail = NormalizeEmail(rec.CustomerEmail)
	if rec.CustomerEmail == "" {
		return nil, fmt.Errorf("repository: %w: customer email is required", ErrInvalidData)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *domain.LocalSubscriptionRecord
	if existing, ok := s.records[rec.CustomerEmail]; ok {
		current = &existing
	}
	stored, _ := mergeRecord(current, rec)
	s.records[rec.CustomerEmail] = stored
	return &stored, nil
}

// ReplaceIfUnchanged сравнение и запись под одной блокировкой.
func (s *InMemorySubscriptionStore) ReplaceIfUnchanged(_ context.Context, rec domain.LocalSubscriptionRecord, expectedLastEventID string) (*domain.LocalSubscriptionRecord, error) {
	rec.CustomerEmail = NormalizeEmail(rec.CustomerEmail)
	if rec.CustomerEmail == "" {
		return nil, fmt.Errorf("repository: %w: customer email is required", ErrInvalidData)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *domain.LocalSubscriptionRecord
	existing, ok := s.records[rec.CustomerEmail]
	if ok {
		current = &existing
	}
	if (ok && existing.LastEventID != expectedLastEventID) || (!ok && expectedLastEventID != "") {
		return nil, ErrConflict
	}
	stored, applied := mergeRecord(current, rec)
	if !applied {
		return nil, ErrConflict
	}
	s.records[rec.CustomerEmail] = stored
	return &stored, nil
}
