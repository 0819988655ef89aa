package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/jmoiron/sqlx"
)

const recordColumns = `customer_email, stripe_customer_id, subscription_id, plan_id, status,
            last_event_id, last_event_at, updated_at`

const upsertRecordHead = `
        INSERT INTO subscription_records (
            customer_email, stripe_customer_id, subscription_id, plan_id, status,
            last_event_id, last_event_at, updated_at
        ) VALUES (
            :customer_email, :stripe_customer_id, :subscription_id, :plan_id, :status,
            :last_event_id, :last_event_at, :updated_at
        )
        ON CONFLICT (customer_email) DO UPDATE SET
            stripe_customer_id = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), subscription_records.stripe_customer_id),
            subscription_id    = COALESCE(NULLIF(EXCLUDED.subscription_id, ''), subscription_records.subscription_id),
            plan_id            = COALESCE(NULLIF(EXCLUDED.plan_id, ''), subscription_records.plan_id),
            status             = COALESCE(NULLIF(EXCLUDED.status, ''), subscription_records.status),
            last_event_id      = EXCLUDED.last_event_id,
            last_event_at      = EXCLUDED.last_event_at,
            updated_at         = EXCLUDED.updated_at
        WHERE subscription_records.last_event_at <= EXCLUDED.last_event_at`

// Условие WHERE в DO UPDATE - правило порядка: строка с более новым last_event_at
// не перезаписывается. Если обновление отброшено, RETURNING ничего не вернет.
const upsertRecordQuery = upsertRecordHead + `
        RETURNING ` + recordColumns

// То же плюс сравнение с last_event_id, который видел вызывающий.
const replaceRecordQuery = upsertRecordHead + `
          AND subscription_records.last_event_id = :expected_last_event_id
        RETURNING ` + recordColumns

// conditionalRecord параметры replaceRecordQuery
type conditionalRecord struct {
	domain.LocalSubscriptionRecord
	ExpectedLastEventID string `db:"expected_last_event_id"`
}

// postgresSubscriptionStore реализует SubscriptionStore для PostgreSQL.
type postgresSubscriptionStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionStore создает новый экземпляр хранилища для PostgreSQL.
func NewPostgresSubscriptionStore(db *sqlx.DB, log *logger.Logger) SubscriptionStore {
	return &postgresSubscriptionStore{
		db:  db,
		log: log,
	}
}

// FindByCustomer возвращает запись по email клиента.
func (r *postgresSubscriptionStore) FindByCustomer(ctx context.Context, email string) (*domain.LocalSubscriptionRecord, error) {
	email = NormalizeEmail(email)
	query := `SELECT ` + recordColumns + ` FROM subscription_records WHERE customer_email = $1`

	var rec domain.LocalSubscriptionRecord
	if err := r.db.GetContext(ctx, &rec, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debugw("Subscription record not found", "email", email)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription record by email", "error", err, "email", email)
		return nil, fmt.Errorf("repository: failed to get record by email: %w", err)
	}
	return &rec, nil
}

// FindBySubscriptionID возвращает запись по id подписки процессора.
func (r *postgresSubscriptionStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.LocalSubscriptionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM subscription_records WHERE subscription_id = $1 LIMIT 1`

	var rec domain.LocalSubscriptionRecord
	if err := r.db.GetContext(ctx, &rec, query, subscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debugw("Subscription record not found", "subscriptionID", subscriptionID)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription record by subscription id", "error", err, "subscriptionID", subscriptionID)
		return nil, fmt.Errorf("repository: failed to get record by subscription id: %w", err)
	}
	return &rec, nil
}

// Upsert вставляет или обновляет запись одним запросом.
// Если обновление отброшено правилом порядка, возвращается текущая строка.
func (r *postgresSubscriptionStore) Upsert(ctx context.Context, rec domain.LocalSubscriptionRecord) (*domain.LocalSubscriptionRecord, error) {
	rec.CustomerEmail = NormalizeEmail(rec.CustomerEmail)
	if rec.CustomerEmail == "" {
		return nil, fmt.Errorf("repository: %w: customer email is required", ErrInvalidData)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	rows, err := r.db.NamedQueryContext(ctx, upsertRecordQuery, rec)
	if err != nil {
		r.log.Errorw("Failed to upsert subscription record", "error", err, "email", rec.CustomerEmail, "eventID", rec.LastEventID)
		return nil, fmt.Errorf("repository: failed to upsert record: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var stored domain.LocalSubscriptionRecord
		if err := rows.StructScan(&stored); err != nil {
			return nil, fmt.Errorf("repository: failed to scan upserted record: %w", err)
		}
		r.log.Debugw("Subscription record upserted", "email", stored.CustomerEmail, "status", string(stored.Status), "eventID", stored.LastEventID)
		return &stored, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to read upserted record: %w", err)
	}
	// сюда попадаем только когда в базе уже лежит более новое событие
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("repository: failed to close rows: %w", err)
	}

	r.log.Debugw("Upsert skipped, stored record is newer", "email", rec.CustomerEmail, "eventID", rec.LastEventID)
	return r.FindByCustomer(ctx, rec.CustomerEmail)
}

// ReplaceIfUnchanged условная запись одним запросом. Пустой RETURNING означает,
// что строку изменили после чтения или в ней уже более новое событие.
func (r *postgresSubscriptionStore) ReplaceIfUnchanged(ctx context.Context, rec domain.LocalSubscriptionRecord, expectedLastEventID string) (*domain.LocalSubscriptionRecord, error) {
	rec.CustomerEmail = NormalizeEmail(rec.CustomerEmail)
	if rec.CustomerEmail == "" {
		return nil, fmt.Errorf("repository: %w: customer email is required", ErrInvalidData)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	rows, err := r.db.NamedQueryContext(ctx, replaceRecordQuery, conditionalRecord{
		LocalSubscriptionRecord: rec,
		ExpectedLastEventID:     expectedLastEventID,
	})
	if err != nil {
		r.log.Errorw("Failed to replace subscription record", "error", err, "email", rec.CustomerEmail, "eventID", rec.LastEventID)
		return nil, fmt.Errorf("repository: failed to replace record: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var stored domain.LocalSubscriptionRecord
		if err := rows.StructScan(&stored); err != nil {
			return nil, fmt.Errorf("repository: failed to scan replaced record: %w", err)
		}
		return &stored, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to read replaced record: %w", err)
	}

	r.log.Debugw("Conditional write lost", "email", rec.CustomerEmail, "eventID", rec.LastEventID, "expectedLastEventID", expectedLastEventID)
	return nil, ErrConflict
}
