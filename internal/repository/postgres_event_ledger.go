package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// PostgresEventLedger хранит id примененных событий в processed_webhook_events.
// В отличие от Redis и памяти переживает рестарт и общий для всех реплик.
type PostgresEventLedger struct {
	db  *sqlx.DB
	ttl time.Duration
	log *logger.Logger
	now func() time.Time
}

// NewPostgresEventLedger ttl <= 0 означает 72 часа.
func NewPostgresEventLedger(db *sqlx.DB, ttl time.Duration, log *logger.Logger) *PostgresEventLedger {
	if ttl <= 0 {
		ttl = defaultEventTTL
	}
	return &PostgresEventLedger{db: db, ttl: ttl, log: log, now: time.Now}
}

// Seen учитывает только события моложе ttl, как и ключи Redis.
func (l *PostgresEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE event_id = $1 AND processed_at > $2)`

	var seen bool
	if err := l.db.GetContext(ctx, &seen, query, eventID, l.now().UTC().Add(-l.ttl)); err != nil {
		l.log.Errorw("Failed to check processed event", "error", err, "eventID", eventID)
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return seen, nil
}

// Remember отмечает событие как примененное.
func (l *PostgresEventLedger) Remember(ctx context.Context, eventID string) error {
	query := `
        INSERT INTO processed_webhook_events (event_id, processed_at) VALUES ($1, $2)
        ON CONFLICT (event_id) DO UPDATE SET processed_at = EXCLUDED.processed_at`

	if _, err := l.db.ExecContext(ctx, query, eventID, l.now().UTC()); err != nil {
		l.log.Errorw("Failed to remember processed event", "error", err, "eventID", eventID)
		return fmt.Errorf("failed to remember processed event: %w", err)
	}
	return nil
}

// Prune удаляет записи старше ttl и возвращает их число.
func (l *PostgresEventLedger) Prune(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM processed_webhook_events WHERE processed_at <= $1`, l.now().UTC().Add(-l.ttl))
	if err != nil {
		l.log.Errorw("Failed to prune processed events", "error", err)
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	if n > 0 {
		l.log.Infow("Pruned processed webhook events", "count", n)
	}
	return n, nil
}
