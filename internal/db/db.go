package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/Dhoini/subscription-service/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// PoolOptions параметры пула соединений.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DBClient представляет клиент для работы с базой данных.
type DBClient struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewDBClient подключается через драйвер pgx и проверяет соединение.
func NewDBClient(ctx context.Context, dsn string, pool PoolOptions, log *logger.Logger) (*DBClient, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	log.Infow("Connected to database", "maxOpenConns", pool.MaxOpenConns)
	return NewFromDB(db, log), nil
}

// NewFromDB оборачивает готовое соединение; в тестах это sqlmock.
func NewFromDB(db *sqlx.DB, log *logger.Logger) *DBClient {
	return &DBClient{db: db, log: log}
}

// DB возвращает соединение для репозиториев.
func (dc *DBClient) DB() *sqlx.DB {
	return dc.db
}

// EnsureSchema создает таблицы subscription_records и processed_webhook_events, если их нет.
func (dc *DBClient) EnsureSchema(ctx context.Context) error {
	if _, err := dc.db.ExecContext(ctx, schemaSQL); err != nil {
		dc.log.Errorw("Failed to apply schema", "error", err)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	dc.log.Infow("Database schema is up to date")
	return nil
}

// Ping проверяет доступность базы; используется health-проверками.
func (dc *DBClient) Ping(ctx context.Context) error {
	return dc.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных.
func (dc *DBClient) Close() error {
	if err := dc.db.Close(); err != nil {
		dc.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
