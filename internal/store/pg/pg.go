// Package pg — адаптер хранилища на PostgreSQL (pgx).
//
// Записи запусков и выходов дописываются строками; действующая версия —
// строка с максимальным seq. Идемпотентная вставка леджера выражена как
// ON CONFLICT DO NOTHING по уникальному ключу идемпотентности.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/store"
)

func init() {
	store.Register(store.KindPostgres, func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Store — адаптер на пуле соединений pgx.
type Store struct {
	pool *pgxpool.Pool
}

// Open подключается к базе, проверяет соединение и применяет схему.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg: dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping db: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// migrate применяет схему таблиц состояния.
func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS step_runs (
			seq BIGSERIAL PRIMARY KEY,
			module_run_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			work_order_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			module_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			reason_code TEXT NOT NULL DEFAULT '',
			report_path TEXT NOT NULL DEFAULT '',
			outputs_dir TEXT NOT NULL DEFAULT '',
			output_ref TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			requested_deliverables JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS step_runs_by_step
			ON step_runs (tenant_id, work_order_id, step_id, seq)`,
		`CREATE INDEX IF NOT EXISTS step_runs_by_key
			ON step_runs (idempotency_key, seq)`,

		`CREATE TABLE IF NOT EXISTS outputs (
			seq BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			work_order_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			module_id TEXT NOT NULL,
			output_id TEXT NOT NULL,
			path TEXT NOT NULL,
			uri TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			sha256 TEXT NOT NULL DEFAULT '',
			bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS outputs_by_output
			ON outputs (tenant_id, work_order_id, step_id, output_id, created_at, seq)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			work_order_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount_credits BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			reason_code TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transactions_idem
			ON transactions (idempotency_key) WHERE idempotency_key <> ''`,

		`CREATE TABLE IF NOT EXISTS transaction_items (
			seq BIGSERIAL PRIMARY KEY,
			transaction_item_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			module_id TEXT NOT NULL,
			work_order_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			deliverable_id TEXT NOT NULL,
			feature TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			amount_credits BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS transaction_items_idem
			ON transaction_items (idempotency_key)`,

		`CREATE TABLE IF NOT EXISTS tenants_credits (
			tenant_id TEXT PRIMARY KEY,
			credits_available BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'active'
		)`,

		`CREATE TABLE IF NOT EXISTS cache_index (
			place TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			ref TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (place, entry_type, ref)
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pg: migrate: %w", err)
		}
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
