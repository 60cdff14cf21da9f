package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

const txColumns = `transaction_id, tenant_id, work_order_id, type, amount_credits,
	created_at, reason_code, note, idempotency_key`

const itemColumns = `transaction_item_id, transaction_id, tenant_id, module_id,
	work_order_id, step_id, deliverable_id, feature, type, amount_credits,
	created_at, note, idempotency_key`

// InsertTransaction вставляет транзакцию; false — ключ уже существует.
func (s *Store) InsertTransaction(ctx context.Context, rec *domain.TransactionRecord) (bool, error) {
	// Пустой ключ идемпотентности — обычная вставка без защиты от дублей;
	// частичный уникальный индекс покрывает только непустые ключи.
	query := `
		INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) WHERE idempotency_key <> '' DO NOTHING
	`
	if rec.IdempotencyKey == "" {
		query = `
			INSERT INTO transactions (` + txColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
	}
	tag, err := s.pool.Exec(ctx, query,
		rec.TransactionID, rec.TenantID, rec.WorkOrderID, string(rec.Type),
		rec.AmountCredits, rec.CreatedAt, rec.ReasonCode, rec.Note,
		rec.IdempotencyKey,
	)
	if err != nil {
		return false, fmt.Errorf("pg: insert transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetTransactionByKey возвращает транзакцию по ключу идемпотентности.
func (s *Store) GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.TransactionRecord, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE idempotency_key = $1 AND idempotency_key <> ''
		ORDER BY seq DESC
		LIMIT 1
	`
	var rec domain.TransactionRecord
	var typ string
	err := s.pool.QueryRow(ctx, query, idempotencyKey).Scan(
		&rec.TransactionID, &rec.TenantID, &rec.WorkOrderID, &typ,
		&rec.AmountCredits, &rec.CreatedAt, &rec.ReasonCode, &rec.Note,
		&rec.IdempotencyKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get transaction: %w", err)
	}
	rec.Type = domain.TransactionType(typ)
	return &rec, nil
}

// InsertTransactionItem вставляет позицию; false — ключ уже существует.
func (s *Store) InsertTransactionItem(ctx context.Context, rec *domain.TransactionItemRecord) (bool, error) {
	query := `
		INSERT INTO transaction_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.TransactionItemID, rec.TransactionID, rec.TenantID, rec.ModuleID,
		rec.WorkOrderID, rec.StepID, rec.DeliverableID, rec.Feature,
		string(rec.Type), rec.AmountCredits, rec.CreatedAt, rec.Note,
		rec.IdempotencyKey,
	)
	if err != nil {
		return false, fmt.Errorf("pg: insert transaction item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetTransactionItemByKey возвращает позицию по ключу идемпотентности.
func (s *Store) GetTransactionItemByKey(ctx context.Context, idempotencyKey string) (*domain.TransactionItemRecord, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM transaction_items
		WHERE idempotency_key = $1
		LIMIT 1
	`
	return s.scanItem(s.pool.QueryRow(ctx, query, idempotencyKey))
}

// ListItemsForStep возвращает позиции шага в порядке вставки.
func (s *Store) ListItemsForStep(ctx context.Context, tenantID, workOrderID, stepID string) ([]*domain.TransactionItemRecord, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM transaction_items
		WHERE tenant_id = $1 AND work_order_id = $2 AND step_id = $3
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, tenantID, workOrderID, stepID)
	if err != nil {
		return nil, fmt.Errorf("pg: list transaction items: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransactionItemRecord
	for rows.Next() {
		rec, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list transaction items: %w", err)
	}
	return out, nil
}

// ListTransactions возвращает транзакции work order в порядке вставки.
func (s *Store) ListTransactions(ctx context.Context, tenantID, workOrderID string) ([]*domain.TransactionRecord, error) {
	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE tenant_id = $1 AND work_order_id = $2
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, tenantID, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("pg: list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var typ string
		err := rows.Scan(
			&rec.TransactionID, &rec.TenantID, &rec.WorkOrderID, &typ,
			&rec.AmountCredits, &rec.CreatedAt, &rec.ReasonCode, &rec.Note,
			&rec.IdempotencyKey,
		)
		if err != nil {
			return nil, fmt.Errorf("pg: scan transaction: %w", err)
		}
		rec.Type = domain.TransactionType(typ)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list transactions: %w", err)
	}
	return out, nil
}

// GetCredits возвращает баланс арендатора.
func (s *Store) GetCredits(ctx context.Context, tenantID string) (*domain.TenantCredits, error) {
	query := `
		SELECT tenant_id, credits_available, updated_at, status
		FROM tenants_credits
		WHERE tenant_id = $1
	`
	var tc domain.TenantCredits
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&tc.TenantID, &tc.Available, &tc.UpdatedAt, &tc.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get credits: %w", err)
	}
	return &tc, nil
}

// SetCredits устанавливает баланс арендатора.
func (s *Store) SetCredits(ctx context.Context, tenantID string, balance int64) error {
	query := `
		INSERT INTO tenants_credits (tenant_id, credits_available, updated_at, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (tenant_id) DO UPDATE
			SET credits_available = EXCLUDED.credits_available,
			    updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, tenantID, balance, time.Now().UTC()); err != nil {
		return fmt.Errorf("pg: set credits: %w", err)
	}
	return nil
}

// AdjustCredits атомарно изменяет баланс на delta и возвращает новое значение.
// Отсутствующий арендатор считается нулевым балансом.
func (s *Store) AdjustCredits(ctx context.Context, tenantID string, delta int64) (int64, error) {
	query := `
		INSERT INTO tenants_credits (tenant_id, credits_available, updated_at, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (tenant_id) DO UPDATE
			SET credits_available = tenants_credits.credits_available + $2,
			    updated_at = EXCLUDED.updated_at
		RETURNING credits_available
	`
	var balance int64
	err := s.pool.QueryRow(ctx, query, tenantID, delta, time.Now().UTC()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("pg: adjust credits: %w", err)
	}
	return balance, nil
}

func (s *Store) scanItem(row pgx.Row) (*domain.TransactionItemRecord, error) {
	var rec domain.TransactionItemRecord
	var typ string
	err := row.Scan(
		&rec.TransactionItemID, &rec.TransactionID, &rec.TenantID, &rec.ModuleID,
		&rec.WorkOrderID, &rec.StepID, &rec.DeliverableID, &rec.Feature,
		&typ, &rec.AmountCredits, &rec.CreatedAt, &rec.Note,
		&rec.IdempotencyKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan transaction item: %w", err)
	}
	rec.Type = domain.TransactionType(typ)
	return &rec, nil
}
