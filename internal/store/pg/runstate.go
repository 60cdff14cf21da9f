package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

const stepRunColumns = `module_run_id, tenant_id, work_order_id, step_id, module_id,
	status, created_at, started_at, ended_at, reason_code, report_path,
	outputs_dir, output_ref, idempotency_key, cache_hit, requested_deliverables`

// AppendStepRun дописывает запись запуска шага.
func (s *Store) AppendStepRun(ctx context.Context, rec *domain.StepRunRecord) error {
	query := `
		INSERT INTO step_runs (` + stepRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ModuleRunID, rec.TenantID, rec.WorkOrderID, rec.StepID, rec.ModuleID,
		string(rec.Status), rec.CreatedAt, rec.StartedAt, rec.EndedAt,
		rec.ReasonCode, rec.ReportPath, rec.OutputsDir, rec.OutputRef,
		rec.IdempotencyKey, rec.CacheHit, rec.RequestedDeliverables,
	)
	if err != nil {
		return fmt.Errorf("pg: append step run: %w", err)
	}
	return nil
}

// GetStepRunByKey возвращает последнюю запись с данным ключом идемпотентности.
func (s *Store) GetStepRunByKey(ctx context.Context, idempotencyKey string) (*domain.StepRunRecord, error) {
	query := `
		SELECT ` + stepRunColumns + `
		FROM step_runs
		WHERE idempotency_key = $1
		ORDER BY seq DESC
		LIMIT 1
	`
	return s.scanStepRun(s.pool.QueryRow(ctx, query, idempotencyKey))
}

// GetStepRun возвращает последнюю запись шага внутри work order.
func (s *Store) GetStepRun(ctx context.Context, tenantID, workOrderID, stepID string) (*domain.StepRunRecord, error) {
	query := `
		SELECT ` + stepRunColumns + `
		FROM step_runs
		WHERE tenant_id = $1 AND work_order_id = $2 AND step_id = $3
		ORDER BY seq DESC
		LIMIT 1
	`
	return s.scanStepRun(s.pool.QueryRow(ctx, query, tenantID, workOrderID, stepID))
}

// ListStepRuns возвращает последнюю запись каждого шага work order
// в порядке первого появления шага в журнале.
func (s *Store) ListStepRuns(ctx context.Context, tenantID, workOrderID string) ([]*domain.StepRunRecord, error) {
	query := `
		SELECT ` + stepRunColumns + `
		FROM (
			SELECT DISTINCT ON (step_id) *
			FROM step_runs
			WHERE tenant_id = $1 AND work_order_id = $2
			ORDER BY step_id, seq DESC
		) latest
		JOIN (
			SELECT step_id AS first_step_id, MIN(seq) AS first_seq
			FROM step_runs
			WHERE tenant_id = $1 AND work_order_id = $2
			GROUP BY step_id
		) first ON latest.step_id = first.first_step_id
		ORDER BY first.first_seq
	`
	rows, err := s.pool.Query(ctx, query, tenantID, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("pg: list step runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.StepRunRecord
	for rows.Next() {
		var rec domain.StepRunRecord
		var status string
		err := rows.Scan(
			&rec.ModuleRunID, &rec.TenantID, &rec.WorkOrderID, &rec.StepID, &rec.ModuleID,
			&status, &rec.CreatedAt, &rec.StartedAt, &rec.EndedAt,
			&rec.ReasonCode, &rec.ReportPath, &rec.OutputsDir, &rec.OutputRef,
			&rec.IdempotencyKey, &rec.CacheHit, &rec.RequestedDeliverables,
		)
		if err != nil {
			return nil, fmt.Errorf("pg: scan step run: %w", err)
		}
		rec.Status = domain.StepRunStatus(status)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list step runs: %w", err)
	}
	return out, nil
}

// AppendOutput дописывает запись выхода шага.
func (s *Store) AppendOutput(ctx context.Context, rec *domain.OutputRecord) error {
	query := `
		INSERT INTO outputs (tenant_id, work_order_id, step_id, module_id,
			output_id, path, uri, content_type, sha256, bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.TenantID, rec.WorkOrderID, rec.StepID, rec.ModuleID,
		rec.OutputID, rec.Path, rec.URI, rec.ContentType, rec.SHA256,
		rec.Bytes, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: append output: %w", err)
	}
	return nil
}

// GetOutput возвращает последнюю по времени создания запись выхода.
func (s *Store) GetOutput(ctx context.Context, tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error) {
	query := `
		SELECT tenant_id, work_order_id, step_id, module_id,
			output_id, path, uri, content_type, sha256, bytes, created_at
		FROM outputs
		WHERE tenant_id = $1 AND work_order_id = $2 AND step_id = $3 AND output_id = $4
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	var rec domain.OutputRecord
	err := s.pool.QueryRow(ctx, query, tenantID, workOrderID, stepID, outputID).Scan(
		&rec.TenantID, &rec.WorkOrderID, &rec.StepID, &rec.ModuleID,
		&rec.OutputID, &rec.Path, &rec.URI, &rec.ContentType, &rec.SHA256,
		&rec.Bytes, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get output: %w", err)
	}
	return &rec, nil
}

func (s *Store) scanStepRun(row pgx.Row) (*domain.StepRunRecord, error) {
	var rec domain.StepRunRecord
	var status string
	err := row.Scan(
		&rec.ModuleRunID, &rec.TenantID, &rec.WorkOrderID, &rec.StepID, &rec.ModuleID,
		&status, &rec.CreatedAt, &rec.StartedAt, &rec.EndedAt,
		&rec.ReasonCode, &rec.ReportPath, &rec.OutputsDir, &rec.OutputRef,
		&rec.IdempotencyKey, &rec.CacheHit, &rec.RequestedDeliverables,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan step run: %w", err)
	}
	rec.Status = domain.StepRunStatus(status)
	return &rec, nil
}
