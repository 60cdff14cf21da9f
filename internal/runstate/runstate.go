// Package runstate ведёт записи запусков шагов и их выходов поверх хранилища.
//
// Создание записи идемпотентно по ключу: повторный запуск workorder
// возвращает существующую запись. Переходы статусов дописывают слитую
// копию записи; терминальные статусы не переходят дальше.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// Service — сервис состояния запусков поверх store.RunStateStore.
type Service struct {
	store store.RunStateStore
	now   func() time.Time
}

// New создаёт сервис состояния запусков.
func New(st store.RunStateStore) *Service {
	return &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams — параметры создания записи запуска шага.
type CreateParams struct {
	TenantID    string
	WorkOrderID string
	StepID      string
	ModuleID    string

	// IdempotencyKey — детерминированный ключ создания; существующая
	// запись с этим ключом возвращается вместо новой.
	IdempotencyKey string

	// OutputsDir — каталог выходов шага.
	OutputsDir string

	// RequestedDeliverables — deliverables, запрошенные для шага.
	RequestedDeliverables []string
}

// CreateStepRun возвращает существующую запись по ключу идемпотентности
// либо дописывает новую в статусе CREATED.
func (s *Service) CreateStepRun(ctx context.Context, p CreateParams) (*domain.StepRunRecord, error) {
	existing, err := s.store.GetStepRunByKey(ctx, p.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("runstate: lookup step run: %w", err)
	}

	rec := &domain.StepRunRecord{
		ModuleRunID:           uuid.NewString(),
		TenantID:              p.TenantID,
		WorkOrderID:           p.WorkOrderID,
		StepID:                p.StepID,
		ModuleID:              p.ModuleID,
		Status:                domain.StepRunCreated,
		CreatedAt:             s.now(),
		OutputsDir:            p.OutputsDir,
		IdempotencyKey:        p.IdempotencyKey,
		RequestedDeliverables: p.RequestedDeliverables,
	}
	if err := s.store.AppendStepRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("runstate: create step run: %w", err)
	}
	return rec, nil
}

// MarkRunning переводит запись в RUNNING. Терминальная запись
// возвращается без изменений.
func (s *Service) MarkRunning(ctx context.Context, rec *domain.StepRunRecord, outputsDir string) (*domain.StepRunRecord, error) {
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	next := *rec
	next.Status = domain.StepRunRunning
	started := s.now()
	next.StartedAt = &started
	if outputsDir != "" {
		next.OutputsDir = outputsDir
	}
	if err := s.store.AppendStepRun(ctx, &next); err != nil {
		return nil, fmt.Errorf("runstate: mark running: %w", err)
	}
	return &next, nil
}

// SuccessParams — детали успешного завершения шага.
type SuccessParams struct {
	// ReportPath — относительный путь к отчёту модуля.
	ReportPath string

	// OutputRef — ссылка на источник выходов ("cache:<key>" при cache hit).
	OutputRef string

	// CacheHit — выходы взяты из кэша, модуль не вызывался.
	CacheHit bool
}

// MarkSucceeded переводит запись в COMPLETED. Терминальная запись
// возвращается без изменений.
func (s *Service) MarkSucceeded(ctx context.Context, rec *domain.StepRunRecord, p SuccessParams) (*domain.StepRunRecord, error) {
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	next := *rec
	next.Status = domain.StepRunCompleted
	ended := s.now()
	next.EndedAt = &ended
	next.ReasonCode = ""
	if p.ReportPath != "" {
		next.ReportPath = p.ReportPath
	}
	if p.OutputRef != "" {
		next.OutputRef = p.OutputRef
	}
	next.CacheHit = p.CacheHit
	if err := s.store.AppendStepRun(ctx, &next); err != nil {
		return nil, fmt.Errorf("runstate: mark succeeded: %w", err)
	}
	return &next, nil
}

// MarkFailed переводит запись в FAILED с кодом причины. Терминальная
// запись возвращается без изменений.
func (s *Service) MarkFailed(ctx context.Context, rec *domain.StepRunRecord, reasonCode string) (*domain.StepRunRecord, error) {
	if rec.Status.IsTerminal() {
		return rec, nil
	}
	next := *rec
	next.Status = domain.StepRunFailed
	ended := s.now()
	next.EndedAt = &ended
	next.ReasonCode = reasonCode
	if err := s.store.AppendStepRun(ctx, &next); err != nil {
		return nil, fmt.Errorf("runstate: mark failed: %w", err)
	}
	return &next, nil
}

// RecordOutput дописывает запись выхода шага; пустое время создания
// заполняется текущим.
func (s *Service) RecordOutput(ctx context.Context, rec *domain.OutputRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.store.AppendOutput(ctx, rec); err != nil {
		return fmt.Errorf("runstate: record output: %w", err)
	}
	return nil
}

// GetStepRun возвращает последнюю запись шага, или store.ErrNotFound.
func (s *Service) GetStepRun(ctx context.Context, tenantID, workOrderID, stepID string) (*domain.StepRunRecord, error) {
	return s.store.GetStepRun(ctx, tenantID, workOrderID, stepID)
}

// ListStepRuns возвращает последние записи всех шагов work order.
func (s *Service) ListStepRuns(ctx context.Context, tenantID, workOrderID string) ([]*domain.StepRunRecord, error) {
	return s.store.ListStepRuns(ctx, tenantID, workOrderID)
}

// GetOutput возвращает последнюю запись выхода, или store.ErrNotFound.
func (s *Service) GetOutput(ctx context.Context, tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error) {
	return s.store.GetOutput(ctx, tenantID, workOrderID, stepID, outputID)
}

// OutputLookup связывает сервис с контекстом для чтения выходов
// резолвером привязок.
func (s *Service) OutputLookup(ctx context.Context) *Lookup {
	return &Lookup{ctx: ctx, svc: s}
}

// Lookup — read-only доступ к выходам с зафиксированным контекстом.
type Lookup struct {
	ctx context.Context
	svc *Service
}

// GetOutput возвращает последнюю запись выхода шага.
func (l *Lookup) GetOutput(tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error) {
	return l.svc.GetOutput(l.ctx, tenantID, workOrderID, stepID, outputID)
}
