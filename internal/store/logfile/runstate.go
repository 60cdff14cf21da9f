package logfile

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// AppendStepRun дописывает запись запуска шага.
func (s *Store) AppendStepRun(_ context.Context, rec *domain.StepRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(fileStepRuns, rec)
}

// GetStepRunByKey возвращает последнюю запись с данным ключом идемпотентности.
func (s *Store) GetStepRunByKey(_ context.Context, idempotencyKey string) (*domain.StepRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.StepRunRecord](s, fileStepRuns)
	if err != nil {
		return nil, err
	}
	var found *domain.StepRunRecord
	for i := range recs {
		if recs[i].IdempotencyKey == idempotencyKey {
			found = &recs[i]
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// GetStepRun возвращает последнюю запись шага в work order.
func (s *Store) GetStepRun(_ context.Context, tenantID, workOrderID, stepID string) (*domain.StepRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.StepRunRecord](s, fileStepRuns)
	if err != nil {
		return nil, err
	}
	var found *domain.StepRunRecord
	for i := range recs {
		r := &recs[i]
		if r.TenantID == tenantID && r.WorkOrderID == workOrderID && r.StepID == stepID {
			found = r
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// ListStepRuns возвращает последние записи всех шагов work order в порядке
// первого появления шага в логе.
func (s *Store) ListStepRuns(_ context.Context, tenantID, workOrderID string) ([]*domain.StepRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.StepRunRecord](s, fileStepRuns)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*domain.StepRunRecord)
	order := make([]string, 0)
	for i := range recs {
		r := &recs[i]
		if r.TenantID != tenantID || r.WorkOrderID != workOrderID {
			continue
		}
		if _, seen := latest[r.StepID]; !seen {
			order = append(order, r.StepID)
		}
		latest[r.StepID] = r
	}
	out := make([]*domain.StepRunRecord, 0, len(order))
	for _, sid := range order {
		out = append(out, latest[sid])
	}
	return out, nil
}

// AppendOutput дописывает запись выхода шага.
func (s *Store) AppendOutput(_ context.Context, rec *domain.OutputRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(fileOutputs, rec)
}

// GetOutput возвращает последнюю по времени создания запись выхода.
// При равных временах побеждает более поздняя строка лога.
func (s *Store) GetOutput(_ context.Context, tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.OutputRecord](s, fileOutputs)
	if err != nil {
		return nil, err
	}
	var best *domain.OutputRecord
	for i := range recs {
		r := &recs[i]
		if r.TenantID != tenantID || r.WorkOrderID != workOrderID ||
			r.StepID != stepID || r.OutputID != outputID {
			continue
		}
		if best == nil || !r.CreatedAt.Before(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}
