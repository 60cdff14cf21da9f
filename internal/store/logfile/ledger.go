package logfile

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// InsertTransaction вставляет транзакцию; существующий ключ — no-op.
func (s *Store) InsertTransaction(_ context.Context, rec *domain.TransactionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.IdempotencyKey != "" {
		recs, err := scanAll[domain.TransactionRecord](s, fileTxns)
		if err != nil {
			return false, err
		}
		for i := range recs {
			if recs[i].IdempotencyKey == rec.IdempotencyKey {
				return false, nil
			}
		}
	}
	if err := s.appendLine(fileTxns, rec); err != nil {
		return false, err
	}
	return true, nil
}

// GetTransactionByKey возвращает транзакцию по ключу идемпотентности.
func (s *Store) GetTransactionByKey(_ context.Context, idempotencyKey string) (*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.TransactionRecord](s, fileTxns)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].IdempotencyKey == idempotencyKey {
			return &recs[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// InsertTransactionItem вставляет позицию; существующий ключ — no-op.
func (s *Store) InsertTransactionItem(_ context.Context, rec *domain.TransactionItemRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.IdempotencyKey != "" {
		recs, err := scanAll[domain.TransactionItemRecord](s, fileTxnItems)
		if err != nil {
			return false, err
		}
		for i := range recs {
			if recs[i].IdempotencyKey == rec.IdempotencyKey {
				return false, nil
			}
		}
	}
	if err := s.appendLine(fileTxnItems, rec); err != nil {
		return false, err
	}
	return true, nil
}

// GetTransactionItemByKey возвращает позицию по ключу идемпотентности.
func (s *Store) GetTransactionItemByKey(_ context.Context, idempotencyKey string) (*domain.TransactionItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.TransactionItemRecord](s, fileTxnItems)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].IdempotencyKey == idempotencyKey {
			return &recs[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// ListItemsForStep возвращает позиции шага в порядке вставки.
func (s *Store) ListItemsForStep(_ context.Context, tenantID, workOrderID, stepID string) ([]*domain.TransactionItemRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.TransactionItemRecord](s, fileTxnItems)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TransactionItemRecord, 0)
	for i := range recs {
		r := &recs[i]
		if r.TenantID == tenantID && r.WorkOrderID == workOrderID && r.StepID == stepID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListTransactions возвращает транзакции work order в порядке вставки.
func (s *Store) ListTransactions(_ context.Context, tenantID, workOrderID string) ([]*domain.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.TransactionRecord](s, fileTxns)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TransactionRecord, 0)
	for i := range recs {
		r := &recs[i]
		if r.TenantID == tenantID && r.WorkOrderID == workOrderID {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetCredits возвращает баланс арендатора (последняя строка по арендатору).
func (s *Store) GetCredits(_ context.Context, tenantID string) (*domain.TenantCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestCredits(tenantID)
}

func (s *Store) latestCredits(tenantID string) (*domain.TenantCredits, error) {
	recs, err := scanAll[domain.TenantCredits](s, fileCredits)
	if err != nil {
		return nil, err
	}
	var found *domain.TenantCredits
	for i := range recs {
		if recs[i].TenantID == tenantID {
			found = &recs[i]
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// SetCredits устанавливает баланс арендатора.
func (s *Store) SetCredits(_ context.Context, tenantID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(fileCredits, &domain.TenantCredits{
		TenantID:  tenantID,
		Available: balance,
		UpdatedAt: time.Now().UTC(),
		Status:    "active",
	})
}

// AdjustCredits изменяет баланс на delta; отсутствующий арендатор — ноль.
func (s *Store) AdjustCredits(_ context.Context, tenantID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	status := "active"
	if found, err := s.latestCredits(tenantID); err == nil {
		current = found.Available
		status = found.Status
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	next := current + delta
	if err := s.appendLine(fileCredits, &domain.TenantCredits{
		TenantID:  tenantID,
		Available: next,
		UpdatedAt: time.Now().UTC(),
		Status:    status,
	}); err != nil {
		return 0, err
	}
	return next, nil
}
