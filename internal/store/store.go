// Package store объявляет интерфейсы хранилища состояния и фабрику адаптеров.
//
// Каждая способность — отдельный интерфейс; адаптеры (postgres, logfile)
// реализуют их все. Ключ идемпотентности — единственный механизм защиты от
// повторных запусков: каждая мутирующая запись либо no-op по существующему
// ключу, либо дописывание новой строки.
package store

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
)

// RunStateStore хранит записи запусков шагов и их выходов.
//
// Записи дописываются; чтение возвращает последнюю строку по ключу
// (latest-wins). Строки не перезаписываются и не удаляются.
type RunStateStore interface {
	// AppendStepRun дописывает запись запуска шага.
	AppendStepRun(ctx context.Context, rec *domain.StepRunRecord) error

	// GetStepRunByKey возвращает последнюю запись с данным ключом
	// идемпотентности, или ErrNotFound.
	GetStepRunByKey(ctx context.Context, idempotencyKey string) (*domain.StepRunRecord, error)

	// GetStepRun возвращает последнюю запись шага в work order, или ErrNotFound.
	GetStepRun(ctx context.Context, tenantID, workOrderID, stepID string) (*domain.StepRunRecord, error)

	// ListStepRuns возвращает последние записи всех шагов work order.
	ListStepRuns(ctx context.Context, tenantID, workOrderID string) ([]*domain.StepRunRecord, error)

	// AppendOutput дописывает запись выхода шага.
	AppendOutput(ctx context.Context, rec *domain.OutputRecord) error

	// GetOutput возвращает последнюю по времени создания запись выхода,
	// или ErrNotFound.
	GetOutput(ctx context.Context, tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error)
}

// LedgerStore хранит транзакции и позиции биллинга.
//
// Вставка идемпотентна по ключу: повторная вставка с существующим ключом —
// no-op, возвращающий false.
type LedgerStore interface {
	// InsertTransaction вставляет транзакцию; false — ключ уже существует.
	InsertTransaction(ctx context.Context, rec *domain.TransactionRecord) (bool, error)

	// GetTransactionByKey возвращает транзакцию по ключу идемпотентности.
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.TransactionRecord, error)

	// InsertTransactionItem вставляет позицию; false — ключ уже существует.
	InsertTransactionItem(ctx context.Context, rec *domain.TransactionItemRecord) (bool, error)

	// GetTransactionItemByKey возвращает позицию по ключу идемпотентности.
	GetTransactionItemByKey(ctx context.Context, idempotencyKey string) (*domain.TransactionItemRecord, error)

	// ListItemsForStep возвращает позиции шага в порядке вставки.
	ListItemsForStep(ctx context.Context, tenantID, workOrderID, stepID string) ([]*domain.TransactionItemRecord, error)

	// ListTransactions возвращает транзакции work order в порядке вставки.
	ListTransactions(ctx context.Context, tenantID, workOrderID string) ([]*domain.TransactionRecord, error)
}

// TenantStore хранит кредитные балансы арендаторов.
type TenantStore interface {
	// GetCredits возвращает баланс арендатора, или ErrNotFound.
	GetCredits(ctx context.Context, tenantID string) (*domain.TenantCredits, error)

	// SetCredits устанавливает баланс арендатора.
	SetCredits(ctx context.Context, tenantID string, balance int64) error

	// AdjustCredits изменяет баланс на delta и возвращает новое значение.
	// Отсутствующий арендатор считается нулевым балансом.
	AdjustCredits(ctx context.Context, tenantID string, delta int64) (int64, error)
}

// CacheIndexStore хранит индекс кэша выходов.
type CacheIndexStore interface {
	// GetCacheEntry возвращает запись индекса по (place, type, ref).
	GetCacheEntry(ctx context.Context, place, entryType, ref string) (*domain.CacheIndexEntry, error)

	// UpsertCacheEntry вставляет или заменяет запись индекса.
	UpsertCacheEntry(ctx context.Context, entry *domain.CacheIndexEntry) error
}

// Store — полный набор способностей одного адаптера.
type Store interface {
	RunStateStore
	LedgerStore
	TenantStore
	CacheIndexStore

	// Close освобождает ресурсы адаптера.
	Close() error
}
