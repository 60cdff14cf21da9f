// Package ledger ведёт биллинг work orders: списания, возвраты и
// аудиторские нулевые транзакции.
//
// Каждая запись несёт детерминированный ключ идемпотентности: повторный
// запуск того же work order воспроизводит в точности тот же леджер.
// Возвраты зеркалируют постатейную раскладку исходного списания.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// Service — биллинговый сервис поверх леджерного и кредитного хранилищ.
type Service struct {
	ledger  store.LedgerStore
	tenants store.TenantStore
	prices  *PriceList
	now     func() time.Time
}

// New создаёт биллинговый сервис.
func New(ledger store.LedgerStore, tenants store.TenantStore, prices *PriceList) *Service {
	return &Service{
		ledger:  ledger,
		tenants: tenants,
		prices:  prices,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SpendStep — один шаг плана в списании.
type SpendStep struct {
	StepID   string
	ModuleID string

	// Deliverables — запрошенные deliverable id шага.
	Deliverables []string
}

// SpendParams — параметры списания за work order.
type SpendParams struct {
	TenantID    string
	WorkOrderID string

	// WorkorderPath — путь документа work order; входит в ключ идемпотентности.
	WorkorderPath string

	// PlanType — тип плана; входит в ключ идемпотентности.
	PlanType string

	Steps []SpendStep

	Note string
}

// SpendResult — результат списания.
type SpendResult struct {
	TransactionID string

	// Total — суммарное списание в кредитах (положительное число).
	Total int64

	// PerStep — раскладка стоимости по шагам.
	PerStep map[string]Breakdown

	// Inserted — транзакция создана этим вызовом (false — повтор по ключу).
	Inserted bool
}

// EstimateTotal оценивает стоимость плана на момент asOf без записи.
func (s *Service) EstimateTotal(steps []SpendStep, asOf time.Time) int64 {
	var total int64
	for _, st := range steps {
		total += s.prices.BreakdownForStep(st.ModuleID, st.Deliverables, asOf).Total()
	}
	return total
}

// CheckCredits сравнивает баланс арендатора с требуемой суммой.
// Отсутствующий арендатор считается нулевым балансом.
// Недостаток — ErrInsufficientCredits с текущими значениями.
func (s *Service) CheckCredits(ctx context.Context, tenantID string, required int64) (int64, error) {
	var available int64
	tc, err := s.tenants.GetCredits(ctx, tenantID)
	switch {
	case err == nil:
		available = tc.Available
	case errors.Is(err, store.ErrNotFound):
		available = 0
	default:
		return 0, fmt.Errorf("ledger: get credits: %w", err)
	}
	if available < required {
		return available, fmt.Errorf("%w: available=%d, required=%d",
			ErrInsufficientCredits, available, required)
	}
	return available, nil
}

// PostSpend записывает SPEND-транзакцию work order с постатейными
// позициями (__run__ плюс каждый запрошенный deliverable) и списывает
// сумму с баланса. Повторный вызов с тем же ключом — no-op.
func (s *Service) PostSpend(ctx context.Context, p SpendParams) (*SpendResult, error) {
	asOf := s.now()

	perStep := make(map[string]Breakdown, len(p.Steps))
	var total int64
	for _, st := range p.Steps {
		b := s.prices.BreakdownForStep(st.ModuleID, st.Deliverables, asOf)
		perStep[st.StepID] = b
		total += b.Total()
	}

	key := KeyWorkorderSpend(p.TenantID, p.WorkOrderID, p.WorkorderPath, p.PlanType)
	rec := &domain.TransactionRecord{
		TransactionID:  uuid.NewString(),
		TenantID:       p.TenantID,
		WorkOrderID:    p.WorkOrderID,
		Type:           domain.TxSpend,
		AmountCredits:  -total,
		CreatedAt:      asOf,
		Note:           p.Note,
		IdempotencyKey: key,
	}
	inserted, err := s.ledger.InsertTransaction(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: post spend: %w", err)
	}
	txID := rec.TransactionID
	if !inserted {
		existing, err := s.ledger.GetTransactionByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("ledger: post spend: lookup existing: %w", err)
		}
		txID = existing.TransactionID
	}

	for _, st := range p.Steps {
		b := perStep[st.StepID]
		if runPrice := b[domain.RunDeliverableID]; runPrice > 0 {
			item := &domain.TransactionItemRecord{
				TransactionItemID: uuid.NewString(),
				TransactionID:     txID,
				TenantID:          p.TenantID,
				ModuleID:          st.ModuleID,
				WorkOrderID:       p.WorkOrderID,
				StepID:            st.StepID,
				DeliverableID:     domain.RunDeliverableID,
				Feature:           domain.RunDeliverableID,
				Type:              domain.TxSpend,
				AmountCredits:     -runPrice,
				CreatedAt:         asOf,
				Note:              fmt.Sprintf("Run spend: %s [%s]", st.ModuleID, st.StepID),
				IdempotencyKey:    KeyStepRunCharge(p.TenantID, p.WorkOrderID, st.StepID, st.ModuleID),
			}
			if _, err := s.ledger.InsertTransactionItem(ctx, item); err != nil {
				return nil, fmt.Errorf("ledger: post run item: %w", err)
			}
		}
		for _, did := range st.Deliverables {
			price := b[did]
			if price <= 0 {
				continue
			}
			item := &domain.TransactionItemRecord{
				TransactionItemID: uuid.NewString(),
				TransactionID:     txID,
				TenantID:          p.TenantID,
				ModuleID:          st.ModuleID,
				WorkOrderID:       p.WorkOrderID,
				StepID:            st.StepID,
				DeliverableID:     did,
				Feature:           did,
				Type:              domain.TxSpend,
				AmountCredits:     -price,
				CreatedAt:         asOf,
				Note:              fmt.Sprintf("Deliverable spend (%s): %s [%s]", did, st.ModuleID, st.StepID),
				IdempotencyKey:    KeyDeliverableCharge(p.TenantID, p.WorkOrderID, st.StepID, st.ModuleID, did),
			}
			if _, err := s.ledger.InsertTransactionItem(ctx, item); err != nil {
				return nil, fmt.Errorf("ledger: post deliverable item: %w", err)
			}
		}
	}

	if inserted && total > 0 {
		if _, err := s.tenants.AdjustCredits(ctx, p.TenantID, -total); err != nil {
			return nil, fmt.Errorf("ledger: debit credits: %w", err)
		}
	}

	return &SpendResult{TransactionID: txID, Total: total, PerStep: perStep, Inserted: inserted}, nil
}

// RefundParams — параметры возврата за упавший шаг.
type RefundParams struct {
	TenantID    string
	WorkOrderID string
	StepID      string
	ModuleID    string

	// ReasonCode — канонический код причины; входит в ключи идемпотентности.
	ReasonCode string

	// Breakdown — раскладка исходного списания шага; возврат зеркалирует её.
	Breakdown Breakdown
}

// RefundResult — результат возврата.
type RefundResult struct {
	TransactionID string

	// Amount — возвращённая сумма (положительное число, 0 — нечего возвращать).
	Amount int64

	Inserted bool
}

// PostRefund записывает REFUND-транзакцию, зеркалирующую постатейную
// раскладку списания шага, и возвращает сумму на баланс.
// Нулевая раскладка — no-op.
func (s *Service) PostRefund(ctx context.Context, p RefundParams) (*RefundResult, error) {
	amount := p.Breakdown.Total()
	if amount <= 0 {
		return &RefundResult{}, nil
	}
	asOf := s.now()

	txKey := "tx_" + KeyRefund(p.TenantID, p.WorkOrderID, p.StepID, p.ModuleID,
		domain.RunDeliverableID, p.ReasonCode)
	rec := &domain.TransactionRecord{
		TransactionID:  uuid.NewString(),
		TenantID:       p.TenantID,
		WorkOrderID:    p.WorkOrderID,
		Type:           domain.TxRefund,
		AmountCredits:  amount,
		CreatedAt:      asOf,
		ReasonCode:     p.ReasonCode,
		Note:           fmt.Sprintf("Refund: %s [%s] (reason=%s)", p.ModuleID, p.StepID, p.ReasonCode),
		IdempotencyKey: txKey,
	}
	inserted, err := s.ledger.InsertTransaction(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: post refund: %w", err)
	}
	txID := rec.TransactionID
	if !inserted {
		existing, err := s.ledger.GetTransactionByKey(ctx, txKey)
		if err != nil {
			return nil, fmt.Errorf("ledger: post refund: lookup existing: %w", err)
		}
		txID = existing.TransactionID
	}

	for _, did := range sortedDeliverables(p.Breakdown) {
		amt := p.Breakdown[did]
		if amt <= 0 {
			continue
		}
		item := &domain.TransactionItemRecord{
			TransactionItemID: uuid.NewString(),
			TransactionID:     txID,
			TenantID:          p.TenantID,
			ModuleID:          p.ModuleID,
			WorkOrderID:       p.WorkOrderID,
			StepID:            p.StepID,
			DeliverableID:     did,
			Feature:           did,
			Type:              domain.TxRefund,
			AmountCredits:     amt,
			CreatedAt:         asOf,
			Note:              fmt.Sprintf("Refund item (%s): %s [%s] (reason=%s)", did, p.ModuleID, p.StepID, p.ReasonCode),
			IdempotencyKey:    KeyRefund(p.TenantID, p.WorkOrderID, p.StepID, p.ModuleID, did, p.ReasonCode),
		}
		if _, err := s.ledger.InsertTransactionItem(ctx, item); err != nil {
			return nil, fmt.Errorf("ledger: post refund item: %w", err)
		}
	}

	if inserted {
		if _, err := s.tenants.AdjustCredits(ctx, p.TenantID, amount); err != nil {
			return nil, fmt.Errorf("ledger: credit refund: %w", err)
		}
	}

	return &RefundResult{TransactionID: txID, Amount: amount, Inserted: inserted}, nil
}

// GateParams — параметры нулевой аудиторской транзакции гейта.
type GateParams struct {
	TenantID    string
	WorkOrderID string

	// Feature — зарезервированная категория (__credits_gate__, __preflight__).
	Feature string

	// ReasonCode — канонический код причины блокировки.
	ReasonCode string

	Note string
}

// PostGate записывает нулевую SPEND-транзакцию с одной позицией:
// заблокированный запуск остаётся видимым в леджере без списания.
func (s *Service) PostGate(ctx context.Context, p GateParams) (*domain.TransactionRecord, error) {
	asOf := s.now()
	key := KeyAuditGate(p.TenantID, p.WorkOrderID, p.Feature, p.ReasonCode)
	rec := &domain.TransactionRecord{
		TransactionID:  uuid.NewString(),
		TenantID:       p.TenantID,
		WorkOrderID:    p.WorkOrderID,
		Type:           domain.TxSpend,
		AmountCredits:  0,
		CreatedAt:      asOf,
		ReasonCode:     p.ReasonCode,
		Note:           p.Note,
		IdempotencyKey: key,
	}
	inserted, err := s.ledger.InsertTransaction(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: post gate: %w", err)
	}
	if !inserted {
		existing, err := s.ledger.GetTransactionByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("ledger: post gate: lookup existing: %w", err)
		}
		return existing, nil
	}

	item := &domain.TransactionItemRecord{
		TransactionItemID: uuid.NewString(),
		TransactionID:     rec.TransactionID,
		TenantID:          p.TenantID,
		WorkOrderID:       p.WorkOrderID,
		Feature:           p.Feature,
		Type:              domain.TxSpend,
		AmountCredits:     0,
		CreatedAt:         asOf,
		Note:              p.Note,
		IdempotencyKey:    "ti_" + key,
	}
	if _, err := s.ledger.InsertTransactionItem(ctx, item); err != nil {
		return nil, fmt.Errorf("ledger: post gate item: %w", err)
	}
	return rec, nil
}

// EvidenceParams — доказательство доставки от delivery-модуля.
type EvidenceParams struct {
	TenantID    string
	WorkOrderID string
	StepID      string
	ModuleID    string

	// TransactionID — SPEND-транзакция work order, к которой крепится позиция.
	TransactionID string

	Provider           string
	RemotePath         string
	VerificationStatus string
	Bytes              int64
}

// PostDeliveryEvidence записывает нулевую позицию с доказательством
// доставки под собственным ключом идемпотентности.
func (s *Service) PostDeliveryEvidence(ctx context.Context, p EvidenceParams) error {
	item := &domain.TransactionItemRecord{
		TransactionItemID: uuid.NewString(),
		TransactionID:     p.TransactionID,
		TenantID:          p.TenantID,
		ModuleID:          p.ModuleID,
		WorkOrderID:       p.WorkOrderID,
		StepID:            p.StepID,
		DeliverableID:     domain.DeliveryEvidenceID,
		Feature:           "delivery_evidence",
		Type:              domain.TxSpend,
		AmountCredits:     0,
		CreatedAt:         s.now(),
		Note: fmt.Sprintf("Delivery evidence: provider=%s path=%s verification=%s bytes=%d",
			p.Provider, p.RemotePath, p.VerificationStatus, p.Bytes),
		IdempotencyKey: KeyDeliveryEvidence(p.TenantID, p.WorkOrderID, p.StepID, p.ModuleID),
	}
	if _, err := s.ledger.InsertTransactionItem(ctx, item); err != nil {
		return fmt.Errorf("ledger: post delivery evidence: %w", err)
	}
	return nil
}

// ItemsForStep возвращает позиции шага в порядке вставки.
func (s *Service) ItemsForStep(ctx context.Context, tenantID, workOrderID, stepID string) ([]*domain.TransactionItemRecord, error) {
	return s.ledger.ListItemsForStep(ctx, tenantID, workOrderID, stepID)
}

// Transactions возвращает транзакции work order в порядке вставки.
func (s *Service) Transactions(ctx context.Context, tenantID, workOrderID string) ([]*domain.TransactionRecord, error) {
	return s.ledger.ListTransactions(ctx, tenantID, workOrderID)
}

func sortedDeliverables(b Breakdown) []string {
	out := make([]string, 0, len(b))
	for did := range b {
		out = append(out, did)
	}
	sort.Strings(out)
	return out
}
