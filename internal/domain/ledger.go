package domain

import "time"

// TransactionType — тип леджерной транзакции.
type TransactionType string

const (
	// TxSpend — списание кредитов за выполнение workorder.
	TxSpend TransactionType = "SPEND"

	// TxRefund — возврат кредитов за упавший шаг.
	TxRefund TransactionType = "REFUND"

	// TxTopup — пополнение баланса арендатора.
	TxTopup TransactionType = "TOPUP"
)

// Зарезервированные deliverable id в позициях леджера.
const (
	// RunDeliverableID — позиция базового запуска шага.
	RunDeliverableID = "__run__"

	// DeliveryEvidenceID — нулевая позиция с доказательством доставки.
	DeliveryEvidenceID = "__delivery_evidence__"

	// PreflightFeature — нулевая позиция заблокированного preflight-запуска.
	PreflightFeature = "__preflight__"

	// CreditsGateFeature — нулевая позиция отказа по балансу.
	CreditsGateFeature = "__credits_gate__"
)

// TransactionRecord — заголовочная строка леджера.
//
// Транзакция агрегирует позиции одного workorder: одно SPEND-списание на
// workorder, отдельные REFUND-транзакции на каждый возврат.
type TransactionRecord struct {
	TransactionID string `json:"transaction_id"`
	TenantID      string `json:"tenant_id"`
	WorkOrderID   string `json:"work_order_id"`

	Type TransactionType `json:"type"`

	// AmountCredits — сумма со знаком: списания отрицательны, возвраты положительны.
	AmountCredits int64 `json:"amount_credits"`

	CreatedAt time.Time `json:"created_at"`

	ReasonCode string `json:"reason_code,omitempty"`
	Note       string `json:"note,omitempty"`

	// IdempotencyKey — детерминированный ключ против дублей при перезапусках.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TransactionItemRecord — позиция леджера: одно списание или возврат.
//
// Инвариант хранилища: никакие две позиции не делят IdempotencyKey;
// повторная запись с тем же ключом — no-op.
type TransactionItemRecord struct {
	TransactionItemID string `json:"transaction_item_id"`
	TransactionID     string `json:"transaction_id"`

	TenantID    string `json:"tenant_id"`
	ModuleID    string `json:"module_id"`
	WorkOrderID string `json:"work_order_id"`
	StepID      string `json:"step_id"`

	// DeliverableID — deliverable id либо зарезервированное значение (__run__).
	DeliverableID string `json:"deliverable_id"`

	// Feature — категория позиции для отчётности.
	Feature string `json:"feature"`

	Type TransactionType `json:"type"`

	// AmountCredits — сумма со знаком (см. TransactionRecord).
	AmountCredits int64 `json:"amount_credits"`

	CreatedAt time.Time `json:"created_at"`

	Note string `json:"note,omitempty"`

	// IdempotencyKey — детерминированный ключ позиции.
	IdempotencyKey string `json:"idempotency_key"`
}

// TenantCredits — текущий баланс арендатора.
type TenantCredits struct {
	TenantID  string    `json:"tenant_id"`
	Available int64     `json:"credits_available"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    string    `json:"status"`
}

// PriceRow — строка прейскуранта с окном действия.
type PriceRow struct {
	ModuleID      string `yaml:"module_id" json:"module_id"`
	DeliverableID string `yaml:"deliverable_id" json:"deliverable_id"`

	PriceCredits int64 `yaml:"price_credits" json:"price_credits"`

	// EffectiveFrom / EffectiveTo — окно действия в формате YYYY-MM-DD;
	// пустой EffectiveTo означает открытое окно.
	EffectiveFrom string `yaml:"effective_from" json:"effective_from"`
	EffectiveTo   string `yaml:"effective_to,omitempty" json:"effective_to,omitempty"`

	Active bool `yaml:"active" json:"active"`

	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}
