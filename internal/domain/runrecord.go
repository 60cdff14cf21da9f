package domain

import "time"

// StepRunRecord — запись одной попытки выполнения шага.
//
// Хранилище append-only: последняя запись по module_run_id авторитетна.
// Создание идемпотентно по IdempotencyKey — повторный запуск workorder
// возвращает существующую запись вместо новой.
type StepRunRecord struct {
	// ModuleRunID — уникальный идентификатор запуска модуля.
	ModuleRunID string `json:"module_run_id"`

	TenantID    string `json:"tenant_id"`
	WorkOrderID string `json:"work_order_id"`
	StepID      string `json:"step_id"`
	ModuleID    string `json:"module_id"`

	// Status — текущий статус согласно жизненному циклу StepRunStatus.
	Status StepRunStatus `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// ReasonCode — канонический код причины падения (пусто при успехе).
	ReasonCode string `json:"reason_code,omitempty"`

	// ReportPath — относительный путь к структурированному отчёту модуля.
	ReportPath string `json:"report_path,omitempty"`

	// OutputsDir — каталог, куда модуль пишет выходные файлы.
	OutputsDir string `json:"outputs_dir,omitempty"`

	// OutputRef — ссылка на источник выходов ("cache:<key>" при cache hit).
	OutputRef string `json:"output_ref,omitempty"`

	// IdempotencyKey — детерминированный ключ создания записи.
	IdempotencyKey string `json:"idempotency_key"`

	// CacheHit — выходы скопированы из кэша, модуль не вызывался.
	CacheHit bool `json:"cache_hit,omitempty"`

	// RequestedDeliverables — deliverables, запрошенные для этого шага.
	RequestedDeliverables []string `json:"requested_deliverables,omitempty"`
}

// OutputRecord — запись о выходном артефакте шага.
//
// Один логический output_id может иметь несколько версий; авторитетна
// последняя по времени создания.
type OutputRecord struct {
	TenantID    string `json:"tenant_id"`
	WorkOrderID string `json:"work_order_id"`
	StepID      string `json:"step_id"`
	ModuleID    string `json:"module_id"`

	// OutputID — логический идентификатор выхода из контракта модуля.
	OutputID string `json:"output_id"`

	// Path — путь относительно каталога выходов шага.
	Path string `json:"path"`

	// URI — канонический локатор содержимого (file://... в dev-режиме).
	URI string `json:"uri,omitempty"`

	// ContentType — формат содержимого из контракта.
	ContentType string `json:"content_type,omitempty"`

	// SHA256 — хэш содержимого.
	SHA256 string `json:"sha256,omitempty"`

	// Bytes — размер в байтах.
	Bytes int64 `json:"bytes"`

	CreatedAt time.Time `json:"created_at"`
}
