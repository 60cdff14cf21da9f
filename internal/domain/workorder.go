package domain

// ExecutionMode — режим выполнения workorder при падении шага.
type ExecutionMode string

const (
	// ModeAllOrNothing — первый упавший шаг останавливает весь workorder.
	ModeAllOrNothing ExecutionMode = "ALL_OR_NOTHING"

	// ModePartialAllowed — независимые шаги продолжают выполняться после падения.
	ModePartialAllowed ExecutionMode = "PARTIAL_ALLOWED"
)

// ParseExecutionMode парсит строку режима; пустое значение — PARTIAL_ALLOWED.
func ParseExecutionMode(s string) ExecutionMode {
	switch ExecutionMode(s) {
	case ModeAllOrNothing:
		return ModeAllOrNothing
	default:
		return ModePartialAllowed
	}
}

// StepSpec — декларативное определение одного шага workorder.
type StepSpec struct {
	// StepID — идентификатор шага, уникальный внутри workorder.
	StepID string `yaml:"step_id" json:"step_id"`

	// ModuleID — идентификатор вызываемого модуля.
	ModuleID string `yaml:"module_id" json:"module_id"`

	// Kind — заявленная классификация шага; обязана совпадать с kind модуля.
	Kind ModuleKind `yaml:"kind" json:"kind"`

	// Name — человекочитаемое имя для логов; не участвует в связывании.
	Name string `yaml:"step_name,omitempty" json:"step_name,omitempty"`

	// Inputs — входные значения: скаляры, вложенные структуры и биндинги.
	Inputs map[string]Value `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Deliverables — явный список запрошенных deliverable id.
	Deliverables []string `yaml:"deliverables,omitempty" json:"deliverables,omitempty"`

	// PurchaseArtifacts — legacy-флаг "купить все deliverables".
	// Явный список Deliverables всегда имеет приоритет; одновременное
	// использование обоих путей отклоняется валидатором.
	PurchaseArtifacts *bool `yaml:"purchase_release_artifacts,omitempty" json:"purchase_release_artifacts,omitempty"`

	// DependsOn — явные зависимости в дополнение к выведенным из биндингов.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// ReuseOutput — политика переиспользования выходов; "cache" включает кэш.
	ReuseOutput string `yaml:"reuse_output_type,omitempty" json:"reuse_output_type,omitempty"`

	// Enabled — выключенные шаги пропускаются планировщиком и валидатором.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Packaging — декларация упаковки (max_bytes) для packaging-шагов.
	Packaging *PackagingSpec `yaml:"packaging,omitempty" json:"packaging,omitempty"`

	// Delivery — декларация доставки (method) для delivery-шагов.
	Delivery *DeliverySpec `yaml:"delivery,omitempty" json:"delivery,omitempty"`
}

// IsEnabled возвращает true, если шаг участвует в выполнении (по умолчанию true).
func (s *StepSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// PackagingSpec — параметры packaging-шага, видимые валидатору.
type PackagingSpec struct {
	// MaxBytes — заявленный жёсткий предел размера пакета.
	MaxBytes *int64 `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
}

// DeliverySpec — параметры delivery-шага, видимые валидатору.
type DeliverySpec struct {
	// Method — способ доставки ("email", "object_storage", ...).
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
}

// WorkorderSpec — канонический workorder, потребляемый оркестратором.
//
// Спецификация неизменяема в течение одного прохода оркестрации.
type WorkorderSpec struct {
	// TenantID — арендатор, которому принадлежит workorder.
	TenantID string `yaml:"tenant_id" json:"tenant_id"`

	// WorkOrderID — идентификатор workorder, уникальный в пределах арендатора.
	WorkOrderID string `yaml:"work_order_id" json:"work_order_id"`

	// Enabled — false помечает черновик: валидатор не блокирует, оркестратор пропускает.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Mode — режим выполнения при падении шага.
	Mode ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// ArtifactsRequested — арендатор запросил публикацию артефактов.
	// Включает обязательную пару packaging+delivery (валидатор, правило 3).
	ArtifactsRequested bool `yaml:"artifacts_requested,omitempty" json:"artifacts_requested,omitempty"`

	// Steps — упорядоченный список шагов.
	Steps []StepSpec `yaml:"steps" json:"steps"`

	// SourcePath — путь к документу, из которого загружен workorder.
	SourcePath string `yaml:"-" json:"source_path,omitempty"`

	// Metadata — свободные метаданные workorder.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// EnabledSteps возвращает включённые шаги в объявленном порядке.
func (w *WorkorderSpec) EnabledSteps() []StepSpec {
	out := make([]StepSpec, 0, len(w.Steps))
	for i := range w.Steps {
		if w.Steps[i].IsEnabled() {
			out = append(out, w.Steps[i])
		}
	}
	return out
}

// Step возвращает включённый шаг по id, или nil.
func (w *WorkorderSpec) Step(stepID string) *StepSpec {
	for i := range w.Steps {
		if w.Steps[i].StepID == stepID && w.Steps[i].IsEnabled() {
			return &w.Steps[i]
		}
	}
	return nil
}
