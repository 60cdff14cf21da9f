package engine

import (
	"errors"
	"fmt"
)

// Ошибки построения плана выполнения.
var (
	// ErrEmptySteps — work order не содержит шагов.
	ErrEmptySteps = errors.New("workorder has no steps")

	// ErrCyclicDependency — обнаружен цикл в зависимостях шагов.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки разрешения биндингов.
var (
	// ErrMissingFromStep — биндинг без from_step.
	ErrMissingFromStep = errors.New("binding.from_step is required")

	// ErrMissingBindingTarget — биндинг без output_id и без from_file.
	ErrMissingBindingTarget = errors.New("binding.from_file or binding.output_id is required")

	// ErrUpstreamOutputsMissing — у шага-источника нет каталога выходов.
	ErrUpstreamOutputsMissing = errors.New("upstream step outputs not found")

	// ErrNotExposed — цель биндинга не входит в экспонируемые выходы шага-источника.
	ErrNotExposed = errors.New("binding target is not exposed by upstream step")

	// ErrBindingFileMissing — файл, на который указывает биндинг, отсутствует.
	ErrBindingFileMissing = errors.New("binding source file not found")

	// ErrUnsupportedSelector — неизвестный селектор биндинга.
	ErrUnsupportedSelector = errors.New("unsupported binding selector")

	// ErrEmptyJSONL — селектор jsonl_first над пустым файлом.
	ErrEmptyJSONL = errors.New("jsonl_first: file is empty")

	// ErrJSONPath — путь json_path не разрешается в данных.
	ErrJSONPath = errors.New("json_path lookup failed")
)

// CycleError — цикл в зависимостях с указанием шага, на котором он обнаружен.
type CycleError struct {
	StepID string
}

// Error возвращает текст ошибки.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle in dependencies at %s", e.StepID)
}

// Unwrap возвращает базовую ошибку.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}

// BindingError — ошибка разрешения биндинга с контекстом источника.
type BindingError struct {
	FromStep string // шаг-источник
	Ref      string // output_id или from_file
	Message  string // описание ошибки
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *BindingError) Error() string {
	if e.FromStep != "" {
		return fmt.Sprintf("binding from step %q: %s", e.FromStep, e.Message)
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *BindingError) Unwrap() error {
	return e.Err
}

// NewBindingError создаёт новую ошибку разрешения биндинга.
func NewBindingError(fromStep, ref, message string, err error) *BindingError {
	return &BindingError{
		FromStep: fromStep,
		Ref:      ref,
		Message:  message,
		Err:      err,
	}
}
