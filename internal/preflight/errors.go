package preflight

import (
	"errors"
	"fmt"
)

// Ошибки preflight-проверки work order.
var (
	// ErrValidation — work order не прошёл проверку.
	ErrValidation = errors.New("workorder validation failed")

	// ErrDeliverablesConflict — явный список deliverables противоречит
	// устаревшему флагу purchase_release_artifacts.
	ErrDeliverablesConflict = errors.New("explicit deliverables conflict with legacy purchase flag")
)

// Error — блокирующая ошибка проверки с привязкой к шагу.
type Error struct {
	Path    string // путь исходного документа, если известен
	StepID  string // шаг, на котором обнаружена ошибка
	Message string
	Err     error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrValidation
}
