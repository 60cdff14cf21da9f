package contract

import (
	"errors"
	"fmt"
)

// Ошибки реестра контрактов.
var (
	// ErrUnknownModule — модуль не зарегистрирован в реестре.
	ErrUnknownModule = errors.New("unknown module")

	// ErrUnknownDeliverable — у модуля нет deliverable с таким id.
	ErrUnknownDeliverable = errors.New("unknown deliverable")

	// ErrInvalidContract — контракт модуля не прошёл проверку при загрузке.
	ErrInvalidContract = errors.New("invalid module contract")
)

// ContractError — ошибка загрузки контракта с привязкой к модулю и полю.
type ContractError struct {
	ModuleID string
	Field    string
	Message  string
	Err      error
}

// Error возвращает текст ошибки.
func (e *ContractError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("module %q: field %q: %s", e.ModuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("module %q: %s", e.ModuleID, e.Message)
}

// Unwrap возвращает вложенную ошибку.
func (e *ContractError) Unwrap() error {
	return e.Err
}

// NewContractError создаёт ошибку контракта поверх ErrInvalidContract.
func NewContractError(moduleID, field, message string) *ContractError {
	return &ContractError{
		ModuleID: moduleID,
		Field:    field,
		Message:  message,
		Err:      ErrInvalidContract,
	}
}
