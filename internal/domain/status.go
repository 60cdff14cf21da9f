package domain

// StepRunStatus — статус одной попытки выполнения шага.
//
// Жизненный цикл:
//
//	CREATED → RUNNING → COMPLETED
//	                  ↘ FAILED
//
// Терминальные статусы не переходят дальше: повторный запуск workorder
// переиспользует существующую запись по ключу идемпотентности.
type StepRunStatus string

const (
	// StepRunCreated — запись создана, модуль ещё не запускался.
	StepRunCreated StepRunStatus = "CREATED"

	// StepRunRunning — модуль выполняется.
	StepRunRunning StepRunStatus = "RUNNING"

	// StepRunCompleted — модуль успешно завершён, выходы записаны.
	StepRunCompleted StepRunStatus = "COMPLETED"

	// StepRunFailed — модуль завершился с ошибкой (reason_code заполнен).
	StepRunFailed StepRunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepRunStatus) IsTerminal() bool {
	switch s {
	case StepRunCompleted, StepRunFailed:
		return true
	default:
		return false
	}
}

// WorkorderStatus — агрегированный статус workorder, вычисляемый редьюсером
// из статусов шагов (см. orchestrator.ReduceStatus).
type WorkorderStatus string

const (
	// WorkorderCreated — ни один шаг ещё не запускался.
	WorkorderCreated WorkorderStatus = "CREATED"

	// WorkorderRunning — хотя бы один шаг выполняется.
	WorkorderRunning WorkorderStatus = "RUNNING"

	// WorkorderAwaitingPublish — все шаги завершены, публикация артефактов ожидается.
	WorkorderAwaitingPublish WorkorderStatus = "AWAITING_PUBLISH"

	// WorkorderCompleted — все шаги завершены, возвратов нет, публикация закрыта.
	WorkorderCompleted WorkorderStatus = "COMPLETED"

	// WorkorderPartial — шаги завершены, но есть возвраты либо незакрытая публикация.
	WorkorderPartial WorkorderStatus = "PARTIAL"

	// WorkorderFailed — есть упавшие шаги.
	WorkorderFailed WorkorderStatus = "FAILED"
)
