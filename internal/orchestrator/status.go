package orchestrator

import "github.com/shaiso/Conveyor/internal/domain"

// StatusInputs — входы редукции статуса workorder.
type StatusInputs struct {
	// StepStatuses — финальные статусы шагов по step_id.
	StepStatuses map[string]domain.StepRunStatus

	// RefundsExist — по workorder записан хотя бы один возврат.
	RefundsExist bool

	// PublishRequired — для шагов запрошены deliverables, требующие публикации.
	PublishRequired bool

	// PublishCompleted — публикация артефактов закрыта (сверка вне оркестратора).
	PublishCompleted bool
}

// ReduceStatus сворачивает статусы шагов в канонический статус workorder.
//
// Чистая функция без побочных эффектов:
//   - ни один шаг не запускался → CREATED;
//   - хотя бы один шаг выполняется → RUNNING;
//   - все шаги завершены, публикация требуется и не закрыта → AWAITING_PUBLISH;
//   - все шаги завершены без возвратов → COMPLETED;
//   - все шаги завершены, но есть возвраты → PARTIAL;
//   - есть упавшие шаги → FAILED;
//   - смешанный остаток (например, часть шагов так и не стартовала) → PARTIAL.
func ReduceStatus(in StatusInputs) domain.WorkorderStatus {
	if len(in.StepStatuses) == 0 {
		return domain.WorkorderCreated
	}

	anyFailed := false
	allCompleted := true
	for _, s := range in.StepStatuses {
		switch s {
		case domain.StepRunRunning:
			return domain.WorkorderRunning
		case domain.StepRunFailed:
			anyFailed = true
			allCompleted = false
		case domain.StepRunCompleted:
		default:
			allCompleted = false
		}
	}

	if allCompleted {
		if in.PublishRequired && !in.PublishCompleted {
			return domain.WorkorderAwaitingPublish
		}
		if in.RefundsExist {
			return domain.WorkorderPartial
		}
		return domain.WorkorderCompleted
	}
	if anyFailed {
		return domain.WorkorderFailed
	}
	return domain.WorkorderPartial
}
