package domain

// ModuleKind — каноническая классификация модуля.
//
// Используется одновременно в контрактах модулей, workorder-шагах и валидаторе:
// kind шага обязан совпадать с kind модуля, который он вызывает.
type ModuleKind string

const (
	// KindTransform — модуль преобразует данные и пишет выходные файлы.
	KindTransform ModuleKind = "transform"

	// KindPackaging — модуль собирает выходы других шагов в архив с манифестом.
	KindPackaging ModuleKind = "packaging"

	// KindDelivery — модуль доставляет собранный пакет получателю (email, object storage).
	KindDelivery ModuleKind = "delivery"

	// KindOther — модуль вне трёх основных категорий.
	KindOther ModuleKind = "other"
)

// ModuleKindValues — допустимые значения kind в каноническом порядке.
var ModuleKindValues = []ModuleKind{KindTransform, KindPackaging, KindDelivery, KindOther}

// IsValidModuleKind проверяет, что значение входит в канонический набор.
func IsValidModuleKind(s string) bool {
	switch ModuleKind(s) {
	case KindTransform, KindPackaging, KindDelivery, KindOther:
		return true
	default:
		return false
	}
}
