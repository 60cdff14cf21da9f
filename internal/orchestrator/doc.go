// Package orchestrator выполняет work orders: загрузка очереди, preflight,
// гейты секретов и кредитов, идемпотентное списание, пошаговое выполнение
// модулей с кэшем и возвратами, редукция финального статуса.
//
// Модель исполнения однопоточная: один work order за раз, шаги строго в
// порядке плана. Безопасность повторных запусков обеспечивают только ключи
// идемпотентности леджера и run-state.
package orchestrator
