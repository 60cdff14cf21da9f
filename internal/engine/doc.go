// Package engine строит план выполнения work order и разрешает биндинги.
//
// Включает:
//   - plan.go     — извлечение рёбер зависимостей и топологическая сортировка
//   - resolve.go  — разрешение биндингов входов (файловая и output-формы)
//   - jsonpath.go — минимальная проекция json_path внутри значений
//
// Engine отвечает за порядок выполнения шагов и за доставку данных между
// шагами; исполнение модулей и учёт кредитов лежат выше.
package engine
