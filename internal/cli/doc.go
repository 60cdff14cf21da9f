// Package cli реализует команды инструмента conveyor.
//
// # Обзор
//
// CLI работает локально, без сетевого API: читает документы репозитория
// (контракты модулей, work orders, прейскурант, каталог причин) и состояние
// выбранного адаптера хранилища.
//
// # Ключевые компоненты
//
// ## App
//
// Конфигурация путей и хранилища. Команды создаются фабриками
// (NewValidateCmd и т.д.), принимающими *App: cobra парсит
// PersistentFlags до обращения к зависимостям.
//
// ## Output
//
// Форматирование вывода: таблицы (text/tabwriter) по умолчанию,
// JSON с флагом --json. Данные идут в stdout, сообщения — в stderr,
// поэтому вывод пригоден для pipe: conveyor balance t1 --json | jq .
//
// ## Commands
//
//   - validate: preflight-проверка work orders очереди или одного файла
//   - orchestrate: один проход оркестратора по очереди
//   - price: резолв цены модуля/deliverable на дату
//   - balance: баланс кредитов арендатора
package cli
