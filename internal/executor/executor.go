// Package executor запускает модули как подпроцессы с явно собранным
// окружением.
//
// Окружение каждого вызова — отдельный срез (процессное окружение плюс
// секреты модуля); глобальное окружение оркестратора не мутируется,
// восстановление после запуска не требуется по построению.
package executor

import (
	"context"
	"sort"
	"strings"
)

// Статусы результата модуля.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Result — результирующий документ запуска модуля.
type Result struct {
	// Status — COMPLETED либо FAILED.
	Status string `json:"status"`

	// ReasonSlug — сырой слаг причины падения (пусто при успехе).
	ReasonSlug string `json:"reason_slug,omitempty"`

	// ReportPath — относительный путь к отчёту в каталоге выходов.
	ReportPath string `json:"report_path,omitempty"`

	// OutputRef — ссылка на источник выходов.
	OutputRef string `json:"output_ref,omitempty"`

	// RefundEligible — модуль подтвердил недоставку; разрешает возврат
	// для delivery-шагов.
	RefundEligible bool `json:"refund_eligible,omitempty"`
}

// Completed возвращает true для успешного результата.
func (r *Result) Completed() bool {
	return strings.ToUpper(strings.TrimSpace(r.Status)) == StatusCompleted
}

// Invocation — один запуск модуля.
type Invocation struct {
	TenantID    string
	WorkOrderID string
	ModuleRunID string
	StepID      string
	ModuleID    string

	// Inputs — резолвленные входы шага.
	Inputs map[string]any

	// ModuleDir — каталог модуля с его раннером.
	ModuleDir string

	// OutputsDir — каталог, куда модуль пишет выходные файлы.
	OutputsDir string

	// Env — полное окружение подпроцесса в форме KEY=VALUE.
	// Передаётся как есть; окружение оркестратора не наследуется неявно.
	Env []string
}

// Executor запускает модуль и возвращает результирующий документ.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// BuildEnv собирает окружение вызова: базовые переменные процесса плюс
// секреты модуля. Секреты перекрывают базу; порядок детерминирован
// порядком base и лексикографическим порядком ключей overlay.
func BuildEnv(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(overlay))
	for k := range overlay {
		seen[k] = true
	}
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 && seen[kv[:i]] {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}
