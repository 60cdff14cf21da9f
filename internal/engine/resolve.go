package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// OutputLookup — доступ на чтение к зарегистрированным выходам шагов.
type OutputLookup interface {
	GetOutput(tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error)
}

// Resolver разрешает биндинги во входах шага.
//
// Поддерживаются две формы:
//   - файловый биндинг {from_step, from_file, selector, ...} — читает файл
//     из каталога выходов шага-источника и применяет селектор;
//   - output-биндинг {from_step, output_id} — возвращает зарегистрированную
//     запись выхода как mapping.
//
// Resolver только читает; каталоги выходов и записи выходов не изменяются.
type Resolver struct {
	TenantID    string
	WorkOrderID string

	// OutputDirs — каталоги выходов завершённых шагов (step_id → путь).
	OutputDirs map[string]string

	// Exposed — тенантски-видимые выходы каждого шага: id и относительные
	// пути. Пустое множество для шага разрешает любые файловые биндинги;
	// непустое ограничивает и файлы, и output-записи.
	Exposed map[string]map[string]bool

	// Outputs — реестр записей выходов; требуется для output-биндингов.
	Outputs OutputLookup
}

// ResolveInputs разрешает все биндинги в наборе входов шага.
func (r *Resolver) ResolveInputs(inputs map[string]domain.Value) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := r.Resolve(inputs[k])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Resolve разрешает одно значение, рекурсивно спускаясь в последовательности
// и отображения.
func (r *Resolver) Resolve(v domain.Value) (any, error) {
	switch v.Kind {
	case domain.ValueBinding:
		return r.resolveBinding(v.Bind)
	case domain.ValueSequence:
		out := make([]any, 0, len(v.Seq))
		for _, item := range v.Seq {
			rv, err := r.Resolve(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rv)
		}
		return out, nil
	case domain.ValueMapping:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			rv, err := r.Resolve(item)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return v.Scalar, nil
	}
}

func (r *Resolver) resolveBinding(b *domain.Binding) (any, error) {
	if b == nil {
		return nil, ErrMissingBindingTarget
	}
	fromStep := strings.TrimSpace(b.FromStep)
	if fromStep == "" {
		return nil, NewBindingError("", "", "binding.from_step is required", ErrMissingFromStep)
	}
	outputsDir, ok := r.OutputDirs[fromStep]
	if !ok {
		return nil, NewBindingError(fromStep, "",
			fmt.Sprintf("upstream step outputs not found: %s", fromStep), ErrUpstreamOutputsMissing)
	}

	allowed := r.Exposed[fromStep]

	if outputID := strings.TrimSpace(b.OutputID); outputID != "" {
		rec, err := r.Outputs.GetOutput(r.TenantID, r.WorkOrderID, fromStep, outputID)
		if err != nil {
			return nil, NewBindingError(fromStep, outputID,
				fmt.Sprintf("output %q of step %q: %v", outputID, fromStep, err), err)
		}
		if len(allowed) > 0 && rec.Path != "" && !allowed[rec.Path] {
			return nil, NewBindingError(fromStep, outputID,
				fmt.Sprintf("binding.output_id %q is not exposed by upstream step %q", outputID, fromStep),
				ErrNotExposed)
		}
		return outputRecordValue(rec, b), nil
	}

	fromFile := strings.TrimSpace(strings.TrimLeft(b.FromFile, "/"))
	if fromFile == "" {
		return nil, NewBindingError(fromStep, "",
			"binding.from_file or binding.output_id is required", ErrMissingBindingTarget)
	}
	if len(allowed) > 0 && !allowed[fromFile] {
		return nil, NewBindingError(fromStep, fromFile,
			fmt.Sprintf("binding.from_file %q is not exposed by upstream step %q", fromFile, fromStep),
			ErrNotExposed)
	}
	return loadBindingValue(outputsDir, fromFile, b)
}

// outputRecordValue превращает запись выхода в mapping для входа модуля.
func outputRecordValue(rec *domain.OutputRecord, b *domain.Binding) map[string]any {
	out := map[string]any{
		"tenant_id":     rec.TenantID,
		"work_order_id": rec.WorkOrderID,
		"step_id":       rec.StepID,
		"module_id":     rec.ModuleID,
		"output_id":     rec.OutputID,
		"path":          rec.Path,
		"uri":           rec.URI,
		"content_type":  rec.ContentType,
		"sha256":        rec.SHA256,
		"bytes":         rec.Bytes,
		"created_at":    rec.CreatedAt,
	}
	if b.AsPath != "" {
		out["as_path"] = b.AsPath
	}
	return out
}

// loadBindingValue читает файл выхода и применяет селектор биндинга.
func loadBindingValue(outputsDir, relFile string, b *domain.Binding) (any, error) {
	fp := filepath.Join(outputsDir, relFile)
	info, err := os.Stat(fp)
	if err != nil || info.IsDir() {
		return nil, NewBindingError(b.FromStep, relFile, fp, ErrBindingFileMissing)
	}
	data, err := os.ReadFile(fp)
	if err != nil {
		return nil, NewBindingError(b.FromStep, relFile, err.Error(), ErrBindingFileMissing)
	}
	text := string(data)

	selector := b.Selector
	if selector == "" {
		selector = domain.SelectorText
	}

	switch selector {
	case domain.SelectorText:
		return text, nil

	case domain.SelectorLines:
		lines := splitNonEmptyLines(text)
		if b.Take != nil {
			lines = capLines(lines, *b.Take)
		}
		return lines, nil

	case domain.SelectorJSON:
		var parsed any
		body := strings.TrimSpace(text)
		if body == "" {
			body = "null"
		}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return nil, NewBindingError(b.FromStep, relFile, err.Error(), err)
		}
		return applyJSONPath(parsed, b.JSONPath)

	case domain.SelectorJSONLFirst:
		first := ""
		found := false
		for _, ln := range strings.Split(text, "\n") {
			if strings.TrimSpace(ln) != "" {
				first = ln
				found = true
				break
			}
		}
		if !found {
			return nil, NewBindingError(b.FromStep, relFile, "jsonl_first: file is empty", ErrEmptyJSONL)
		}
		var parsed any
		if err := json.Unmarshal([]byte(first), &parsed); err != nil {
			return nil, NewBindingError(b.FromStep, relFile, err.Error(), err)
		}
		return applyJSONPath(parsed, b.JSONPath)

	case domain.SelectorJSONL:
		out := make([]any, 0)
		for _, ln := range strings.Split(text, "\n") {
			s := strings.TrimSpace(ln)
			if s == "" {
				continue
			}
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, NewBindingError(b.FromStep, relFile, err.Error(), err)
			}
			out = append(out, parsed)
			if b.Take != nil && len(out) >= *b.Take {
				break
			}
		}
		return out, nil
	}

	return nil, NewBindingError(b.FromStep, relFile,
		fmt.Sprintf("unsupported binding selector: %s", selector), ErrUnsupportedSelector)
}

func applyJSONPath(data any, path string) (any, error) {
	jp := strings.TrimSpace(path)
	if jp == "" {
		return data, nil
	}
	return jsonPathGet(data, jp)
}

func splitNonEmptyLines(text string) []string {
	out := make([]string, 0)
	for _, ln := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(ln); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capLines(lines []string, take int) []string {
	if take < 0 {
		take = 0
	}
	if take < len(lines) {
		return lines[:take]
	}
	return lines
}
