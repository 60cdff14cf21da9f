package domain

import (
	"fmt"
	"strings"
)

// Selector — способ интерпретации файла при файловом биндинге.
type Selector string

const (
	// SelectorText — содержимое файла как есть.
	SelectorText Selector = "text"

	// SelectorLines — непустые строки без краевых пробелов.
	SelectorLines Selector = "lines"

	// SelectorJSON — файл парсится целиком как JSON.
	SelectorJSON Selector = "json"

	// SelectorJSONLFirst — первая непустая строка парсится как JSON.
	SelectorJSONLFirst Selector = "jsonl_first"

	// SelectorJSONL — каждая непустая строка парсится как JSON, результат — список.
	SelectorJSONL Selector = "jsonl"
)

// ParseSelector нормализует селектор; пустое значение — text.
func ParseSelector(s string) (Selector, error) {
	v := Selector(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "":
		return SelectorText, nil
	case SelectorText, SelectorLines, SelectorJSON, SelectorJSONLFirst, SelectorJSONL:
		return v, nil
	default:
		return "", fmt.Errorf("unsupported binding selector: %q", s)
	}
}

// Binding — декларативная ссылка входа шага на выход другого шага.
//
// Две формы:
//   - output-биндинг: {from_step, output_id} — ссылается на OutputRecord
//     по логическому id и резолвится в его описание;
//   - файловый биндинг: {from_step, from_file, selector?, take?, json_path?} —
//     ссылается на относительный путь внутри каталога выходов шага-источника
//     и интерпретируется селектором.
//
// Ровно одно из полей OutputID / FromFile должно быть заполнено.
type Binding struct {
	// FromStep — идентификатор шага-источника.
	FromStep string `yaml:"from_step" json:"from_step"`

	// OutputID — логический идентификатор выхода (output-биндинг).
	OutputID string `yaml:"output_id,omitempty" json:"output_id,omitempty"`

	// FromFile — относительный путь файла в каталоге выходов (файловый биндинг).
	FromFile string `yaml:"from_file,omitempty" json:"from_file,omitempty"`

	// Selector — интерпретация файла; по умолчанию text.
	Selector Selector `yaml:"selector,omitempty" json:"selector,omitempty"`

	// Take — ограничение количества элементов для lines/jsonl.
	Take *int `yaml:"take,omitempty" json:"take,omitempty"`

	// JSONPath — проекция внутри распарсенного значения ($.a[0].b).
	JSONPath string `yaml:"json_path,omitempty" json:"json_path,omitempty"`

	// AsPath — имя, под которым output-биндинг материализуется модулем-получателем.
	AsPath string `yaml:"as_path,omitempty" json:"as_path,omitempty"`
}

// IsOutputBinding возвращает true для output-формы.
func (b *Binding) IsOutputBinding() bool {
	return strings.TrimSpace(b.OutputID) != ""
}

// Validate проверяет структурную корректность биндинга.
func (b *Binding) Validate() error {
	if strings.TrimSpace(b.FromStep) == "" {
		return fmt.Errorf("binding must include from_step")
	}
	hasOutput := strings.TrimSpace(b.OutputID) != ""
	hasFile := strings.TrimSpace(b.FromFile) != ""
	if !hasOutput && !hasFile {
		return fmt.Errorf("binding must include output_id or from_file")
	}
	if hasOutput && hasFile {
		return fmt.Errorf("binding must not combine output_id and from_file")
	}
	if _, err := ParseSelector(string(b.Selector)); err != nil {
		return err
	}
	if b.Take != nil && *b.Take < 0 {
		return fmt.Errorf("binding take must be non-negative")
	}
	return nil
}
