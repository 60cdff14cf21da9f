package preflight

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
)

// validateConstraints проверяет значение входа против ограничений порта.
// Возвращает текст нарушения или пустую строку.
//
// Биндинги проверяются отдельно и сюда не попадают.
func validateConstraints(p *contract.Port, v domain.Value) string {
	if msg := validateType(p.Type, v); msg != "" {
		return msg
	}

	if len(p.Enum) > 0 && v.Kind == domain.ValueScalar {
		found := false
		for _, allowed := range p.Enum {
			if scalarEqual(v.Scalar, allowed) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("value %v not in enum %v", v.Scalar, p.Enum)
		}
	}

	if n, ok := asNumber(v.Scalar); ok && v.Kind == domain.ValueScalar {
		if p.MinValue != nil && n < *p.MinValue {
			return fmt.Sprintf("value %v below min_value %v", n, *p.MinValue)
		}
		if p.MaxValue != nil && n > *p.MaxValue {
			return fmt.Sprintf("value %v above max_value %v", n, *p.MaxValue)
		}
	}

	if s, ok := v.Scalar.(string); ok && v.Kind == domain.ValueScalar {
		length := utf8.RuneCountInString(s)
		if p.MinLength != nil && length < *p.MinLength {
			return fmt.Sprintf("length %d below min_length %d", length, *p.MinLength)
		}
		if p.MaxLength != nil && length > *p.MaxLength {
			return fmt.Sprintf("length %d above max_length %d", length, *p.MaxLength)
		}
		if p.Regex != "" {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Sprintf("invalid regex %q: %v", p.Regex, err)
			}
			if !re.MatchString(s) {
				return fmt.Sprintf("value %q does not match regex %q", s, p.Regex)
			}
		}
	}

	if v.Kind == domain.ValueSequence {
		if p.MinItems != nil && len(v.Seq) < *p.MinItems {
			return fmt.Sprintf("items %d below min_items %d", len(v.Seq), *p.MinItems)
		}
		if p.MaxItems != nil && len(v.Seq) > *p.MaxItems {
			return fmt.Sprintf("items %d above max_items %d", len(v.Seq), *p.MaxItems)
		}
		if p.ItemType != "" {
			for i, item := range v.Seq {
				if msg := validateType(p.ItemType, item); msg != "" {
					return fmt.Sprintf("item %d: %s", i, msg)
				}
			}
		}
	}

	return ""
}

// validateType сверяет вид значения с объявленным типом порта.
// Неизвестные типы не блокируют.
func validateType(expected string, v domain.Value) string {
	switch expected {
	case "string":
		if _, ok := v.Scalar.(string); v.Kind != domain.ValueScalar || !ok {
			return "expected string"
		}
	case "integer", "int":
		if v.Kind != domain.ValueScalar || !isInteger(v.Scalar) {
			return "expected integer"
		}
	case "number":
		if _, ok := asNumber(v.Scalar); v.Kind != domain.ValueScalar || !ok {
			return "expected number"
		}
	case "boolean", "bool":
		if _, ok := v.Scalar.(bool); v.Kind != domain.ValueScalar || !ok {
			return "expected boolean"
		}
	case "object":
		if v.Kind != domain.ValueMapping {
			return "expected object"
		}
	case "array":
		if v.Kind != domain.ValueSequence {
			return "expected array"
		}
	}
	return ""
}

func isInteger(x any) bool {
	switch x.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func asNumber(x any) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// scalarEqual сравнивает скаляры с числовой нормализацией: 2 и 2.0 равны.
func scalarEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}
		return false
	}
	return a == b
}
