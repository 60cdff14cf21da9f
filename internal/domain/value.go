package domain

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ValueKind — тег варианта Value.
type ValueKind int

const (
	// ValueScalar — строка, число, bool или null.
	ValueScalar ValueKind = iota

	// ValueSequence — упорядоченный список значений.
	ValueSequence

	// ValueMapping — отображение строковых ключей в значения.
	ValueMapping

	// ValueBinding — ссылка на выход другого шага.
	ValueBinding
)

// Value — размеченное объединение для входных значений шага.
//
// Входы workorder — произвольно вложенные структуры, в которых на любой
// глубине может встретиться биндинг. Явный тег варианта делает рекурсивный
// обход (поиск зависимостей, резолвинг) исчерпывающим: switch по четырём
// вариантам вместо динамической инспекции типов.
type Value struct {
	Kind ValueKind

	// Scalar — значение для ValueScalar.
	Scalar any

	// Seq — элементы для ValueSequence.
	Seq []Value

	// Map — пары для ValueMapping.
	Map map[string]Value

	// Bind — биндинг для ValueBinding.
	Bind *Binding
}

// ScalarValue создаёт скалярное значение.
func ScalarValue(v any) Value {
	return Value{Kind: ValueScalar, Scalar: v}
}

// SequenceValue создаёт список.
func SequenceValue(items ...Value) Value {
	return Value{Kind: ValueSequence, Seq: items}
}

// MappingValue создаёт отображение.
func MappingValue(m map[string]Value) Value {
	return Value{Kind: ValueMapping, Map: m}
}

// BindingValue создаёт биндинг.
func BindingValue(b Binding) Value {
	return Value{Kind: ValueBinding, Bind: &b}
}

// IsZero возвращает true для пустого скаляра (nil или пустая строка).
func (v Value) IsZero() bool {
	if v.Kind != ValueScalar {
		return false
	}
	if v.Scalar == nil {
		return true
	}
	s, ok := v.Scalar.(string)
	return ok && s == ""
}

// UnmarshalYAML строит Value из YAML-узла.
//
// Отображение распознаётся как биндинг, когда содержит непустой скалярный
// ключ from_step: так даже структурно неполный биндинг (без output_id и
// from_file) получает точную ошибку от валидатора, а не молчаливую
// интерпретацию как обычного mapping.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s any
		if err := node.Decode(&s); err != nil {
			return err
		}
		*v = Value{Kind: ValueScalar, Scalar: s}
		return nil

	case yaml.SequenceNode:
		var items []Value
		if err := node.Decode(&items); err != nil {
			return err
		}
		*v = Value{Kind: ValueSequence, Seq: items}
		return nil

	case yaml.MappingNode:
		if hasBindingShape(node) {
			var b Binding
			if err := node.Decode(&b); err != nil {
				return err
			}
			*v = Value{Kind: ValueBinding, Bind: &b}
			return nil
		}
		var m map[string]Value
		if err := node.Decode(&m); err != nil {
			return err
		}
		*v = Value{Kind: ValueMapping, Map: m}
		return nil

	case yaml.AliasNode:
		return v.UnmarshalYAML(node.Alias)
	}
	return fmt.Errorf("unsupported YAML node kind %d for input value", node.Kind)
}

// hasBindingShape проверяет наличие непустого from_step среди ключей mapping-узла.
func hasBindingShape(node *yaml.Node) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		val := node.Content[i+1]
		if k.Kind == yaml.ScalarNode && k.Value == "from_step" && val.Kind == yaml.ScalarNode && val.Value != "" {
			return true
		}
	}
	return false
}

// ToAny разворачивает значение в обычные Go-структуры.
// Биндинги к этому моменту обязаны быть заменены резолвером.
func (v Value) ToAny() (any, error) {
	switch v.Kind {
	case ValueScalar:
		return v.Scalar, nil
	case ValueSequence:
		out := make([]any, 0, len(v.Seq))
		for _, item := range v.Seq {
			x, err := item.ToAny()
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case ValueMapping:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			x, err := item.ToAny()
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	case ValueBinding:
		return nil, fmt.Errorf("unresolved binding from_step=%q", v.Bind.FromStep)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// Walk обходит значение в глубину и вызывает fn для каждого узла.
// Обход детерминирован: ключи mapping посещаются в отсортированном порядке.
func (v Value) Walk(fn func(Value) error) error {
	if err := fn(v); err != nil {
		return err
	}
	switch v.Kind {
	case ValueSequence:
		for _, item := range v.Seq {
			if err := item.Walk(fn); err != nil {
				return err
			}
		}
	case ValueMapping:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := v.Map[k].Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Bindings возвращает все биндинги внутри значения (детерминированный порядок).
func (v Value) Bindings() []*Binding {
	var out []*Binding
	_ = v.Walk(func(n Value) error {
		if n.Kind == ValueBinding {
			out = append(out, n.Bind)
		}
		return nil
	})
	return out
}
