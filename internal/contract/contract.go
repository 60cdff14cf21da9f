// Package contract загружает контракты модулей и отвечает на вопросы
// "какие входы может задавать арендатор", "какие выходы видимы" и
// "из чего состоит deliverable".
package contract

import (
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Port — декларация одного входа или выхода модуля.
//
// Входы несут ограничения значений; выходы несут путь файла относительно
// каталога выходов шага.
type Port struct {
	// ID — идентификатор порта, уникальный в пределах группы.
	ID string `yaml:"id"`

	// Type — ожидаемый тип значения: string | int | number | bool | array | object.
	Type string `yaml:"type,omitempty"`

	// ItemType — тип элементов для type=array.
	ItemType string `yaml:"item_type,omitempty"`

	// Format — формат содержимого (для выходов: MIME-тип файла).
	Format string `yaml:"format,omitempty"`

	// Required — вход обязателен и должен быть непустым после обогащения.
	Required bool `yaml:"required,omitempty"`

	// Default — значение по умолчанию; nil означает отсутствие default.
	Default *domain.Value `yaml:"default,omitempty"`

	// Ограничения значений.
	MinValue  *float64 `yaml:"min_value,omitempty"`
	MaxValue  *float64 `yaml:"max_value,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty"`
	MinItems  *int     `yaml:"min_items,omitempty"`
	MaxItems  *int     `yaml:"max_items,omitempty"`
	Regex     string   `yaml:"regex,omitempty"`
	Enum      []any    `yaml:"enum,omitempty"`

	// Path — путь выходного файла (только для выходов).
	Path string `yaml:"path,omitempty"`

	// Binding — правила биндинга; nil запрещает биндинги на этот вход.
	Binding *BindingRule `yaml:"binding,omitempty"`
}

// BindingRule — ограничения формы биндинга для конкретного входа.
type BindingRule struct {
	// RequireOutputID — допустима только output-форма.
	RequireOutputID bool `yaml:"require_output_id,omitempty"`

	// RequireFromFile — допустима только файловая форма.
	RequireFromFile bool `yaml:"require_from_file,omitempty"`
}

// PortGroup — пара "тенантские порты / платформенные порты".
//
// port задаётся арендатором (или видим ему); limited_port управляется
// исключительно платформой и инжектится через deliverables.
type PortGroup struct {
	Port        []Port `yaml:"port,omitempty"`
	LimitedPort []Port `yaml:"limited_port,omitempty"`
}

// Deliverable — именованный покупаемый набор выходов модуля.
type Deliverable struct {
	// ID — идентификатор deliverable.
	ID string `yaml:"id"`

	// OutputIDs — логические id выходов, входящих в набор.
	OutputIDs []string `yaml:"output_ids,omitempty"`

	// LimitedInputs — платформенные входы, которые набор инжектит при покупке.
	LimitedInputs map[string]domain.Value `yaml:"limited_inputs,omitempty"`
}

// ModuleContract — полный контракт одного модуля.
type ModuleContract struct {
	ModuleID string            `yaml:"module_id"`
	Name     string            `yaml:"name,omitempty"`
	Kind     domain.ModuleKind `yaml:"kind"`

	Ports struct {
		Inputs  PortGroup `yaml:"inputs"`
		Outputs PortGroup `yaml:"outputs"`
	} `yaml:"ports"`

	Deliverables struct {
		Port []Deliverable `yaml:"port,omitempty"`
	} `yaml:"deliverables"`
}

// TenantInputs возвращает тенантские входы по id.
func (c *ModuleContract) TenantInputs() map[string]*Port {
	return indexPorts(c.Ports.Inputs.Port)
}

// PlatformInputs возвращает платформенные (limited) входы по id.
func (c *ModuleContract) PlatformInputs() map[string]*Port {
	return indexPorts(c.Ports.Inputs.LimitedPort)
}

// TenantOutputPaths возвращает пути тенантских выходов.
//
// Эти пути образуют множество, через которое биндинги нижестоящих шагов
// могут читать файлы шага; limited-выходы в него не входят.
func (c *ModuleContract) TenantOutputPaths() map[string]bool {
	out := make(map[string]bool)
	for i := range c.Ports.Outputs.Port {
		p := strings.TrimLeft(strings.TrimSpace(c.Ports.Outputs.Port[i].Path), "/")
		if p != "" {
			out[p] = true
		}
	}
	return out
}

// ExposedOutputs возвращает множество тенантских output id и путей.
// Поддерживает обе формы биндингов: output_id и from_file.
func (c *ModuleContract) ExposedOutputs() map[string]bool {
	out := make(map[string]bool)
	for i := range c.Ports.Outputs.Port {
		p := &c.Ports.Outputs.Port[i]
		if p.ID != "" {
			out[p.ID] = true
		}
		if rel := strings.TrimLeft(strings.TrimSpace(p.Path), "/"); rel != "" {
			out[rel] = true
		}
	}
	return out
}

// Output возвращает тенантский выход по логическому id, или nil.
func (c *ModuleContract) Output(outputID string) *Port {
	for i := range c.Ports.Outputs.Port {
		if c.Ports.Outputs.Port[i].ID == outputID {
			return &c.Ports.Outputs.Port[i]
		}
	}
	return nil
}

// AllOutputIDs возвращает id всех выходов, включая limited.
func (c *ModuleContract) AllOutputIDs() map[string]bool {
	out := make(map[string]bool)
	for _, grp := range [][]Port{c.Ports.Outputs.Port, c.Ports.Outputs.LimitedPort} {
		for i := range grp {
			if grp[i].ID != "" {
				out[grp[i].ID] = true
			}
		}
	}
	return out
}

// Deliverable возвращает deliverable по id, или nil.
func (c *ModuleContract) Deliverable(id string) *Deliverable {
	for i := range c.Deliverables.Port {
		if c.Deliverables.Port[i].ID == id {
			return &c.Deliverables.Port[i]
		}
	}
	return nil
}

func indexPorts(ports []Port) map[string]*Port {
	out := make(map[string]*Port, len(ports))
	for i := range ports {
		if ports[i].ID != "" {
			out[ports[i].ID] = &ports[i]
		}
	}
	return out
}
