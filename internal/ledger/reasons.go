package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReasonRule — строка каталога причин: маппинг slug → канонический код
// плюс политика возврата.
type ReasonRule struct {
	// Scope — MODULE (код привязан к модулю) либо GLOBAL.
	Scope string `yaml:"scope"`

	// ModuleID — модуль; учитывается только при scope MODULE.
	ModuleID string `yaml:"module_id,omitempty"`

	// Slug — сырой слаг причины, сообщаемый модулем.
	Slug string `yaml:"reason_slug"`

	// Code — канонический код причины.
	Code string `yaml:"reason_code"`

	// Refundable — подлежит ли код возврату.
	Refundable bool `yaml:"refundable"`
}

type reasonKey struct {
	scope    string
	moduleID string
	slug     string
}

// ReasonCatalog — каталог причин с фолбэком MODULE → GLOBAL → unknown_error.
type ReasonCatalog struct {
	byKey      map[reasonKey]string
	refundable map[string]bool
}

// NewReasonCatalog строит каталог из правил.
func NewReasonCatalog(rules []ReasonRule) *ReasonCatalog {
	c := &ReasonCatalog{
		byKey:      make(map[reasonKey]string, len(rules)),
		refundable: make(map[string]bool, len(rules)),
	}
	for _, r := range rules {
		scope := strings.ToUpper(strings.TrimSpace(r.Scope))
		slug := strings.TrimSpace(r.Slug)
		code := strings.TrimSpace(r.Code)
		if scope == "" || slug == "" || code == "" {
			continue
		}
		moduleID := strings.TrimSpace(r.ModuleID)
		if scope == "GLOBAL" {
			moduleID = ""
		}
		c.byKey[reasonKey{scope: scope, moduleID: moduleID, slug: slug}] = code
		c.refundable[code] = r.Refundable
	}
	return c
}

// LoadReasonCatalog читает каталог причин из YAML-файла (список правил).
func LoadReasonCatalog(path string) (*ReasonCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read reason catalog: %w", err)
	}
	var rules []ReasonRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("ledger: parse reason catalog: %w", err)
	}
	return NewReasonCatalog(rules), nil
}

// Code возвращает канонический код причины по слагу модуля с фолбэком:
// MODULE-код модуля → GLOBAL-код → GLOBAL unknown_error → пустая строка.
func (c *ReasonCatalog) Code(moduleID, slug string) string {
	if code, ok := c.byKey[reasonKey{scope: "MODULE", moduleID: moduleID, slug: slug}]; ok {
		return code
	}
	if code, ok := c.byKey[reasonKey{scope: "GLOBAL", slug: slug}]; ok {
		return code
	}
	return c.byKey[reasonKey{scope: "GLOBAL", slug: "unknown_error"}]
}

// Refundable возвращает true, если код причины подлежит возврату.
func (c *ReasonCatalog) Refundable(code string) bool {
	return c.refundable[code]
}

// ShouldRefund применяет политику возврата: код обязан быть refundable,
// а для delivery-шагов модуль дополнительно должен подтвердить
// недоставку (refund_eligible). Неподтверждённые transient-падения
// delivery-шагов не возвращаются.
func (c *ReasonCatalog) ShouldRefund(code string, deliveryStep, refundEligible bool) bool {
	if !c.refundable[code] {
		return false
	}
	if deliveryStep && !refundEligible {
		return false
	}
	return true
}
