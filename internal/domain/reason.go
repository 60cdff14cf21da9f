package domain

import "strings"

// ReasonScope — область действия записи каталога причин.
type ReasonScope string

const (
	// ScopeGlobal — причина общая для всех модулей.
	ScopeGlobal ReasonScope = "GLOBAL"

	// ScopeModule — причина специфична для конкретного модуля.
	ScopeModule ReasonScope = "MODULE"
)

// ReasonIndex — каталог причин падений и политика возвратов.
//
// Слаг причины, который возвращает модуль, переводится в канонический
// reason_code; по коду политика отвечает, подлежит ли падение возврату.
type ReasonIndex struct {
	byKey      map[reasonKey]string
	refundable map[string]bool
}

type reasonKey struct {
	scope    ReasonScope
	moduleID string
	slug     string
}

// NewReasonIndex создаёт пустой каталог.
func NewReasonIndex() *ReasonIndex {
	return &ReasonIndex{
		byKey:      make(map[reasonKey]string),
		refundable: make(map[string]bool),
	}
}

// AddReason регистрирует слаг причины. Для GLOBAL module id игнорируется.
func (idx *ReasonIndex) AddReason(scope ReasonScope, moduleID, slug, code string) {
	if scope == ScopeGlobal {
		moduleID = ""
	}
	idx.byKey[reasonKey{scope: scope, moduleID: moduleID, slug: slug}] = code
}

// SetRefundable задаёт политику возврата для кода.
func (idx *ReasonIndex) SetRefundable(code string, refundable bool) {
	idx.refundable[code] = refundable
}

// Code переводит слаг в канонический код.
//
// Порядок поиска: модульная запись → глобальная запись → глобальный
// unknown_error. Пустая строка — код не найден.
func (idx *ReasonIndex) Code(moduleID, slug string) string {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ""
	}
	if moduleID != "" {
		if code, ok := idx.byKey[reasonKey{scope: ScopeModule, moduleID: moduleID, slug: slug}]; ok {
			return code
		}
	}
	if code, ok := idx.byKey[reasonKey{scope: ScopeGlobal, slug: slug}]; ok {
		return code
	}
	if code, ok := idx.byKey[reasonKey{scope: ScopeGlobal, slug: "unknown_error"}]; ok {
		return code
	}
	return ""
}

// Refundable возвращает true, если код помечен возвратным в политике.
func (idx *ReasonIndex) Refundable(code string) bool {
	return idx.refundable[code]
}
