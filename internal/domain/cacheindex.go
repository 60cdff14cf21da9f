package domain

import "time"

// Канонические значения place/type для записей индекса кэша.
const (
	// CachePlaceCache — локальный кэш выходов модулей.
	CachePlaceCache = "cache"

	// CacheTypeModuleRun — закэшированные выходы одного запуска модуля.
	CacheTypeModuleRun = "module_run"
)

// CacheIndexEntry — индексная запись кэша: тройка place/type/ref плюс TTL.
//
// На уникальную тройку существует ровно одна запись; при переиспользовании
// срок действия продлевается вперёд и никогда не укорачивается.
type CacheIndexEntry struct {
	Place string `json:"place"`
	Type  string `json:"type"`

	// Ref — ключ кэша (для module_run — детерминированный хэш входов).
	Ref string `json:"ref"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired возвращает true, если запись просрочена на момент now.
func (e *CacheIndexEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
