package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind — перечислимый вид адаптера хранилища.
type Kind string

const (
	// KindPostgres — адаптер на PostgreSQL (pgx), идемпотентная вставка
	// через ON CONFLICT DO NOTHING.
	KindPostgres Kind = "postgres"

	// KindLogfile — лог-структурированный однописательный адаптер
	// (JSONL-сегменты, чтение по принципу latest-wins).
	KindLogfile Kind = "logfile"
)

// ParseKind нормализует вид адаптера; неизвестные значения отклоняются.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPostgres, KindLogfile:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Config — параметры конструирования адаптера.
type Config struct {
	// Kind — вид адаптера.
	Kind Kind

	// DSN — строка подключения (postgres).
	DSN string

	// Dir — каталог состояния (logfile).
	Dir string
}

// OpenFunc — конструктор адаптера конкретного вида.
type OpenFunc func(ctx context.Context, cfg Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]OpenFunc)
)

// Register регистрирует конструктор адаптера. Вызывается из init()
// пакетов-адаптеров; повторная регистрация вида — ошибка программирования.
func Register(kind Kind, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("store: duplicate registration for kind %q", kind))
	}
	registry[kind] = open
}

// Open конструирует адаптер по виду из конфигурации.
// Незарегистрированный или неизвестный вид — ошибка.
func Open(ctx context.Context, cfg Config) (Store, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	open, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered (missing adapter import?)", ErrUnknownKind, kind)
	}
	return open(ctx, cfg)
}

// Kinds возвращает зарегистрированные виды адаптеров.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
