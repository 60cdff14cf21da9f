// Package logfile — лог-структурированный адаптер хранилища.
//
// Каждая таблица — append-only файл JSONL в каталоге состояния. Запись —
// дописывание строки; чтение — скан с выбором последней строки по
// логическому ключу (latest-wins). Адаптер рассчитан на одного писателя;
// внутренний мьютекс защищает только от конкурентных горутин процесса.
package logfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shaiso/Conveyor/internal/store"
)

// Имена сегментов.
const (
	fileStepRuns   = "step_runs.jsonl"
	fileOutputs    = "outputs.jsonl"
	fileTxns       = "transactions.jsonl"
	fileTxnItems   = "transaction_items.jsonl"
	fileCredits    = "tenants_credits.jsonl"
	fileCacheIndex = "cache_index.jsonl"
)

func init() {
	store.Register(store.KindLogfile, func(_ context.Context, cfg store.Config) (store.Store, error) {
		return Open(cfg.Dir)
	})
}

// Store — однописательное хранилище на JSONL-сегментах.
type Store struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// Open создаёт каталог состояния и возвращает адаптер.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("logfile: state dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logfile: create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close помечает хранилище закрытым. Файловые дескрипторы не удерживаются
// между операциями, поэтому освобождать нечего.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// appendLine дописывает одну JSON-строку в сегмент.
// Вызывается под мьютексом.
func (s *Store) appendLine(name string, rec any) error {
	if s.closed {
		return store.ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("logfile: marshal %s: %w", name, err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logfile: open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("logfile: append %s: %w", name, err)
	}
	return nil
}

// scanLines читает сегмент и вызывает fn для каждой строки в порядке записи.
// Отсутствующий сегмент — пустая таблица.
func (s *Store) scanLines(name string, fn func(line []byte) error) error {
	if s.closed {
		return store.ErrClosed
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("logfile: open %s: %w", name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("logfile: scan %s: %w", name, err)
	}
	return nil
}

// scanAll декодирует все строки сегмента в значения типа T.
func scanAll[T any](s *Store, name string) ([]T, error) {
	out := make([]T, 0)
	err := s.scanLines(name, func(line []byte) error {
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("logfile: decode %s: %w", name, err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rewrite атомарно заменяет сегмент набором строк.
// Вызывается под мьютексом (компакция).
func (s *Store) rewrite(name string, recs []any) error {
	tmp := filepath.Join(s.dir, name+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logfile: open %s: %w", tmp, err)
	}
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return fmt.Errorf("logfile: marshal %s: %w", name, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("logfile: write %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("logfile: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, name))
}
