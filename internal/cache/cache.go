// Package cache — кэш выходов модулей с TTL-индексом.
//
// Ключ детерминирован от (tenant, module, резолвленные входы): одинаковые
// входы дают одинаковый ключ, попадание копирует дерево выходов дословно
// без вызова модуля. Срок действия записи продлевается вперёд и никогда
// не укорачивается.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// Cache — кэш выходов поверх каталога и TTL-индекса.
type Cache struct {
	root  string
	index store.CacheIndexStore
	ttl   time.Duration
	now   func() time.Time
}

// New создаёт кэш с корневым каталогом и сроком жизни записей.
func New(root string, index store.CacheIndexStore, ttl time.Duration) *Cache {
	return &Cache{
		root:  root,
		index: index,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// DeriveKey строит детерминированный ключ кэша от арендатора, модуля и
// канонизированных (отсортированных по ключам) резолвленных входов.
func DeriveKey(tenantID, moduleID string, keyInputs map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if keyInputs == nil {
		keyInputs = map[string]any{}
	}
	if err := enc.Encode(keyInputs); err != nil {
		return "", fmt.Errorf("cache: canonicalize inputs: %w", err)
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	sum := sha256.Sum256(payload)
	h := hex.EncodeToString(sum[:])[:6]
	return fmt.Sprintf("v1|tenant=%s|module=%s|type=outputs|hash=%s", tenantID, moduleID, h), nil
}

// dirName — стабильное, безопасное для файловой системы имя каталога ключа.
func dirName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "k-" + hex.EncodeToString(sum[:])[:16]
}

// Dir возвращает каталог кэша для ключа.
func (c *Cache) Dir(key string) string {
	return filepath.Join(c.root, dirName(key))
}

// Lookup ищет валидную запись кэша и при попадании копирует дерево
// выходов в outputsDir. Возвращает true при попадании.
//
// Запись валидна, когда каталог содержит файлы и индексная строка
// либо отсутствует, либо не просрочена.
func (c *Cache) Lookup(ctx context.Context, key, outputsDir string) (bool, error) {
	dir := c.Dir(key)
	hasFiles, err := dirHasFiles(dir)
	if err != nil {
		return false, fmt.Errorf("cache: inspect %s: %w", dir, err)
	}
	if !hasFiles {
		return false, nil
	}

	entry, err := c.index.GetCacheEntry(ctx, domain.CachePlaceCache, domain.CacheTypeModuleRun, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Файлы без индексной строки считаются валидными.
	case err != nil:
		return false, fmt.Errorf("cache: index lookup: %w", err)
	case entry.Expired(c.now()):
		return false, nil
	}

	if err := copyTree(dir, outputsDir); err != nil {
		return false, fmt.Errorf("cache: restore outputs: %w", err)
	}
	return true, nil
}

// Store сохраняет дерево выходов под ключом и продлевает срок действия
// индексной записи. Существующий срок никогда не укорачивается,
// created_at остаётся стабильным.
func (c *Cache) Store(ctx context.Context, key, outputsDir string, alreadyCached bool) error {
	if !alreadyCached {
		if err := copyTree(outputsDir, c.Dir(key)); err != nil {
			return fmt.Errorf("cache: persist outputs: %w", err)
		}
	}

	now := c.now().Truncate(time.Second)
	expires := now.Add(c.ttl)

	entry, err := c.index.GetCacheEntry(ctx, domain.CachePlaceCache, domain.CacheTypeModuleRun, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		entry = &domain.CacheIndexEntry{
			Place:     domain.CachePlaceCache,
			Type:      domain.CacheTypeModuleRun,
			Ref:       key,
			CreatedAt: now,
			ExpiresAt: expires,
		}
	case err != nil:
		return fmt.Errorf("cache: index lookup: %w", err)
	default:
		if !expires.After(entry.ExpiresAt) {
			return nil
		}
		entry.ExpiresAt = expires
	}

	if err := c.index.UpsertCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("cache: upsert index entry: %w", err)
	}
	return nil
}

// dirHasFiles возвращает true, если каталог существует и содержит
// хотя бы один файл.
func dirHasFiles(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	found := errors.New("found")
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return found
		}
		return nil
	})
	if errors.Is(err, found) {
		return true, nil
	}
	return false, err
}

// copyTree копирует дерево файлов из src в заново созданный dst.
func copyTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
