package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// GetCacheEntry возвращает запись индекса кэша по (place, type, ref).
func (s *Store) GetCacheEntry(ctx context.Context, place, entryType, ref string) (*domain.CacheIndexEntry, error) {
	query := `
		SELECT place, entry_type, ref, created_at, expires_at
		FROM cache_index
		WHERE place = $1 AND entry_type = $2 AND ref = $3
	`
	var e domain.CacheIndexEntry
	err := s.pool.QueryRow(ctx, query, place, entryType, ref).Scan(
		&e.Place, &e.Type, &e.Ref, &e.CreatedAt, &e.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get cache entry: %w", err)
	}
	return &e, nil
}

// UpsertCacheEntry вставляет или заменяет запись индекса кэша.
func (s *Store) UpsertCacheEntry(ctx context.Context, entry *domain.CacheIndexEntry) error {
	query := `
		INSERT INTO cache_index (place, entry_type, ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (place, entry_type, ref) DO UPDATE
			SET expires_at = EXCLUDED.expires_at
	`
	_, err := s.pool.Exec(ctx, query,
		entry.Place, entry.Type, entry.Ref, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("pg: upsert cache entry: %w", err)
	}
	return nil
}
