package logfile

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
)

// GetCacheEntry возвращает последнюю запись индекса по (place, type, ref).
func (s *Store) GetCacheEntry(_ context.Context, place, entryType, ref string) (*domain.CacheIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := scanAll[domain.CacheIndexEntry](s, fileCacheIndex)
	if err != nil {
		return nil, err
	}
	var found *domain.CacheIndexEntry
	for i := range recs {
		r := &recs[i]
		if r.Place == place && r.Type == entryType && r.Ref == ref {
			found = r
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// UpsertCacheEntry дописывает запись индекса; чтение по latest-wins делает
// её действующей версией.
func (s *Store) UpsertCacheEntry(_ context.Context, entry *domain.CacheIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(fileCacheIndex, entry)
}
