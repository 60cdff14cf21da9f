package logfile

import (
	"strconv"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Compact переписывает сегменты, оставляя только действующие строки.
//
// Для каждого логического ключа сохраняется последняя строка лога —
// семантика чтения latest-wins не меняется, исчезают только вытесненные
// версии. Леджерные сегменты компакция не трогает: транзакции и позиции
// вставляются ровно один раз и являются аудиторским следом.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := compactSegment(s, fileStepRuns, func(r *domain.StepRunRecord) string {
		return r.TenantID + "|" + r.WorkOrderID + "|" + r.StepID
	}); err != nil {
		return err
	}

	if err := compactSegment(s, fileOutputs, func(r *domain.OutputRecord) string {
		return r.TenantID + "|" + r.WorkOrderID + "|" + r.StepID + "|" + r.OutputID + "|" +
			strconv.FormatInt(r.CreatedAt.UnixNano(), 10)
	}); err != nil {
		return err
	}

	if err := compactSegment(s, fileCredits, func(r *domain.TenantCredits) string {
		return r.TenantID
	}); err != nil {
		return err
	}

	return compactSegment(s, fileCacheIndex, func(r *domain.CacheIndexEntry) string {
		return r.Place + "|" + r.Type + "|" + r.Ref
	})
}

// compactSegment переписывает один сегмент, оставляя последнюю строку на
// логический ключ и сохраняя порядок первого появления ключей.
func compactSegment[T any](s *Store, name string, key func(*T) string) error {
	recs, err := scanAll[T](s, name)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	latest := make(map[string]*T, len(recs))
	order := make([]string, 0, len(recs))
	for i := range recs {
		k := key(&recs[i])
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = &recs[i]
	}

	out := make([]any, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return s.rewrite(name, out)
}
