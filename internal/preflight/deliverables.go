package preflight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
)

// normalizeRequestedDeliverables приводит выбор deliverables шага к явному
// списку.
//
// Явный список step.deliverables имеет приоритет над устаревшим флагом
// purchase_release_artifacts; если заданы оба и выбор расходится — это
// ошибка конфигурации, а не тихий выбор одного из вариантов.
func normalizeRequestedDeliverables(mc *contract.ModuleContract, s *domain.StepSpec) ([]string, string, error) {
	if s.Deliverables != nil {
		explicit := dedupeIDs(s.Deliverables)
		if s.PurchaseArtifacts != nil && *s.PurchaseArtifacts {
			legacy, _ := legacySelection(mc)
			if !sameIDSet(explicit, legacy) {
				return nil, "", fmt.Errorf("%w: explicit %v vs legacy %v",
					ErrDeliverablesConflict, explicit, legacy)
			}
		}
		return explicit, "explicit", nil
	}

	if s.PurchaseArtifacts != nil && *s.PurchaseArtifacts {
		legacy, src := legacySelection(mc)
		return legacy, src, nil
	}

	return nil, "none", nil
}

// legacySelection повторяет устаревшую семантику purchase_release_artifacts:
// deliverable "tenant_outputs", если модуль его объявляет, иначе все
// deliverables модуля.
func legacySelection(mc *contract.ModuleContract) ([]string, string) {
	if mc == nil {
		return nil, "legacy:none"
	}
	if mc.Deliverable("tenant_outputs") != nil {
		return []string{"tenant_outputs"}, "legacy:tenant_outputs"
	}
	if len(mc.Deliverables.Port) > 0 {
		ids := make([]string, 0, len(mc.Deliverables.Port))
		for i := range mc.Deliverables.Port {
			ids = append(ids, mc.Deliverables.Port[i].ID)
		}
		sort.Strings(ids)
		return ids, "legacy:all"
	}
	return nil, "legacy:none"
}

func dedupeIDs(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, x := range raw {
		s := strings.TrimSpace(x)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		if !set[x] {
			return false
		}
	}
	return true
}
