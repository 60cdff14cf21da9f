package engine

import (
	"sort"
	"strings"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Plan — упорядоченный план выполнения work order.
//
// Steps отсортированы топологически: каждый шаг стоит после всех своих
// зависимостей. Шаги без зависимостей сохраняют относительный порядок
// объявления в документе.
type Plan struct {
	// Steps — шаги в порядке выполнения.
	Steps []*domain.StepSpec

	// Edges — зависимости каждого шага (step_id → отсортированные step_id источников).
	Edges map[string][]string
}

// Order возвращает step_id шагов в порядке выполнения.
func (p *Plan) Order() []string {
	order := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		order[i] = s.StepID
	}
	return order
}

// BuildPlan нормализует work order в план выполнения.
//
// Рёбра графа собираются из биндингов входов (from_step) и из явного
// depends_on; ссылки на неизвестные шаги игнорируются — их проверяет
// preflight-валидатор. Цикл в зависимостях — ошибка с указанием шага.
func BuildPlan(spec *domain.WorkorderSpec) (*Plan, error) {
	steps := make([]*domain.StepSpec, 0, len(spec.Steps))
	for i := range spec.Steps {
		s := &spec.Steps[i]
		if strings.TrimSpace(s.StepID) == "" || strings.TrimSpace(s.ModuleID) == "" {
			continue
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return nil, ErrEmptySteps
	}

	edges := extractStepEdges(steps)

	byID := make(map[string]*domain.StepSpec, len(steps))
	nodes := make([]string, 0, len(steps))
	for _, s := range steps {
		byID[s.StepID] = s
		nodes = append(nodes, s.StepID)
	}

	ordered, err := toposort(nodes, edges)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Steps: make([]*domain.StepSpec, 0, len(ordered)),
		Edges: edges,
	}
	for _, sid := range ordered {
		plan.Steps = append(plan.Steps, byID[sid])
	}
	return plan, nil
}

// extractStepEdges выводит зависимости шагов из биндингов входов и depends_on.
// Ссылки на шаги вне множества known отбрасываются.
func extractStepEdges(steps []*domain.StepSpec) map[string][]string {
	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.StepID] = true
	}

	edges := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps := make(map[string]bool)
		for _, key := range sortedInputKeys(s.Inputs) {
			v := s.Inputs[key]
			for _, b := range v.Bindings() {
				if from := strings.TrimSpace(b.FromStep); from != "" && known[from] {
					deps[from] = true
				}
			}
		}
		for _, dep := range s.DependsOn {
			if d := strings.TrimSpace(dep); d != "" && known[d] {
				deps[d] = true
			}
		}
		list := make([]string, 0, len(deps))
		for dep := range deps {
			list = append(list, dep)
		}
		sort.Strings(list)
		edges[s.StepID] = list
	}
	return edges
}

// toposort выполняет топологическую сортировку обходом в глубину.
//
// Узлы обходятся в порядке объявления, зависимости каждого узла — в
// лексикографическом порядке, поэтому результат детерминирован.
func toposort(nodes []string, edges map[string][]string) ([]string, error) {
	temp := make(map[string]bool)
	perm := make(map[string]bool)
	ordered := make([]string, 0, len(nodes))

	var visit func(n string) error
	visit = func(n string) error {
		if perm[n] {
			return nil
		}
		if temp[n] {
			return &CycleError{StepID: n}
		}
		temp[n] = true
		for _, dep := range edges[n] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temp, n)
		perm[n] = true
		ordered = append(ordered, n)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func sortedInputKeys(inputs map[string]domain.Value) []string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
