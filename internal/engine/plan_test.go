package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func step(id, moduleID string, deps ...string) domain.StepSpec {
	return domain.StepSpec{
		StepID:    id,
		ModuleID:  moduleID,
		Kind:      domain.KindTransform,
		DependsOn: deps,
	}
}

func bindingInput(fromStep, fromFile string) domain.Value {
	return domain.BindingValue(domain.Binding{
		FromStep: fromStep,
		FromFile: fromFile,
	})
}

func TestBuildPlanLinearOrder(t *testing.T) {
	spec := &domain.WorkorderSpec{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		Steps: []domain.StepSpec{
			step("c", "m3", "b"),
			step("a", "m1"),
			step("b", "m2", "a"),
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	got := plan.Order()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBuildPlanKeepsDeclaredOrderForIndependentSteps(t *testing.T) {
	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			step("zeta", "m1"),
			step("alpha", "m2"),
			step("mid", "m3"),
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	got := plan.Order()
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBuildPlanInfersEdgesFromBindings(t *testing.T) {
	consumer := step("consumer", "m2")
	consumer.Inputs = map[string]domain.Value{
		"text": bindingInput("producer", "report.txt"),
	}

	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			consumer,
			step("producer", "m1"),
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	got := plan.Order()
	if got[0] != "producer" || got[1] != "consumer" {
		t.Errorf("expected [producer consumer], got %v", got)
	}
	if deps := plan.Edges["consumer"]; len(deps) != 1 || deps[0] != "producer" {
		t.Errorf("expected consumer to depend on producer, got %v", deps)
	}
}

func TestBuildPlanNestedBindingEdges(t *testing.T) {
	consumer := step("consumer", "m2")
	consumer.Inputs = map[string]domain.Value{
		"docs": domain.SequenceValue(
			domain.MappingValue(map[string]domain.Value{
				"body": bindingInput("upstream", "out.json"),
			}),
		),
	}

	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			consumer,
			step("upstream", "m1"),
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if plan.Order()[0] != "upstream" {
		t.Errorf("expected upstream first, got %v", plan.Order())
	}
}

func TestBuildPlanCycle(t *testing.T) {
	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			step("a", "m1", "b"),
			step("b", "m2", "a"),
		},
	}

	_, err := BuildPlan(spec)
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if cerr.StepID != "a" && cerr.StepID != "b" {
		t.Errorf("cycle error names unexpected step %q", cerr.StepID)
	}
}

func TestBuildPlanSelfDependencyIsCycle(t *testing.T) {
	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			step("solo", "m1", "solo"),
		},
	}

	_, err := BuildPlan(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestBuildPlanEmptySteps(t *testing.T) {
	_, err := BuildPlan(&domain.WorkorderSpec{})
	if !errors.Is(err, ErrEmptySteps) {
		t.Fatalf("expected ErrEmptySteps, got %v", err)
	}
}

func TestBuildPlanIgnoresUnknownDependencies(t *testing.T) {
	// Ссылки на несуществующие шаги отфильтровываются; их проверяет валидатор.
	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			step("a", "m1", "ghost"),
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Edges["a"]) != 0 {
		t.Errorf("expected no edges for a, got %v", plan.Edges["a"])
	}
}

func TestBuildPlanSkipsStepsWithoutIDs(t *testing.T) {
	spec := &domain.WorkorderSpec{
		Steps: []domain.StepSpec{
			{StepID: "", ModuleID: "m1"},
			{StepID: "kept", ModuleID: "m2"},
			{StepID: "nomodule", ModuleID: ""},
		},
	}

	plan, err := BuildPlan(spec)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].StepID != "kept" {
		t.Errorf("expected only step kept, got %v", plan.Order())
	}
}
