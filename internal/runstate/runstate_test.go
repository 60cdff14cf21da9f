package runstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/store/logfile"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := logfile.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open logfile store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func createParams(key string) CreateParams {
	return CreateParams{
		TenantID:       "t1",
		WorkOrderID:    "wo1",
		StepID:         "extract",
		ModuleID:       "text_extract",
		IdempotencyKey: key,
		OutputsDir:     "/tmp/out/extract",
	}
}

func TestCreateStepRunIdempotent(t *testing.T) {
	// Проверяем: повторное создание с тем же ключом возвращает существующую запись.
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateStepRun(ctx, createParams("step_run_abc"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != domain.StepRunCreated {
		t.Fatalf("expected CREATED, got %s", first.Status)
	}
	if first.ModuleRunID == "" {
		t.Fatal("expected non-empty module run id")
	}

	second, err := svc.CreateStepRun(ctx, createParams("step_run_abc"))
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.ModuleRunID != first.ModuleRunID {
		t.Fatalf("expected same module run id, got %s and %s", first.ModuleRunID, second.ModuleRunID)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	// Проверяем: CREATED → RUNNING → COMPLETED, поля заполняются по пути.
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.CreateStepRun(ctx, createParams("step_run_life"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	running, err := svc.MarkRunning(ctx, rec, "/tmp/out/extract")
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if running.Status != domain.StepRunRunning {
		t.Fatalf("expected RUNNING, got %s", running.Status)
	}
	if running.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}

	done, err := svc.MarkSucceeded(ctx, running, SuccessParams{ReportPath: "report.json"})
	if err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if done.Status != domain.StepRunCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
	if done.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
	if done.ReportPath != "report.json" {
		t.Fatalf("expected report path, got %q", done.ReportPath)
	}

	// Хранилище отдаёт последнюю запись.
	got, err := svc.GetStepRun(ctx, "t1", "wo1", "extract")
	if err != nil {
		t.Fatalf("get step run: %v", err)
	}
	if got.Status != domain.StepRunCompleted {
		t.Fatalf("expected stored COMPLETED, got %s", got.Status)
	}
}

func TestTerminalStateNeverTransitions(t *testing.T) {
	// Проверяем: терминальная запись не меняется при повторных переходах.
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.CreateStepRun(ctx, createParams("step_run_term"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	failed, err := svc.MarkFailed(ctx, rec, "module_crashed")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != domain.StepRunFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}

	again, err := svc.MarkRunning(ctx, failed, "/tmp/other")
	if err != nil {
		t.Fatalf("mark running on terminal: %v", err)
	}
	if again.Status != domain.StepRunFailed {
		t.Fatalf("terminal record transitioned to %s", again.Status)
	}

	got, err := svc.GetStepRun(ctx, "t1", "wo1", "extract")
	if err != nil {
		t.Fatalf("get step run: %v", err)
	}
	if got.Status != domain.StepRunFailed || got.ReasonCode != "module_crashed" {
		t.Fatalf("expected stored FAILED/module_crashed, got %s/%s", got.Status, got.ReasonCode)
	}
}

func TestRecordOutputAndLookup(t *testing.T) {
	// Проверяем: запись выхода и чтение через связанный lookup.
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.RecordOutput(ctx, &domain.OutputRecord{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		StepID:      "extract",
		ModuleID:    "text_extract",
		OutputID:    "report",
		Path:        "report.json",
		Bytes:       42,
		CreatedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("record output: %v", err)
	}

	lookup := svc.OutputLookup(ctx)
	got, err := lookup.GetOutput("t1", "wo1", "extract", "report")
	if err != nil {
		t.Fatalf("lookup output: %v", err)
	}
	if got.Path != "report.json" || got.Bytes != 42 {
		t.Fatalf("unexpected output record: %+v", got)
	}

	_, err = lookup.GetOutput("t1", "wo1", "extract", "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordOutputFillsCreatedAt(t *testing.T) {
	// Проверяем: нулевое время создания заполняется автоматически.
	svc := newTestService(t)
	ctx := context.Background()

	rec := &domain.OutputRecord{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		StepID:      "extract",
		ModuleID:    "text_extract",
		OutputID:    "report",
		Path:        "report.json",
	}
	if err := svc.RecordOutput(ctx, rec); err != nil {
		t.Fatalf("record output: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be filled")
	}
}
