package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/ledger"
	"github.com/shaiso/Conveyor/internal/runstate"
	"github.com/shaiso/Conveyor/internal/secrets"
	"github.com/shaiso/Conveyor/internal/store/logfile"
)

// fakeExecutor пишет заранее заданные файлы и возвращает заранее заданный
// результат вместо запуска реального раннера.
type fakeExecutor struct {
	calls int

	// results — результат по module_id; отсутствие означает COMPLETED.
	results map[string]*executor.Result

	// files — файлы, которые "модуль" пишет в каталог выходов.
	files map[string]map[string]string
}

func (f *fakeExecutor) Execute(_ context.Context, inv executor.Invocation) (*executor.Result, error) {
	f.calls++
	for rel, content := range f.files[inv.ModuleID] {
		p := filepath.Join(inv.OutputsDir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	if res, ok := f.results[inv.ModuleID]; ok {
		return res, nil
	}
	return &executor.Result{Status: executor.StatusCompleted}, nil
}

func extractContract() *contract.ModuleContract {
	c := &contract.ModuleContract{ModuleID: "extract", Kind: domain.KindTransform}
	c.Ports.Inputs.Port = []contract.Port{
		{ID: "source_text", Type: "string"},
		{ID: "upstream", Binding: &contract.BindingRule{}},
	}
	c.Ports.Outputs.Port = []contract.Port{
		{ID: "report", Path: "report.json", Format: "application/json"},
	}
	c.Deliverables.Port = []contract.Deliverable{
		{ID: "tenant_outputs", OutputIDs: []string{"report"}},
	}
	return c
}

func testReasons() *ledger.ReasonCatalog {
	return ledger.NewReasonCatalog([]ledger.ReasonRule{
		{Scope: "GLOBAL", Slug: "unknown_error", Code: "E000"},
		{Scope: "GLOBAL", Slug: "module_failed", Code: "E100"},
		{Scope: "GLOBAL", Slug: "missing_required_input", Code: "E110", Refundable: true},
		{Scope: "GLOBAL", Slug: "not_enough_credits", Code: "E200"},
		{Scope: "GLOBAL", Slug: "secrets_missing", Code: "E300"},
		{Scope: "MODULE", ModuleID: "ship", Slug: "smtp_refused", Code: "D100", Refundable: true},
	})
}

type testEnv struct {
	orc     *Orchestrator
	exec    *fakeExecutor
	st      *logfile.Store
	runsDir string
	billing *ledger.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg, err := contract.NewRegistryFromContracts(
		extractContract(),
		&contract.ModuleContract{ModuleID: "fetch", Kind: domain.KindTransform},
		&contract.ModuleContract{ModuleID: "bundle", Kind: domain.KindPackaging},
		&contract.ModuleContract{ModuleID: "ship", Kind: domain.KindDelivery},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	st, err := logfile.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open logfile store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.SetCredits(context.Background(), "t1", 100); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	prices := ledger.NewPriceList([]domain.PriceRow{
		{ModuleID: "extract", DeliverableID: "__run__", PriceCredits: 5, EffectiveFrom: "2023-01-01", Active: true},
		{ModuleID: "extract", DeliverableID: "tenant_outputs", PriceCredits: 3, EffectiveFrom: "2023-01-01", Active: true},
		{ModuleID: "fetch", DeliverableID: "__run__", PriceCredits: 1, EffectiveFrom: "2023-01-01", Active: true},
		{ModuleID: "bundle", DeliverableID: "__run__", PriceCredits: 2, EffectiveFrom: "2023-01-01", Active: true},
		{ModuleID: "ship", DeliverableID: "__run__", PriceCredits: 4, EffectiveFrom: "2023-01-01", Active: true},
	})

	billing := ledger.New(st, st, prices)
	fx := &fakeExecutor{
		results: make(map[string]*executor.Result),
		files: map[string]map[string]string{
			"extract": {"report.json": `{"text":"extracted"}`},
		},
	}
	runsDir := t.TempDir()

	orc := New(Config{
		Registry:   reg,
		RunState:   runstate.New(st),
		Ledger:     billing,
		Cache:      cache.New(t.TempDir(), st, time.Hour),
		Reasons:    testReasons(),
		Executor:   fx,
		ModulesDir: t.TempDir(),
		RunsDir:    runsDir,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{orc: orc, exec: fx, st: st, runsDir: runsDir, billing: billing}
}

func singleStepOrder() *domain.WorkorderSpec {
	return &domain.WorkorderSpec{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		Enabled:     true,
		SourcePath:  "tenants/t1/workorders/wo1.yml",
		Steps: []domain.StepSpec{
			{
				StepID:   "s1",
				ModuleID: "extract",
				Kind:     domain.KindTransform,
				Inputs: map[string]domain.Value{
					"source_text": domain.ScalarValue("hello"),
				},
			},
		},
	}
}

func credits(t *testing.T, env *testEnv) int64 {
	t.Helper()
	tc, err := env.st.GetCredits(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	return tc.Available
}

func TestRunWorkorderHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rep, err := env.orc.RunWorkorder(ctx, singleStepOrder())
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: статус, списание и баланс.
	if rep.Status != domain.WorkorderCompleted {
		t.Fatalf("expected COMPLETED, got %s", rep.Status)
	}
	if rep.SpendTotal != 5 {
		t.Fatalf("expected spend total 5, got %d", rep.SpendTotal)
	}
	if got := credits(t, env); got != 95 {
		t.Fatalf("expected balance 95, got %d", got)
	}
	if env.exec.calls != 1 {
		t.Fatalf("expected 1 module invocation, got %d", env.exec.calls)
	}

	// Проверяем: выход шага зарегистрирован по пути из контракта.
	out, err := env.st.GetOutput(ctx, "t1", "wo1", "s1", "report")
	if err != nil {
		t.Fatalf("get output: %v", err)
	}
	if out.Path != "report.json" || out.SHA256 == "" || out.Bytes == 0 {
		t.Fatalf("unexpected output record: %+v", out)
	}

	rec, err := env.st.GetStepRun(ctx, "t1", "wo1", "s1")
	if err != nil {
		t.Fatalf("get step run: %v", err)
	}
	if rec.Status != domain.StepRunCompleted {
		t.Fatalf("expected step COMPLETED, got %s", rec.Status)
	}
}

func TestRunWorkorderRerunIdenticalLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.orc.RunWorkorder(ctx, singleStepOrder()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	txsBefore, err := env.st.ListTransactions(ctx, "t1", "wo1")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	balanceBefore := credits(t, env)

	rep, err := env.orc.RunWorkorder(ctx, singleStepOrder())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Проверяем: повтор не создаёт транзакций, не меняет баланс и не
	// перезапускает модуль.
	txsAfter, err := env.st.ListTransactions(ctx, "t1", "wo1")
	if err != nil {
		t.Fatalf("list transactions after rerun: %v", err)
	}
	if len(txsAfter) != len(txsBefore) {
		t.Fatalf("rerun changed ledger: %d → %d transactions", len(txsBefore), len(txsAfter))
	}
	if got := credits(t, env); got != balanceBefore {
		t.Fatalf("rerun changed balance: %d → %d", balanceBefore, got)
	}
	if env.exec.calls != 1 {
		t.Fatalf("rerun invoked module again: %d calls", env.exec.calls)
	}
	if rep.Status != domain.WorkorderCompleted {
		t.Fatalf("expected COMPLETED on rerun, got %s", rep.Status)
	}
}

func TestRunWorkorderCacheHitSkipsInvocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(woID string) *domain.WorkorderSpec {
		return &domain.WorkorderSpec{
			TenantID:    "t1",
			WorkOrderID: woID,
			Enabled:     true,
			SourcePath:  "tenants/t1/workorders/" + woID + ".yml",
			Steps: []domain.StepSpec{
				{
					StepID:      "s1",
					ModuleID:    "extract",
					Kind:        domain.KindTransform,
					ReuseOutput: "cache",
					Inputs: map[string]domain.Value{
						"source_text": domain.ScalarValue("same input"),
					},
				},
			},
		}
	}

	if _, err := env.orc.RunWorkorder(ctx, mk("wo1")); err != nil {
		t.Fatalf("first workorder: %v", err)
	}
	if env.exec.calls != 1 {
		t.Fatalf("expected 1 invocation after miss, got %d", env.exec.calls)
	}

	rep, err := env.orc.RunWorkorder(ctx, mk("wo2"))
	if err != nil {
		t.Fatalf("second workorder: %v", err)
	}

	// Проверяем: попадание в кэш — ноль вызовов модуля, побайтно те же выходы.
	if env.exec.calls != 1 {
		t.Fatalf("cache hit invoked module: %d calls", env.exec.calls)
	}
	if rep.Status != domain.WorkorderCompleted {
		t.Fatalf("expected COMPLETED, got %s", rep.Status)
	}

	rec, err := env.st.GetStepRun(ctx, "t1", "wo2", "s1")
	if err != nil {
		t.Fatalf("get step run: %v", err)
	}
	if !rec.CacheHit {
		t.Fatalf("expected cache_hit on record: %+v", rec)
	}

	rec1, err := env.st.GetStepRun(ctx, "t1", "wo1", "s1")
	if err != nil {
		t.Fatalf("get first step run: %v", err)
	}
	want, err := os.ReadFile(filepath.Join(rec1.OutputsDir, "report.json"))
	if err != nil {
		t.Fatalf("read first outputs: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(rec.OutputsDir, "report.json"))
	if err != nil {
		t.Fatalf("read cached outputs: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("cached outputs differ: %q vs %q", got, want)
	}
}

func TestRunWorkorderBindingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	spec := &domain.WorkorderSpec{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		Enabled:     true,
		SourcePath:  "tenants/t1/workorders/wo1.yml",
		Steps: []domain.StepSpec{
			{StepID: "s1", ModuleID: "fetch", Kind: domain.KindTransform},
			{
				StepID:   "s2",
				ModuleID: "extract",
				Kind:     domain.KindTransform,
				Inputs: map[string]domain.Value{
					"upstream": domain.BindingValue(domain.Binding{
						FromStep: "s1",
						FromFile: "data.txt",
						Selector: "text",
					}),
				},
			},
		},
	}

	rep, err := env.orc.RunWorkorder(ctx, spec)
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: провал резолва — шаг падает без вызова модуля.
	if env.exec.calls != 1 {
		t.Fatalf("expected only upstream invocation, got %d calls", env.exec.calls)
	}
	if rep.StepStatuses["s2"] != domain.StepRunFailed {
		t.Fatalf("expected s2 FAILED, got %s", rep.StepStatuses["s2"])
	}
	if rep.Status != domain.WorkorderFailed {
		t.Fatalf("expected FAILED, got %s", rep.Status)
	}

	rec, err := env.st.GetStepRun(ctx, "t1", "wo1", "s2")
	if err != nil {
		t.Fatalf("get step run: %v", err)
	}
	if rec.ReasonCode != "E110" {
		t.Fatalf("expected reason E110, got %q", rec.ReasonCode)
	}
	if _, err := os.Stat(filepath.Join(rec.OutputsDir, "binding_error.json")); err != nil {
		t.Fatalf("missing binding error report: %v", err)
	}

	// Проверяем: возврат за упавший шаг зеркалирует списание (5 кредитов).
	// Итог: 100 - (1+5) + 5 = 99.
	if got := credits(t, env); got != 99 {
		t.Fatalf("expected balance 99 after refund, got %d", got)
	}
}

func TestRunWorkorderAllOrNothingStops(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.exec.results["extract"] = &executor.Result{
		Status:     executor.StatusFailed,
		ReasonSlug: "module_failed",
	}

	spec := &domain.WorkorderSpec{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		Enabled:     true,
		Mode:        domain.ModeAllOrNothing,
		SourcePath:  "tenants/t1/workorders/wo1.yml",
		Steps: []domain.StepSpec{
			{StepID: "s1", ModuleID: "fetch", Kind: domain.KindTransform},
			{StepID: "s2", ModuleID: "extract", Kind: domain.KindTransform},
			{StepID: "s3", ModuleID: "fetch", Kind: domain.KindTransform},
		},
	}

	rep, err := env.orc.RunWorkorder(ctx, spec)
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: после падения s2 шаг s3 не запускается.
	if env.exec.calls != 2 {
		t.Fatalf("expected 2 invocations, got %d", env.exec.calls)
	}
	if _, ok := rep.StepStatuses["s3"]; ok {
		t.Fatalf("s3 must not run in ALL_OR_NOTHING mode")
	}
	if rep.Status != domain.WorkorderFailed {
		t.Fatalf("expected FAILED, got %s", rep.Status)
	}

	// Проверяем: module_failed не подлежит возврату.
	if got := credits(t, env); got != 93 {
		t.Fatalf("expected balance 93 (no refund), got %d", got)
	}
}

func TestRunWorkorderCreditsGateBlocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.st.SetCredits(ctx, "t1", 1); err != nil {
		t.Fatalf("set credits: %v", err)
	}

	rep, err := env.orc.RunWorkorder(ctx, singleStepOrder())
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: гейт блокирует до списания, модуль не вызывается.
	if rep.Blocked != "E200" {
		t.Fatalf("expected blocked E200, got %q", rep.Blocked)
	}
	if rep.Status != domain.WorkorderFailed {
		t.Fatalf("expected FAILED, got %s", rep.Status)
	}
	if env.exec.calls != 0 {
		t.Fatalf("gate must not invoke modules: %d calls", env.exec.calls)
	}
	if got := credits(t, env); got != 1 {
		t.Fatalf("gate must not debit: balance %d", got)
	}

	// Проверяем: нулевая SPEND-транзакция аудита записана и идемпотентна.
	txs, err := env.st.ListTransactions(ctx, "t1", "wo1")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].AmountCredits != 0 || txs[0].ReasonCode != "E200" {
		t.Fatalf("unexpected gate transactions: %+v", txs)
	}
	if _, err := env.orc.RunWorkorder(ctx, singleStepOrder()); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	txs, err = env.st.ListTransactions(ctx, "t1", "wo1")
	if err != nil {
		t.Fatalf("list transactions after rerun: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("gate transaction duplicated on rerun: %d", len(txs))
	}
}

func TestRunWorkorderSecretsGateBlocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.orc.requirements = secrets.Requirements{
		"extract": {{Key: "CONVEYOR_TEST_ONLY_KEY", Note: "api token"}},
	}

	rep, err := env.orc.RunWorkorder(ctx, singleStepOrder())
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: недостающий секрет блокирует до списания.
	if rep.Blocked != "E300" {
		t.Fatalf("expected blocked E300, got %q", rep.Blocked)
	}
	if env.exec.calls != 0 {
		t.Fatalf("secrets gate must not invoke modules: %d calls", env.exec.calls)
	}
	if got := credits(t, env); got != 100 {
		t.Fatalf("secrets gate must not debit: balance %d", got)
	}
}

func TestRunWorkorderDeliveryRefundPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mk := func(woID string) *domain.WorkorderSpec {
		return &domain.WorkorderSpec{
			TenantID:    "t1",
			WorkOrderID: woID,
			Enabled:     true,
			SourcePath:  "tenants/t1/workorders/" + woID + ".yml",
			Steps: []domain.StepSpec{
				{StepID: "pack", ModuleID: "bundle", Kind: domain.KindPackaging},
				{StepID: "send", ModuleID: "ship", Kind: domain.KindDelivery},
			},
		}
	}

	// Непроверенный транзиентный сбой: refund_eligible=false — возврата нет.
	env.exec.results["ship"] = &executor.Result{
		Status:     executor.StatusFailed,
		ReasonSlug: "smtp_refused",
	}
	if _, err := env.orc.RunWorkorder(ctx, mk("wo1")); err != nil {
		t.Fatalf("wo1: %v", err)
	}
	if got := credits(t, env); got != 94 {
		t.Fatalf("expected balance 94 (no refund for unverified failure), got %d", got)
	}

	// Подтверждённая недоставка: refund_eligible=true — возврат цены шага.
	env.exec.results["ship"] = &executor.Result{
		Status:         executor.StatusFailed,
		ReasonSlug:     "smtp_refused",
		RefundEligible: true,
	}
	if _, err := env.orc.RunWorkorder(ctx, mk("wo2")); err != nil {
		t.Fatalf("wo2: %v", err)
	}
	// 94 - 6 + 4 = 92.
	if got := credits(t, env); got != 92 {
		t.Fatalf("expected balance 92 after verified refund, got %d", got)
	}

	items, err := env.st.ListItemsForStep(ctx, "t1", "wo2", "send")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	refunds := 0
	for _, it := range items {
		if it.Type == domain.TxRefund {
			refunds++
			if it.AmountCredits != 4 {
				t.Fatalf("expected refund item +4, got %d", it.AmountCredits)
			}
		}
	}
	if refunds != 1 {
		t.Fatalf("expected 1 refund item, got %d", refunds)
	}
}

func TestRunWorkorderDeliveryEvidence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.exec.files["ship"] = map[string]string{
		"delivery_receipt.json": `{"provider":"email","remote_path":"inbox/bundle.zip","verification_status":"verified","bytes":42}`,
	}

	spec := &domain.WorkorderSpec{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		Enabled:     true,
		SourcePath:  "tenants/t1/workorders/wo1.yml",
		Steps: []domain.StepSpec{
			{StepID: "pack", ModuleID: "bundle", Kind: domain.KindPackaging},
			{StepID: "send", ModuleID: "ship", Kind: domain.KindDelivery},
		},
	}
	rep, err := env.orc.RunWorkorder(ctx, spec)
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}
	if rep.Status != domain.WorkorderCompleted {
		t.Fatalf("expected COMPLETED, got %s", rep.Status)
	}

	// Проверяем: нулевая позиция-доказательство записана в леджер.
	items, err := env.st.ListItemsForStep(ctx, "t1", "wo1", "send")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	found := false
	for _, it := range items {
		if it.DeliverableID == domain.DeliveryEvidenceID {
			found = true
			if it.AmountCredits != 0 || it.Feature != "delivery_evidence" {
				t.Fatalf("unexpected evidence item: %+v", it)
			}
		}
	}
	if !found {
		t.Fatalf("delivery evidence item not recorded: %+v", items)
	}
}

func TestRunWorkorderDraftSkipped(t *testing.T) {
	env := newTestEnv(t)
	spec := singleStepOrder()
	spec.Enabled = false
	spec.Steps[0].ModuleID = "no_such_module"

	rep, err := env.orc.RunWorkorder(context.Background(), spec)
	if err != nil {
		t.Fatalf("draft must not fail: %v", err)
	}

	// Проверяем: черновик собирает предупреждения и не выполняется.
	if rep.Status != domain.WorkorderCreated {
		t.Fatalf("expected CREATED for draft, got %s", rep.Status)
	}
	if len(rep.Warnings) == 0 {
		t.Fatalf("expected draft warnings")
	}
	if env.exec.calls != 0 {
		t.Fatalf("draft must not invoke modules: %d calls", env.exec.calls)
	}
}

func TestRunWorkorderAwaitingPublish(t *testing.T) {
	env := newTestEnv(t)
	spec := singleStepOrder()
	spec.Steps[0].Deliverables = []string{"tenant_outputs"}

	rep, err := env.orc.RunWorkorder(context.Background(), spec)
	if err != nil {
		t.Fatalf("run workorder: %v", err)
	}

	// Проверяем: запрошенные deliverables переводят завершённый workorder
	// в ожидание публикации; списание включает цену deliverable.
	if rep.Status != domain.WorkorderAwaitingPublish {
		t.Fatalf("expected AWAITING_PUBLISH, got %s", rep.Status)
	}
	if rep.SpendTotal != 8 {
		t.Fatalf("expected spend 8 (run 5 + deliverable 3), got %d", rep.SpendTotal)
	}
}
