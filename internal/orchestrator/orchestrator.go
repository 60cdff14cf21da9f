package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/contract"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/events"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/ledger"
	"github.com/shaiso/Conveyor/internal/preflight"
	"github.com/shaiso/Conveyor/internal/runstate"
	"github.com/shaiso/Conveyor/internal/secrets"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// planType — тип плана выполнения; входит в ключ идемпотентности списания.
const planType = "steps"

// Зарезервированные категории нулевых транзакций-гейтов.
const (
	featureCreditsGate = "__credits_gate__"
	featurePreflight   = "__preflight__"
)

// Orchestrator выполняет work orders очереди: один процесс, один work order
// за раз, шаги строго в порядке плана.
//
// Последовательность на один work order:
//  1. preflight-валидация (черновики — только предупреждения);
//  2. гейт секретов — недостающие обязательные секреты блокируют до списания;
//  3. гейт кредитов — оценка плана против баланса арендатора;
//  4. идемпотентное списание (одна SPEND-транзакция, позиции по шагам);
//  5. выполнение шагов по плану: резолв биндингов, кэш, запуск модуля,
//     регистрация выходов, возвраты по политике;
//  6. редукция статуса workorder.
type Orchestrator struct {
	registry  *contract.Registry
	validator *preflight.Validator
	runs      *runstate.Service
	billing   *ledger.Service
	cache     *cache.Cache
	reasons   *ledger.ReasonCatalog

	secrets      *secrets.Store
	requirements secrets.Requirements

	exec   executor.Executor
	events *events.Publisher

	// modulesDir — корень каталогов модулей (<modulesDir>/<module_id>/run).
	modulesDir string

	// runsDir — корень рабочих каталогов шагов
	// (<runsDir>/<tenant>/<wo>/<step>/<module_run_id>).
	runsDir string

	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Config — зависимости Orchestrator.
type Config struct {
	Registry  *contract.Registry
	Validator *preflight.Validator
	RunState  *runstate.Service
	Ledger    *ledger.Service
	Cache     *cache.Cache
	Reasons   *ledger.ReasonCatalog

	Secrets      *secrets.Store
	Requirements secrets.Requirements

	Executor executor.Executor
	Events   *events.Publisher

	ModulesDir string
	RunsDir    string

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = preflight.New(cfg.Registry)
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NewPublisher(nil, logger)
	}
	st := cfg.Secrets
	if st == nil {
		st = &secrets.Store{}
	}
	exec := cfg.Executor
	if exec == nil {
		exec = executor.NewLocal(logger)
	}
	return &Orchestrator{
		registry:     cfg.Registry,
		validator:    validator,
		runs:         cfg.RunState,
		billing:      cfg.Ledger,
		cache:        cfg.Cache,
		reasons:      cfg.Reasons,
		secrets:      st,
		requirements: cfg.Requirements,
		exec:         exec,
		events:       pub,
		modulesDir:   cfg.ModulesDir,
		runsDir:      cfg.RunsDir,
		logger:       logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// RunReport — итог обработки одного work order.
type RunReport struct {
	TenantID    string
	WorkOrderID string

	// Status — агрегированный статус после редукции.
	Status domain.WorkorderStatus

	// StepStatuses — финальные статусы шагов по step_id.
	StepStatuses map[string]domain.StepRunStatus

	// Blocked — код причины, если выполнение остановил гейт до списания.
	Blocked string

	// SpendTotal — списанная сумма (0 при повторе или блокировке).
	SpendTotal int64

	// Warnings — предупреждения preflight для черновиков.
	Warnings []string
}

// RunQueue обрабатывает все work orders из каталога tenants/.
//
// Выключенные work orders проверяются (предупреждения в лог) и пропускаются.
// Ошибка одного work order не прерывает очередь.
func (o *Orchestrator) RunQueue(ctx context.Context, tenantsDir string) ([]*RunReport, error) {
	specs, err := DiscoverWorkorders(tenantsDir)
	if err != nil {
		return nil, err
	}

	reports := make([]*RunReport, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := o.RunWorkorder(ctx, spec)
		if err != nil {
			o.logger.Error("work order failed",
				"tenant_id", spec.TenantID,
				"work_order_id", spec.WorkOrderID,
				"error", err,
			)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// RunWorkorder выполняет один work order от валидации до финального статуса.
func (o *Orchestrator) RunWorkorder(ctx context.Context, spec *domain.WorkorderSpec) (*RunReport, error) {
	log := telemetry.WithWorkorder(o.logger, spec.TenantID, spec.WorkOrderID)

	report, err := o.validator.Validate(spec)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: preflight: %w", err)
	}
	if !spec.Enabled {
		for _, w := range report.Warnings {
			log.Warn("draft work order", "warning", w)
		}
		log.Info("work order disabled, skipping")
		return &RunReport{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			Status:      domain.WorkorderCreated,
			Warnings:    report.Warnings,
		}, nil
	}

	plan, err := engine.BuildPlan(spec)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: plan: %w", err)
	}

	o.events.WorkorderStarted(ctx, spec.TenantID, spec.WorkOrderID)
	log.Info("work order started", "steps", len(plan.Steps), "mode", spec.Mode)

	if rep, blocked, err := o.checkGates(ctx, spec, report, plan, log); blocked || err != nil {
		if err != nil {
			return nil, err
		}
		o.events.WorkorderCompleted(ctx, spec.TenantID, spec.WorkOrderID, string(rep.Status))
		o.metrics.WorkorderFinished(string(rep.Status))
		return rep, nil
	}

	spend, err := o.billing.PostSpend(ctx, ledger.SpendParams{
		TenantID:      spec.TenantID,
		WorkOrderID:   spec.WorkOrderID,
		WorkorderPath: spec.SourcePath,
		PlanType:      planType,
		Steps:         spendSteps(spec, report),
		Note:          fmt.Sprintf("Work order spend: %s", spec.WorkOrderID),
	})
	if err != nil {
		return nil, err
	}
	if spend.Inserted {
		o.metrics.CreditsSpent(spend.Total)
		log.Info("spend posted", "transaction_id", spend.TransactionID, "total", spend.Total)
	}

	run := &workorderRun{
		spec:       spec,
		preflight:  report,
		plan:       plan,
		spend:      spend,
		mode:       domain.ParseExecutionMode(string(spec.Mode)),
		stepDirs:   make(map[string]string),
		statuses:   make(map[string]domain.StepRunStatus),
		log:        log,
	}

	for _, step := range plan.Steps {
		failed, err := o.runStep(ctx, run, step)
		if err != nil {
			return nil, err
		}
		if failed && run.mode == domain.ModeAllOrNothing {
			log.Warn("stopping work order after step failure", "step_id", step.StepID)
			break
		}
	}

	status := ReduceStatus(StatusInputs{
		StepStatuses:    run.statuses,
		RefundsExist:    run.refundsExist,
		PublishRequired: publishRequired(report),
	})
	log.Info("work order finished", "status", status)

	o.events.WorkorderCompleted(ctx, spec.TenantID, spec.WorkOrderID, string(status))
	o.metrics.WorkorderFinished(string(status))

	return &RunReport{
		TenantID:     spec.TenantID,
		WorkOrderID:  spec.WorkOrderID,
		Status:       status,
		StepStatuses: run.statuses,
		SpendTotal:   spend.Total,
	}, nil
}

// checkGates выполняет гейты секретов и кредитов. Блокировка записывает
// нулевую SPEND-транзакцию для аудита и не списывает кредиты.
func (o *Orchestrator) checkGates(
	ctx context.Context,
	spec *domain.WorkorderSpec,
	report *preflight.Report,
	plan *engine.Plan,
	log *slog.Logger,
) (*RunReport, bool, error) {
	planSteps := make([]secrets.PlanStep, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		planSteps = append(planSteps, secrets.PlanStep{StepID: s.StepID, ModuleID: s.ModuleID})
	}
	if err := secrets.CheckRequired(o.secrets, o.requirements, planSteps, nil); err != nil {
		var pf *secrets.PreflightError
		if !errors.As(err, &pf) {
			return nil, false, err
		}
		code := o.reasons.Code("", "secrets_missing")
		log.Warn("preflight blocked: missing required secrets",
			"reason_code", code, "missing", pf.Error())
		if _, gerr := o.billing.PostGate(ctx, ledger.GateParams{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			Feature:     featurePreflight,
			ReasonCode:  code,
			Note:        "Preflight failed: missing required secrets for one or more enabled steps",
		}); gerr != nil {
			return nil, false, gerr
		}
		return &RunReport{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			Status:      domain.WorkorderFailed,
			Blocked:     code,
		}, true, nil
	}

	est := o.billing.EstimateTotal(spendSteps(spec, report), o.now())
	if _, err := o.billing.CheckCredits(ctx, spec.TenantID, est); err != nil {
		if !errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, false, err
		}
		code := o.reasons.Code("", "not_enough_credits")
		log.Warn("credits gate blocked", "reason_code", code, "required", est)
		if _, gerr := o.billing.PostGate(ctx, ledger.GateParams{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			Feature:     featureCreditsGate,
			ReasonCode:  code,
			Note:        err.Error(),
		}); gerr != nil {
			return nil, false, gerr
		}
		return &RunReport{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			Status:      domain.WorkorderFailed,
			Blocked:     code,
		}, true, nil
	}
	return nil, false, nil
}

// workorderRun — накопительное состояние одного прохода по плану.
type workorderRun struct {
	spec      *domain.WorkorderSpec
	preflight *preflight.Report
	plan      *engine.Plan
	spend     *ledger.SpendResult
	mode      domain.ExecutionMode

	// stepDirs — каталоги выходов по шагам; заполняются и при падении,
	// чтобы нижестоящие биндинги видели частичные выходы.
	stepDirs map[string]string

	statuses     map[string]domain.StepRunStatus
	refundsExist bool

	log *slog.Logger
}

// spendSteps переводит план в позиции списания.
func spendSteps(spec *domain.WorkorderSpec, report *preflight.Report) []ledger.SpendStep {
	out := make([]ledger.SpendStep, 0, len(report.StepOrder))
	for _, sid := range report.StepOrder {
		step := spec.Step(sid)
		if step == nil {
			continue
		}
		out = append(out, ledger.SpendStep{
			StepID:       sid,
			ModuleID:     step.ModuleID,
			Deliverables: report.RequestedDeliverables[sid],
		})
	}
	return out
}

// publishRequired возвращает true, если хотя бы один шаг запросил deliverables.
func publishRequired(report *preflight.Report) bool {
	for _, dels := range report.RequestedDeliverables {
		if len(dels) > 0 {
			return true
		}
	}
	return false
}

// runStep выполняет один шаг плана. Возвращает failed=true, когда шаг
// завершился неуспешно (для режима ALL_OR_NOTHING).
func (o *Orchestrator) runStep(ctx context.Context, run *workorderRun, step *domain.StepSpec) (bool, error) {
	spec := run.spec
	log := telemetry.WithStep(run.log, step.StepID, step.ModuleID)

	rec, err := o.runs.CreateStepRun(ctx, runstate.CreateParams{
		TenantID:              spec.TenantID,
		WorkOrderID:           spec.WorkOrderID,
		StepID:                step.StepID,
		ModuleID:              step.ModuleID,
		IdempotencyKey:        ledger.KeyStepRun(spec.TenantID, spec.WorkOrderID, step.StepID, step.ModuleID),
		OutputsDir:            filepath.Join(o.runsDir, spec.TenantID, spec.WorkOrderID, step.StepID),
		RequestedDeliverables: run.preflight.RequestedDeliverables[step.StepID],
	})
	if err != nil {
		return false, err
	}

	// Повторный запуск: терминальная запись не переигрывается, её выходы
	// остаются доступными для нижестоящих биндингов.
	if rec.Status.IsTerminal() {
		log.Info("step already terminal, reusing record",
			"module_run_id", rec.ModuleRunID, "status", rec.Status)
		run.statuses[step.StepID] = rec.Status
		if rec.OutputsDir != "" {
			run.stepDirs[step.StepID] = rec.OutputsDir
		}
		return rec.Status == domain.StepRunFailed, nil
	}

	outDir := filepath.Join(o.runsDir, spec.TenantID, spec.WorkOrderID, step.StepID, rec.ModuleRunID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return false, fmt.Errorf("orchestrator: outputs dir: %w", err)
	}
	rec, err = o.runs.MarkRunning(ctx, rec, outDir)
	if err != nil {
		return false, err
	}
	log = log.With("module_run_id", rec.ModuleRunID)
	log.Info("step started")

	resolver := &engine.Resolver{
		TenantID:    spec.TenantID,
		WorkOrderID: spec.WorkOrderID,
		OutputDirs:  run.stepDirs,
		Exposed:     run.preflight.Exposed,
		Outputs:     o.runs.OutputLookup(ctx),
	}
	resolved, resolveErr := resolver.ResolveInputs(run.preflight.EffectiveInputs[step.StepID])

	var (
		result   *executor.Result
		cacheKey string
		cacheHit bool
	)
	switch {
	case resolveErr != nil:
		// Резолв биндингов провалился: модуль не запускается, отчёт об
		// ошибке остаётся в каталоге выходов шага.
		o.writeBindingReport(outDir, step, resolveErr)
		result = &executor.Result{
			Status:     executor.StatusFailed,
			ReasonSlug: "missing_required_input",
			ReportPath: "binding_error.json",
		}
		log.Warn("binding resolution failed", "error", resolveErr)

	default:
		cacheKey, err = cache.DeriveKey(spec.TenantID, step.ModuleID, resolved)
		if err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(step.ReuseOutput), "cache") {
			cacheHit, err = o.cache.Lookup(ctx, cacheKey, outDir)
			if err != nil {
				return false, err
			}
		}
		if cacheHit {
			result = &executor.Result{
				Status:    executor.StatusCompleted,
				OutputRef: "cache:" + cacheKey,
			}
			o.metrics.CacheHit()
			log.Info("cache hit, module not invoked", "cache_key", cacheKey)
		} else {
			result, err = o.executeModule(ctx, run, step, rec, resolved, outDir)
			if err != nil {
				return false, err
			}
		}
	}

	failed, err := o.finishStep(ctx, run, step, rec, result, outDir, cacheKey, cacheHit, log)
	if err != nil {
		return false, err
	}

	// Выходы шага видимы нижестоящим биндингам даже при падении.
	run.stepDirs[step.StepID] = outDir
	return failed, nil
}

// executeModule запускает раннер модуля со скоупнутым окружением:
// процессное окружение плюс секреты модуля, без глобальных мутаций.
func (o *Orchestrator) executeModule(
	ctx context.Context,
	run *workorderRun,
	step *domain.StepSpec,
	rec *domain.StepRunRecord,
	inputs map[string]any,
	outDir string,
) (*executor.Result, error) {
	env := executor.BuildEnv(os.Environ(), o.secrets.EnvForModule(step.ModuleID))
	res, err := o.exec.Execute(ctx, executor.Invocation{
		TenantID:    run.spec.TenantID,
		WorkOrderID: run.spec.WorkOrderID,
		ModuleRunID: rec.ModuleRunID,
		StepID:      step.StepID,
		ModuleID:    step.ModuleID,
		Inputs:      inputs,
		ModuleDir:   filepath.Join(o.modulesDir, step.ModuleID),
		OutputsDir:  outDir,
		Env:         env,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finishStep фиксирует результат шага: запись выходов, кэш, статус,
// доказательство доставки и возврат по политике.
func (o *Orchestrator) finishStep(
	ctx context.Context,
	run *workorderRun,
	step *domain.StepSpec,
	rec *domain.StepRunRecord,
	result *executor.Result,
	outDir, cacheKey string,
	cacheHit bool,
	log *slog.Logger,
) (bool, error) {
	spec := run.spec
	deliveryStep := o.isDeliveryStep(step)

	if result.Completed() {
		if err := o.registerOutputs(ctx, spec, step, outDir); err != nil {
			return false, err
		}
		if _, err := o.runs.MarkSucceeded(ctx, rec, runstate.SuccessParams{
			ReportPath: result.ReportPath,
			OutputRef:  result.OutputRef,
			CacheHit:   cacheHit,
		}); err != nil {
			return false, err
		}
		if cacheKey != "" {
			if err := o.cache.Store(ctx, cacheKey, outDir, cacheHit); err != nil {
				log.Warn("cache store failed", "error", err)
			}
		}
		if deliveryStep {
			if err := o.postDeliveryEvidence(ctx, run, step, outDir); err != nil {
				log.Warn("delivery evidence not recorded", "error", err)
			}
		}
		run.statuses[step.StepID] = domain.StepRunCompleted
		o.metrics.StepFinished(string(domain.StepRunCompleted))
		log.Info("step completed", "cache_hit", cacheHit)
		return false, nil
	}

	slug := strings.TrimSpace(result.ReasonSlug)
	if slug == "" {
		slug = "module_failed"
	}
	code := o.reasons.Code(step.ModuleID, slug)
	if _, err := o.runs.MarkFailed(ctx, rec, code); err != nil {
		return false, err
	}
	run.statuses[step.StepID] = domain.StepRunFailed
	o.metrics.StepFinished(string(domain.StepRunFailed))
	log.Warn("step failed", "reason_slug", slug, "reason_code", code)

	if o.reasons.ShouldRefund(code, deliveryStep, result.RefundEligible) {
		rr, err := o.billing.PostRefund(ctx, ledger.RefundParams{
			TenantID:    spec.TenantID,
			WorkOrderID: spec.WorkOrderID,
			StepID:      step.StepID,
			ModuleID:    step.ModuleID,
			ReasonCode:  code,
			Breakdown:   run.spend.PerStep[step.StepID],
		})
		if err != nil {
			return false, err
		}
		if rr.Amount > 0 {
			run.refundsExist = true
			if rr.Inserted {
				o.metrics.CreditsRefunded(rr.Amount)
				o.events.WorkorderRefunded(ctx, spec.TenantID, spec.WorkOrderID, step.StepID, code, rr.Amount)
				log.Info("refund posted", "amount", rr.Amount, "reason_code", code)
			}
		}
	}
	return true, nil
}

// isDeliveryStep: шаг доставочный по декларации шага или по kind модуля.
func (o *Orchestrator) isDeliveryStep(step *domain.StepSpec) bool {
	if step.Kind == domain.KindDelivery {
		return true
	}
	c, err := o.registry.GetContract(step.ModuleID)
	return err == nil && c.Kind == domain.KindDelivery
}

// writeBindingReport пишет структурированный отчёт об ошибке резолва в
// каталог выходов шага.
func (o *Orchestrator) writeBindingReport(outDir string, step *domain.StepSpec, resolveErr error) {
	doc := map[string]any{
		"step_id":   step.StepID,
		"module_id": step.ModuleID,
		"error":     resolveErr.Error(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(outDir, "binding_error.json"), append(data, '\n'), 0o644)
}
