package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const defaultRunTimeout = 15 * time.Minute

// runnerPayload — документ, подаваемый модулю на stdin.
type runnerPayload struct {
	TenantID    string         `json:"tenant_id"`
	WorkOrderID string         `json:"work_order_id"`
	ModuleRunID string         `json:"module_run_id"`
	StepID      string         `json:"step_id"`
	ModuleID    string         `json:"module_id"`
	OutputsDir  string         `json:"outputs_dir"`
	Inputs      map[string]any `json:"inputs"`
}

// Local — executor, запускающий раннер модуля локальным подпроцессом.
//
// Контракт раннера: исполняемый файл <module_dir>/run получает документ
// вызова на stdin, пишет выходные файлы в outputs_dir и печатает
// результирующий JSON-документ на stdout. Ненулевой код выхода или
// нечитаемый stdout — падение с причиной module_crashed.
type Local struct {
	// RunnerName — имя исполняемого раннера внутри каталога модуля.
	RunnerName string

	// Timeout — предельное время одного запуска.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewLocal создаёт локальный executor с настройками по умолчанию.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{RunnerName: "run", Timeout: defaultRunTimeout, Logger: logger}
}

// Execute запускает раннер модуля.
func (l *Local) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	if err := os.MkdirAll(inv.OutputsDir, 0o755); err != nil {
		return nil, fmt.Errorf("executor: create outputs dir: %w", err)
	}

	payload, err := json.Marshal(runnerPayload{
		TenantID:    inv.TenantID,
		WorkOrderID: inv.WorkOrderID,
		ModuleRunID: inv.ModuleRunID,
		StepID:      inv.StepID,
		ModuleID:    inv.ModuleID,
		OutputsDir:  inv.OutputsDir,
		Inputs:      inv.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: marshal invocation: %w", err)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := filepath.Join(inv.ModuleDir, l.RunnerName)
	cmd := exec.CommandContext(runCtx, runner)
	cmd.Dir = inv.ModuleDir
	cmd.Env = inv.Env
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		l.Logger.Warn("module runner failed",
			"module_id", inv.ModuleID,
			"step_id", inv.StepID,
			"module_run_id", inv.ModuleRunID,
			"error", runErr,
			"stderr", truncate(stderr.String(), 512),
		)
		// Раннер мог успеть напечатать структурированный результат
		// (например FAILED с точным слагом) до падения.
		if res := parseResult(stdout.Bytes()); res != nil && res.Status != "" {
			return normalize(res), nil
		}
		return &Result{Status: StatusFailed, ReasonSlug: "module_crashed"}, nil
	}

	res := parseResult(stdout.Bytes())
	if res == nil {
		l.Logger.Warn("module runner produced no result document",
			"module_id", inv.ModuleID,
			"step_id", inv.StepID,
		)
		return &Result{Status: StatusFailed, ReasonSlug: "module_crashed"}, nil
	}
	return normalize(res), nil
}

// parseResult разбирает последний JSON-объект из stdout раннера.
func parseResult(out []byte) *Result {
	dec := json.NewDecoder(bytes.NewReader(out))
	var last *Result
	for {
		var r Result
		if err := dec.Decode(&r); err != nil {
			break
		}
		last = &r
	}
	return last
}

// normalize приводит статус к каноническому виду; пустой статус — FAILED.
func normalize(r *Result) *Result {
	if r.Completed() {
		r.Status = StatusCompleted
		return r
	}
	r.Status = StatusFailed
	if r.ReasonSlug == "" {
		r.ReasonSlug = "module_failed"
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
