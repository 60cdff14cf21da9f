// Package scheduler периодически запускает проход по очереди work orders.
//
// Модель однопроцессная: одновременно выполняется не более одного прохода,
// тик, пришедший во время работающего прохода, пропускается.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — стандартный 5-польный формат (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSpec проверяет cron-выражение расписания.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// NextRun возвращает следующее время срабатывания расписания после from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid cron spec %q: %w", spec, err)
	}
	return sched.Next(from).UTC(), nil
}

// PassFunc — один проход по очереди.
type PassFunc func(ctx context.Context) error

// Sweeper запускает проход по расписанию cron.
type Sweeper struct {
	spec   string
	pass   PassFunc
	logger *slog.Logger

	cron *cron.Cron

	// busy защищает от перекрытия проходов.
	busy sync.Mutex

	cancel context.CancelFunc
}

// New создаёт Sweeper. Невалидное расписание — ошибка конструирования.
func New(spec string, logger *slog.Logger, pass PassFunc) (*Sweeper, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{spec: spec, pass: pass, logger: logger}, nil
}

// Start выполняет немедленный первый проход и включает расписание.
func (s *Sweeper) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.runPass(ctx)

	s.cron = cron.New(cron.WithParser(cronParser))
	if _, err := s.cron.AddFunc(s.spec, func() { s.runPass(ctx) }); err != nil {
		return fmt.Errorf("scheduler: add sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweep scheduled", "spec", s.spec)
	return nil
}

// Stop останавливает расписание и дожидается завершения текущего прохода.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	// Барьер: дожидаемся завершения активного прохода.
	s.busy.Lock()
	s.busy.Unlock() //nolint:staticcheck
	s.logger.Info("sweeper stopped")
}

// runPass выполняет один проход; перекрывающийся тик пропускается.
func (s *Sweeper) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.busy.TryLock() {
		s.logger.Debug("sweep already running, skipping tick")
		return
	}
	defer s.busy.Unlock()

	started := time.Now()
	if err := s.pass(ctx); err != nil {
		s.logger.Error("sweep pass failed", "error", err)
		return
	}
	s.logger.Info("sweep pass finished", "elapsed", time.Since(started))
}
