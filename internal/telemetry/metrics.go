package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики оркестратора для Prometheus.
//
// Все методы безопасны на nil-приёмнике: компоненты, работающие без
// метрик (CLI, тесты), передают nil и не ветвятся по месту вызова.
type Metrics struct {
	workorders      *prometheus.CounterVec
	steps           *prometheus.CounterVec
	cacheHits       prometheus.Counter
	creditsSpent    prometheus.Counter
	creditsRefunded prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в registerer.
// Nil registerer означает глобальный регистр prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		workorders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_workorders_total",
			Help: "Work orders finished, by terminal status",
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_steps_total",
			Help: "Steps finished, by terminal status",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_cache_hits_total",
			Help: "Steps served from the output cache without module invocation",
		}),
		creditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_credits_spent_total",
			Help: "Credits debited from tenant balances",
		}),
		creditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_credits_refunded_total",
			Help: "Credits returned to tenant balances",
		}),
	}
	reg.MustRegister(m.workorders, m.steps, m.cacheHits, m.creditsSpent, m.creditsRefunded)
	return m
}

// WorkorderFinished учитывает завершённый work order.
func (m *Metrics) WorkorderFinished(status string) {
	if m == nil {
		return
	}
	m.workorders.WithLabelValues(status).Inc()
}

// StepFinished учитывает завершённый шаг.
func (m *Metrics) StepFinished(status string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(status).Inc()
}

// CacheHit учитывает попадание в кэш выходов.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CreditsSpent учитывает списанные кредиты.
func (m *Metrics) CreditsSpent(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsSpent.Add(float64(amount))
}

// CreditsRefunded учитывает возвращённые кредиты.
func (m *Metrics) CreditsRefunded(amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsRefunded.Add(float64(amount))
}
