// Package metrics exposes prometheus instruments for the billing engine.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

// EngineMetrics captures scheduled pipeline health signals.
type EngineMetrics struct {
	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	claimsDenied  *prometheus.CounterVec
	pipelineRuns  *prometheus.CounterVec
	purgedRuns    prometheus.Counter
	tenantsActive prometheus.Gauge
}

// Config carries identity labels shared by every instrument.
type Config struct {
	ServiceName string
	Environment string
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using
// config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the engine metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billfold"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service":     serviceName,
		"environment": environment,
	}

	m := &EngineMetrics{
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_engine_task_runs_total",
			Help:        "Task executions by task key, scope, and outcome.",
			ConstLabels: constLabels,
		}, []string{"task", "scope", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "billing_engine_task_duration_seconds",
			Help:        "Task execution duration by task key.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"task"}),
		claimsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_engine_claims_denied_total",
			Help:        "Run claims lost to a competing invocation, by task key.",
			ConstLabels: constLabels,
		}, []string{"task"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "billing_engine_pipeline_runs_total",
			Help:        "Pipeline invocations by scope.",
			ConstLabels: constLabels,
		}, []string{"scope"}),
		purgedRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_engine_purged_runs_total",
			Help:        "Task run records removed by retention purge.",
			ConstLabels: constLabels,
		}),
		tenantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "billing_engine_tenants",
			Help:        "Tenant count seen by the most recent full pipeline.",
			ConstLabels: constLabels,
		}),
	}

	collectors := []prometheus.Collector{
		m.taskRuns,
		m.taskDuration,
		m.claimsDenied,
		m.pipelineRuns,
		m.purgedRuns,
		m.tenantsActive,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = already
				continue
			}
		}
	}
	return m
}

func (m *EngineMetrics) IncTaskRun(task, scope, outcome string) {
	m.taskRuns.WithLabelValues(task, scope, outcome).Inc()
}

func (m *EngineMetrics) ObserveTaskDuration(task string, d time.Duration) {
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *EngineMetrics) IncClaimDenied(task string) {
	m.claimsDenied.WithLabelValues(task).Inc()
}

func (m *EngineMetrics) IncPipelineRun(scope string) {
	m.pipelineRuns.WithLabelValues(scope).Inc()
}

func (m *EngineMetrics) AddPurgedRuns(n int64) {
	if n > 0 {
		m.purgedRuns.Add(float64(n))
	}
}

func (m *EngineMetrics) SetTenantCount(n int) {
	m.tenantsActive.Set(float64(n))
}
