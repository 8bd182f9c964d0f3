// Package metrics 汇总各组件的 Prometheus 指标。所有方法对 nil 接收者安全，未注入指标时组件照常工作。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "vidchat"

// Metrics Prometheus 指标收集器
type Metrics struct {
	registry prometheus.Gatherer

	StoreOps           *prometheus.CounterVec // 存储操作（按结果：success/failure/rejected）
	StoreRetries       *prometheus.CounterVec
	BreakerState       prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTransitions *prometheus.CounterVec

	SecurityEvents *prometheus.CounterVec
	RateDecisions  *prometheus.CounterVec // allowed/rejected/fail_open
	CacheRequests  *prometheus.CounterVec // hit/miss/corrupt/error

	TasksEnqueued  *prometheus.CounterVec
	TasksProcessed *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec

	BlobBytes    *prometheus.CounterVec
	SweepDeleted *prometheus.CounterVec
}

// New 在独立的 registry 上注册全部指标，避免与进程默认 registry 冲突
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg, namespace)
}

// NewWith 使用给定的 Registerer/Gatherer
func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: gatherer,

		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "operations_total",
			Help: "Store operations by outcome",
		}, []string{"op", "result"}),
		StoreRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "retries_total",
			Help: "Retried store attempts",
		}, []string{"op"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "transitions_total",
			Help: "Circuit breaker transitions by target state",
		}, []string{"to"}),

		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "security_events_total",
			Help: "Recorded security events by type",
		}, []string{"type"}),
		RateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rate", Name: "decisions_total",
			Help: "Rate limiter decisions",
		}, []string{"resource", "decision"}),
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "requests_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),

		TasksEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "enqueued_total",
			Help: "Enqueued tasks",
		}, []string{"type", "priority"}),
		TasksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "processed_total",
			Help: "Processed tasks by final status",
		}, []string{"type", "status"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "queue", Name: "task_duration_seconds",
			Help:    "Task handler duration",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"type"}),

		BlobBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "blob", Name: "bytes_total",
			Help: "Blob payload bytes by direction",
		}, []string{"op"}),
		SweepDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "maintenance", Name: "deleted_total",
			Help: "Entries removed by maintenance sweeps",
		}, []string{"sweep"}),
	}
}

// Gatherer 用于 /metrics 暴露
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) Op(op, result string) {
	if m != nil {
		m.StoreOps.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) Retry(op string) {
	if m != nil {
		m.StoreRetries.WithLabelValues(op).Inc()
	}
}

// Breaker 记录状态切换，state 取 0/1/2
func (m *Metrics) Breaker(state int, name string) {
	if m != nil {
		m.BreakerState.Set(float64(state))
		m.BreakerTransitions.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) SecurityEvent(eventType string) {
	if m != nil {
		m.SecurityEvents.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) RateDecision(resource, decision string) {
	if m != nil {
		m.RateDecisions.WithLabelValues(resource, decision).Inc()
	}
}

func (m *Metrics) Cache(result string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Enqueued(taskType, priority string) {
	if m != nil {
		m.TasksEnqueued.WithLabelValues(taskType, priority).Inc()
	}
}

func (m *Metrics) Processed(taskType, status string, d time.Duration) {
	if m != nil {
		m.TasksProcessed.WithLabelValues(taskType, status).Inc()
		m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	}
}

func (m *Metrics) Blob(op string, n int) {
	if m != nil {
		m.BlobBytes.WithLabelValues(op).Add(float64(n))
	}
}

func (m *Metrics) Swept(sweep string, n int) {
	if m != nil && n > 0 {
		m.SweepDeleted.WithLabelValues(sweep).Add(float64(n))
	}
}
