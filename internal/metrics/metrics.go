package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSteps    *prometheus.HistogramVec
	activeRuns  prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolDeniedTotal       *prometheus.CounterVec

	confirmationTotal *prometheus.CounterVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_total",
					Help: "Total orchestration runs by provider and finish reason.",
				},
				[]string{"provider", "finish_reason"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "run_duration_seconds",
					Help:    "Orchestration run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			runSteps: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "run_steps",
					Help:    "Model turns taken per run by provider.",
					Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
				},
				[]string{"provider"},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_runs",
					Help: "Currently executing orchestration runs.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolDeniedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_denied_total",
					Help: "Tool calls denied by policy, by tool and reason.",
				},
				[]string{"tool", "reason"},
			),
			confirmationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "confirmation_total",
					Help: "Confirmation prompts by outcome (approved, denied, timeout).",
				},
				[]string{"outcome"},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Queued task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runSteps,
			m.activeRuns,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolDeniedTotal,
			m.confirmationTotal,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordRun records a finished orchestration run.
func RecordRun(provider, finishReason string, steps int, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(provider, finishReason).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.runSteps.WithLabelValues(provider).Observe(float64(steps))
}

// RunStarted increments the active-run gauge; the returned func decrements it.
func RunStarted() func() {
	m := getMetrics()
	m.activeRuns.Inc()
	return func() { m.activeRuns.Dec() }
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolDenied records a policy denial for a tool call.
func RecordToolDenied(tool, reason string) {
	getMetrics().toolDeniedTotal.WithLabelValues(tool, reason).Inc()
}

// RecordConfirmation records the outcome of a confirmation prompt.
func RecordConfirmation(outcome string) {
	getMetrics().confirmationTotal.WithLabelValues(outcome).Inc()
}

// RecordQueueEnqueue records an enqueue and the resulting queue size.
func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// SetQueueSize updates the queue-size gauge for a lane.
func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordQueueCompletion records a completed queue task.
func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}
