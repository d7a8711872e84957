package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentapi"

type serviceMetrics struct {
	agentRunsTotal    *prometheus.CounterVec
	agentRunDuration  *prometheus.HistogramVec
	loopIterations    *prometheus.HistogramVec
	loopTerminalState *prometheus.CounterVec

	engineCallsTotal   *prometheus.CounterVec
	engineCallDuration *prometheus.HistogramVec

	toolExecutionsTotal   *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	memoryTurns    *prometheus.GaugeVec
	activeSessions prometheus.Gauge

	pageIndexDuration prometheus.Histogram

	queueDepth   *prometheus.GaugeVec
	taskDuration *prometheus.HistogramVec

	httpRequestsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *serviceMetrics
)

func getMetrics() *serviceMetrics {
	metricsOnce.Do(func() {
		m := &serviceMetrics{
			agentRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_runs_total",
					Help:      "Agent runs by variant and outcome.",
				},
				[]string{"variant", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "End-to-end agent run duration in seconds.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"variant"},
			),
			loopIterations: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "loop_iterations",
					Help:      "Tool round-trips taken per reasoning loop.",
					Buckets:   []float64{0, 1, 2, 3, 5, 8, 12, 15, 20},
				},
				[]string{"variant"},
			),
			loopTerminalState: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "loop_terminal_total",
					Help:      "Reasoning loop terminations by reason.",
				},
				[]string{"reason"},
			),
			engineCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "engine_calls_total",
					Help:      "Reasoning engine calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			engineCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "engine_call_duration_seconds",
					Help:      "Reasoning engine call latency in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_executions_total",
					Help:      "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			memoryTurns: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "memory_turns",
					Help:      "Turns held by the most recently written memory store.",
				},
				[]string{"lifetime"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Live per-session memory stores.",
				},
			),
			pageIndexDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "page_index_duration_seconds",
					Help:      "Time spent chunking and indexing fetched pages.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_depth",
					Help:      "Pending plus active tasks by lane.",
				},
				[]string{"lane"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "queue_task_duration_seconds",
					Help:      "Queued task execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "HTTP requests by route and status code.",
				},
				[]string{"path", "status"},
			),
		}

		prometheus.MustRegister(
			m.agentRunsTotal,
			m.agentRunDuration,
			m.loopIterations,
			m.loopTerminalState,
			m.engineCallsTotal,
			m.engineCallDuration,
			m.toolExecutionsTotal,
			m.toolExecutionDuration,
			m.memoryTurns,
			m.activeSessions,
			m.pageIndexDuration,
			m.queueDepth,
			m.taskDuration,
			m.httpRequestsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// EnsureRegistered registers all collectors with the default registry.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordAgentRun(variant string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunsTotal.WithLabelValues(variant, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordLoopEnd records how a reasoning loop terminated and how many tool rounds it took.
func RecordLoopEnd(variant, reason string, iterations int) {
	m := getMetrics()
	m.loopIterations.WithLabelValues(variant).Observe(float64(iterations))
	m.loopTerminalState.WithLabelValues(reason).Inc()
}

func RecordEngineCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.engineCallsTotal.WithLabelValues(provider, status(success)).Inc()
	m.engineCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionsTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func SetMemoryTurns(lifetime string, turns int) {
	getMetrics().memoryTurns.WithLabelValues(lifetime).Set(float64(turns))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordPageIndex(duration time.Duration) {
	getMetrics().pageIndexDuration.Observe(duration.Seconds())
}

func SetQueueDepth(lane string, depth int) {
	getMetrics().queueDepth.WithLabelValues(lane).Set(float64(depth))
}

// DeleteQueueLane drops the depth series of a lane that no longer exists.
func DeleteQueueLane(lane string) {
	getMetrics().queueDepth.DeleteLabelValues(lane)
}

func RecordQueueTask(duration time.Duration, success bool) {
	getMetrics().taskDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

func RecordHTTPRequest(path string, code int) {
	getMetrics().httpRequestsTotal.WithLabelValues(path, strconv.Itoa(code)).Inc()
}
