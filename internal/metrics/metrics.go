// Package metrics provides Prometheus metrics for the coordinator, workers and pipelines.
package metrics

import (
	"time"

	"github.com/nadmax/forgeq/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"category", "priority"},
	)
	TasksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_tasks_rejected_total",
			Help: "Total number of submissions rejected before enqueue",
		},
		[]string{"category"},
	)
	TasksSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_tasks_succeeded_total",
			Help: "Total number of tasks that succeeded",
		},
		[]string{"category"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_tasks_failed_total",
			Help: "Total number of tasks that failed",
		},
		[]string{"category"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forgeq_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"category", "state"},
	)
	TaskWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forgeq_task_wait_time_seconds",
			Help:    "Time tasks spend queued before a worker picks them up",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"category", "priority"},
	)
	WaitTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_wait_timeouts_total",
			Help: "Total number of Wait calls that gave up before the task finished",
		},
		[]string{"category"},
	)
	ReviewFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forgeq_review_fallbacks_total",
			Help: "Total number of reviews replaced by the default result after a parse failure",
		},
	)
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal state",
		},
		[]string{"state"},
	)
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forgeq_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgeq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forgeq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forgeq_queue_depth",
			Help: "Current depth of each category queue",
		},
		[]string{"category"},
	)
	TasksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forgeq_tasks_by_state",
			Help: "Current number of status records by state and category",
		},
		[]string{"state", "category"},
	)
	WorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forgeq_workers_active",
			Help: "Number of currently running workers",
		},
		[]string{"category"},
	)
)

func RecordTaskEnqueued(category task.Category, priority task.TaskPriority) {
	TasksEnqueued.WithLabelValues(string(category), priority.String()).Inc()
}

func RecordTaskRejected(category task.Category) {
	TasksRejected.WithLabelValues(string(category)).Inc()
}

func RecordTaskSucceeded(category task.Category, duration time.Duration) {
	TasksSucceeded.WithLabelValues(string(category)).Inc()
	TaskDuration.WithLabelValues(string(category), string(task.StateSucceeded)).Observe(duration.Seconds())
}

func RecordTaskFailed(category task.Category, duration time.Duration) {
	TasksFailed.WithLabelValues(string(category)).Inc()
	TaskDuration.WithLabelValues(string(category), string(task.StateFailed)).Observe(duration.Seconds())
}

func RecordTaskWaitTime(category task.Category, priority task.TaskPriority, waitTime time.Duration) {
	TaskWaitTime.WithLabelValues(string(category), priority.String()).Observe(waitTime.Seconds())
}

func RecordWaitTimeout(category task.Category) {
	WaitTimeouts.WithLabelValues(string(category)).Inc()
}

func RecordReviewFallback() {
	ReviewFallbacks.Inc()
}

func RecordPipelineRun(state string, duration time.Duration) {
	PipelineRuns.WithLabelValues(state).Inc()
	PipelineDuration.Observe(duration.Seconds())
}

func UpdateQueueDepth(category task.Category, depth int) {
	QueueDepth.WithLabelValues(string(category)).Set(float64(depth))
}

func UpdateTaskGauges(recordsByState map[task.State]map[task.Category]int) {
	TasksByState.Reset()
	for state, byCategory := range recordsByState {
		for category, count := range byCategory {
			TasksByState.WithLabelValues(string(state), string(category)).Set(float64(count))
		}
	}
}

func WorkerStarted(category task.Category) {
	WorkersActive.WithLabelValues(string(category)).Inc()
}

func WorkerStopped(category task.Category) {
	WorkersActive.WithLabelValues(string(category)).Dec()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
