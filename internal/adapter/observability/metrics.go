package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently running",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall-clock duration from running entry to terminal entry",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"kind", "status"},
	)

	WorkerInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_invocations_total",
			Help: "Total number of worker invocations by worker and outcome",
		},
		[]string{"worker", "status"},
	)
	WorkerInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_invocation_duration_seconds",
			Help:    "Worker invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"worker"},
	)

	QueueRedeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_redeliveries_total",
			Help: "Total number of submission messages republished for redelivery",
		},
	)
	QueueDLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_dlq_total",
			Help: "Total number of submission messages routed to the dead-letter topic",
		},
	)
)

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(WorkerInvocationsTotal)
	prometheus.MustRegister(WorkerInvocationDuration)
	prometheus.MustRegister(QueueRedeliveriesTotal)
	prometheus.MustRegister(QueueDLQTotal)
}

// EnqueueJob records a job enqueue for the given kind.
func EnqueueJob(kind string) { JobsEnqueuedTotal.WithLabelValues(kind).Inc() }

// StartJob records a job entering the running state.
func StartJob(kind string) { JobsRunning.WithLabelValues(kind).Inc() }

// CompleteJob records a successful terminal transition.
func CompleteJob(kind string, seconds float64) {
	JobsRunning.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind, "completed").Observe(seconds)
}

// QueueRedelivery records a submission re-published for another attempt.
func QueueRedelivery() { QueueRedeliveriesTotal.Inc() }

// QueueDLQ records a submission routed to the dead-letter topic.
func QueueDLQ() { QueueDLQTotal.Inc() }

// FailJob records a failed terminal transition.
func FailJob(kind string, seconds float64) {
	JobsRunning.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
	JobDuration.WithLabelValues(kind, "failed").Observe(seconds)
}
