package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	teacherRequestsTotal  *prometheus.CounterVec
	teacherLatencySeconds *prometheus.HistogramVec
	teacherErrorsTotal    *prometheus.CounterVec

	attemptTransitionsTotal *prometheus.CounterVec
	resultsCreatedTotal     prometheus.Counter
	sweepRunsTotal          prometheus.Counter
	sweepAttemptsTotal      *prometheus.CounterVec
	sweepDurationSeconds    prometheus.Histogram
	proctorEventsTotal      *prometheus.CounterVec
	interventionsTotal      *prometheus.CounterVec
	pollCacheTotal          *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the exam service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		teacherRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teacher_requests_total",
			Help: "Total number of teacher API requests served.",
		}, []string{"method", "route", "status"})

		teacherLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teacher_latency_seconds",
			Help:    "Latency distribution for teacher API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		teacherErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teacher_errors_total",
			Help: "Total number of error responses returned by teacher endpoints.",
		}, []string{"method", "route", "status"})

		attemptTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_attempt_transitions_total",
			Help: "Attempt status transitions applied, by target status and trigger.",
		}, []string{"to", "trigger"})

		resultsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_results_created_total",
			Help: "Exam results inserted by the grading engine.",
		})

		sweepRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_sweep_runs_total",
			Help: "Maintenance sweeps executed.",
		})

		sweepAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_sweep_attempts_total",
			Help: "Attempts visited by the maintenance sweep, by outcome.",
		}, []string{"outcome"})

		sweepDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_sweep_duration_seconds",
			Help:    "Duration of maintenance sweeps.",
			Buckets: prometheus.DefBuckets,
		})

		proctorEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_proctor_events_total",
			Help: "Proctor events recorded, by type.",
		}, []string{"type"})

		interventionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_interventions_total",
			Help: "Teacher interventions, by command and outcome.",
		}, []string{"command", "outcome"})

		pollCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_poll_cache_total",
			Help: "Student poll cache lookups, by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			teacherRequestsTotal, teacherLatencySeconds, teacherErrorsTotal,
			attemptTransitionsTotal, resultsCreatedTotal,
			sweepRunsTotal, sweepAttemptsTotal, sweepDurationSeconds,
			proctorEventsTotal, interventionsTotal, pollCacheTotal,
		)
	})
}

// TeacherRequests exposes the counter for teacher requests.
func TeacherRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return teacherRequestsTotal
}

// TeacherLatency exposes the latency histogram for teacher requests.
func TeacherLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return teacherLatencySeconds
}

// TeacherErrors exposes the counter for teacher error responses.
func TeacherErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return teacherErrorsTotal
}

// AttemptTransitions counts applied status transitions.
func AttemptTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptTransitionsTotal
}

// ResultsCreated counts inserted exam results.
func ResultsCreated() prometheus.Counter {
	RegisterMetrics()
	return resultsCreatedTotal
}

// SweepRuns counts maintenance sweeps.
func SweepRuns() prometheus.Counter {
	RegisterMetrics()
	return sweepRunsTotal
}

// SweepAttempts counts attempts visited by sweeps.
func SweepAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return sweepAttemptsTotal
}

// SweepDuration observes sweep durations.
func SweepDuration() prometheus.Histogram {
	RegisterMetrics()
	return sweepDurationSeconds
}

// ProctorEvents counts recorded proctor events.
func ProctorEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return proctorEventsTotal
}

// Interventions counts teacher interventions.
func Interventions() *prometheus.CounterVec {
	RegisterMetrics()
	return interventionsTotal
}

// PollCache counts poll cache lookups.
func PollCache() *prometheus.CounterVec {
	RegisterMetrics()
	return pollCacheTotal
}
