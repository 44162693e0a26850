package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	gradedResponsesTotal  *prometheus.CounterVec
	gradingFailuresTotal  *prometheus.CounterVec
	gradingLatencySeconds *prometheus.HistogramVec
	gradingEventsTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradedResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_graded_responses_total",
			Help: "Number of learner responses graded and recorded.",
		}, []string{"grader", "status"})

		gradingFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_failures_total",
			Help: "Number of grading requests that ended without a recorded response, by error kind.",
		}, []string{"kind"})

		gradingLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_grading_latency_seconds",
			Help:    "Time spent grading a response, including safety checks.",
			Buckets: []float64{0.005, 0.05, 0.25, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, []string{"grader"})

		gradingEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_grading_events_published_total",
			Help: "Number of grading events fanned out to subscribers.",
		}, []string{"type"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			gradedResponsesTotal, gradingFailuresTotal, gradingLatencySeconds, gradingEventsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradedResponses exposes the counter of recorded responses.
func GradedResponses() *prometheus.CounterVec {
	RegisterMetrics()
	return gradedResponsesTotal
}

// GradingFailures exposes the counter of failed grading requests.
func GradingFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingFailuresTotal
}

// GradingLatency exposes the grading latency histogram.
func GradingLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingLatencySeconds
}

// GradingEvents exposes the counter of published grading events.
func GradingEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingEventsTotal
}
