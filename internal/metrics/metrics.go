// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

const namespace = "aiops_data_collector"

type requestCounters struct {
	total     prometheus.Counter
	succeeded prometheus.Counter
	failed    prometheus.Counter
}

// Prometheus implements collector.Metrics on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	jobsTotal     prometheus.Counter
	jobsInitiated prometheus.Counter
	jobsDenied    prometheus.Counter
	activeJobs    prometheus.Gauge
	outcomes      *prometheus.CounterVec
	collection    prometheus.Summary
	dataSize      prometheus.Histogram
	requests      map[string]requestCounters
	otherRequests *prometheus.CounterVec

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// NewPrometheus registers every collector on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	p := &Prometheus{
		registry: reg,
		jobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "The total number of data collector jobs",
		}),
		jobsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_initiated",
			Help:      "The total number of successfully initiated data collector jobs",
		}),
		jobsDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_denied",
			Help:      "The total number of denied data collector jobs",
		}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently running on a worker.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Collection cycle outcomes, labeled by strategy, status and reason.",
		}, []string{"strategy", "status", "reason"}),
		collection: factory.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "data_collection_time",
			Help:      "Time spent for complete data collection",
		}),
		dataSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "data_size",
			Help:      "Size of data in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		otherRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "other_requests_total",
			Help:      "Requests made with methods other than GET and POST, labeled by method and result.",
		}, []string{"method", "result"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	p.requests = map[string]requestCounters{
		http.MethodGet: {
			total: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "get_requests_total",
				Help:      "The total number of data download requests",
			}),
			succeeded: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "get_requests_successful",
				Help:      "The total number of successful data download requests",
			}),
			failed: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "get_requests_exceptions",
				Help:      "The total number of data download request exceptions",
			}),
		},
		http.MethodPost: {
			total: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "post_requests_total",
				Help:      "The total number of post data requests",
			}),
			succeeded: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "post_requests_successful",
				Help:      "The total number of successful post data requests",
			}),
			failed: factory.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "post_requests_exceptions",
				Help:      "The total number of post data request exceptions",
			}),
		},
	}
	return p
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an http.Handler serving this registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) request(method, result string, pick func(requestCounters) prometheus.Counter) {
	if c, ok := p.requests[strings.ToUpper(method)]; ok {
		pick(c).Inc()
		return
	}
	p.otherRequests.WithLabelValues(strings.ToUpper(method), result).Inc()
}

// RequestAttempted counts one logical outbound call.
func (p *Prometheus) RequestAttempted(method string) {
	p.request(method, "attempted", func(c requestCounters) prometheus.Counter { return c.total })
}

// RequestSucceeded counts a logical call that returned a 2xx response.
func (p *Prometheus) RequestSucceeded(method string) {
	p.request(method, "succeeded", func(c requestCounters) prometheus.Counter { return c.succeeded })
}

// RequestFailed counts a logical call that exhausted its budget or was rejected.
func (p *Prometheus) RequestFailed(method string) {
	p.request(method, "failed", func(c requestCounters) prometheus.Counter { return c.failed })
}

// JobReceived counts a job request reaching the API.
func (p *Prometheus) JobReceived() { p.jobsTotal.Inc() }

// JobDenied counts a rejected job request.
func (p *Prometheus) JobDenied() { p.jobsDenied.Inc() }

// JobInitiated counts an admitted job.
func (p *Prometheus) JobInitiated() { p.jobsInitiated.Inc() }

// JobStarted marks a worker picking up a job.
func (p *Prometheus) JobStarted() { p.activeJobs.Inc() }

// JobFinished records the collection time of a job.
func (p *Prometheus) JobFinished(elapsed time.Duration) {
	p.activeJobs.Dec()
	p.collection.Observe(elapsed.Seconds())
}

// OutcomeObserved counts one collection cycle outcome.
func (p *Prometheus) OutcomeObserved(strategy collector.Strategy, outcome collector.Outcome) {
	p.outcomes.WithLabelValues(string(strategy), string(outcome.Status), string(outcome.Reason)).Inc()
}

// PayloadForwarded observes the encoded size of a forwarded payload.
func (p *Prometheus) PayloadForwarded(bytes int) {
	p.dataSize.Observe(float64(bytes))
}

// Middleware is a chi middleware that records HTTP request metrics.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		p.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		p.httpRequestDurationSeconds.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
