package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawcare_rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint", "status"})

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pawcare_restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// Organization records produced from caregiver contact records
	OrganizationsBuiltTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pawcare_organizations_built_total",
		Help: "The total number of organization records built from contact records",
	})

	// Organization records flattened into display records
	OrganizationsParsedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pawcare_organizations_parsed_total",
		Help: "The total number of display records produced",
	})

	// Organization events by type and outcome
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawcare_events_published_total",
		Help: "The total number of organization events published",
	}, []string{"type", "result"})

	// Events written to the audit log
	EventsAuditedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pawcare_events_audited_total",
		Help: "The total number of organization events written to the audit log",
	})
)

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(OrganizationsBuiltTotal)
		prometheus.MustRegister(OrganizationsParsedTotal)
		prometheus.MustRegister(EventsPublishedTotal)
		prometheus.MustRegister(EventsAuditedTotal)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		RESTRequestMetricsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		responseTimeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(time.Since(start).Milliseconds()))
	})
}
