package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recipe_box",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recipe_box",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recipe_box",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	nudges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recipe_box",
			Subsystem: "nudge",
			Name:      "notifications_total",
			Help:      "Cook nudges attempted, by outcome.",
		},
		[]string{"result"},
	)

	nudgeRuns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recipe_box",
			Subsystem: "nudge",
			Name:      "run_duration_seconds",
			Help:      "Duration of cook nudge runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	imports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recipe_box",
			Subsystem: "recipes",
			Name:      "imports_total",
			Help:      "Recipes imported, by source and outcome.",
		},
		[]string{"source", "result"},
	)

	llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recipe_box",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed, by agent and kind.",
		},
		[]string{"agent", "kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		nudges,
		nudgeRuns,
		imports,
		llmTokens,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// It must run inside the router so the matched route template is known.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := RouteTemplate(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RouteTemplate returns the mux path template for r, e.g.
// "/api/recipes/{id}", so label cardinality stays bounded.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RecordNudge counts one nudge attempt.
func RecordNudge(success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	nudges.WithLabelValues(result).Inc()
}

// RecordNudgeRun records how long a nudge run took.
func RecordNudgeRun(duration time.Duration) {
	nudgeRuns.Observe(duration.Seconds())
}

// RecordImport counts imported recipes. source is "url", "zip" or "generate".
func RecordImport(source string, count int, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	imports.WithLabelValues(source, result).Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
