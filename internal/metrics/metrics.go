package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "daostore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "daostore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "shop",
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		},
		[]string{"result"},
	)

	tokensCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "ledger",
			Name:      "tokens_credited_total",
			Help:      "Tokens credited to members by source.",
		},
		[]string{"source"},
	)

	votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "governance",
			Name:      "votes_total",
			Help:      "Votes cast by choice.",
		},
		[]string{"choice"},
	)

	voteWeight = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "governance",
			Name:      "vote_weight_total",
			Help:      "Token weight of votes cast by choice.",
		},
		[]string{"choice"},
	)

	proposalsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daostore",
			Subsystem: "governance",
			Name:      "proposals_finalized_total",
			Help:      "Proposals closed by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		checkouts,
		tokensCredited,
		votes,
		voteWeight,
		proposalsFinalized,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordCheckout counts a checkout attempt. result is "completed",
// "replayed" or an error class such as "insufficient_stock".
func RecordCheckout(result string) {
	checkouts.WithLabelValues(result).Inc()
}

func RecordTokensCredited(source string, amount int64) {
	if amount <= 0 {
		return
	}
	tokensCredited.WithLabelValues(source).Add(float64(amount))
}

func RecordVote(choice string, weight int64) {
	votes.WithLabelValues(choice).Inc()
	voteWeight.WithLabelValues(choice).Add(float64(weight))
}

func RecordProposalFinalized(outcome string) {
	proposalsFinalized.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// CanonicalPath collapses numeric path segments so label cardinality stays
// bounded: /api/proposals/12/votes becomes /api/proposals/{id}/votes.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 4 {
		parts = parts[:4]
	}
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}
