package server

import "github.com/prometheus/client_golang/prometheus"

var (
	mSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "leadgate", Name: "submissions_total", Help: "Submission outcomes."},
		[]string{"result"}, // stored | rejected | store_failed
	)
	mRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "leadgate", Name: "rejections_total", Help: "Validation rejections by reason."},
		[]string{"reason"},
	)
	mRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "leadgate", Name: "rate_limited_total", Help: "Requests dropped by the rate limiter."},
	)
	mRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "leadgate", Name: "request_duration_seconds", Help: "HTTP request duration."},
		[]string{"path"},
	)
)

// routeLabel keeps duration-metric cardinality bounded: only registered
// routes label themselves, everything else is bucketed together.
func routeLabel(path string) string {
	switch path {
	case "/api/submit-form", "/api/test", "/api/submissions", "/health", "/metrics", "/":
		return path
	}
	return "other"
}

func init() {
	_ = prometheus.Register(mSubmissions)
	_ = prometheus.Register(mRejections)
	_ = prometheus.Register(mRateLimited)
	_ = prometheus.Register(mRequestDuration)
}
