package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_items_enqueued_total", Help: "Total content items enqueued for review"})
	SubmitAccepted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_submissions_accepted_total", Help: "Submissions the provider accepted"})
	SubmitRetried     = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_submissions_retried_total", Help: "Submission failures scheduled for retry"})
	SubmitTerminal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_submissions_terminal_total", Help: "Submissions that failed permanently"})
	UserDetailErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_user_detail_errors_total", Help: "Submissions blocked on missing user identity fields"})
	ItemsDropped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_items_dropped_total", Help: "Items deleted because activity or artifact disappeared"})
	ReportsReceived   = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_reports_received_total", Help: "Originality reports received via poll or callback"})
	CallbacksDropped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_callbacks_dropped_total", Help: "Provider callbacks with no matching item"})
	RateLimitDeferred = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_rate_limit_deferred_total", Help: "Submission passes cut short by the provider rate limit"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "review_queue_depth", Help: "Items currently eligible for submission"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "review_inflight", Help: "Items currently claimed by a worker"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			SubmitAccepted,
			SubmitRetried,
			SubmitTerminal,
			UserDetailErrors,
			ItemsDropped,
			ReportsReceived,
			CallbacksDropped,
			RateLimitDeferred,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
