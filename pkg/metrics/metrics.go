// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration on the answer service.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the answer service.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AnswerDuration tracks answer generation latency per provider.
	AnswerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answer_generation_duration_seconds",
			Help:    "Answer generation duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// AnswerTokensTotal tracks tokens consumed by answer generation.
	AnswerTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answer_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// SessionsTotal tracks sessions first seen by the answer service.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_sessions_total",
			Help: "Total sessions archived",
		},
	)

	// ExchangesTotal tracks client exchanges by outcome.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_exchanges_total",
			Help: "Total chat exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// ExchangeDuration tracks time from optimistic insert to settlement.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_exchange_duration_seconds",
			Help:    "Chat exchange duration from send to settlement",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	// ExchangesQueued tracks sends waiting behind an in-flight exchange.
	ExchangesQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_exchanges_queued",
			Help: "Sends waiting behind an in-flight exchange",
		},
	)

	// StaleResponsesTotal tracks answers dropped after a session switch.
	StaleResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stale_responses_total",
			Help: "Answers dropped because their session was no longer active",
		},
	)

	// SessionRefreshTotal tracks session list refreshes by status.
	SessionRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_refresh_total",
			Help: "Session list refreshes by status",
		},
		[]string{"status"},
	)

	// RemoteCallDuration tracks client calls to the remote service.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_remote_call_duration_seconds",
			Help:    "Remote service call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAnswer records metrics for one generated answer.
func RecordAnswer(provider, status string, duration float64, tokensIn, tokensOut int) {
	AnswerDuration.WithLabelValues(provider, status).Observe(duration)
	AnswerTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	AnswerTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// RecordExchange records the outcome of one client exchange.
func RecordExchange(outcome string, duration float64) {
	ExchangesTotal.WithLabelValues(outcome).Inc()
	ExchangeDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordRemoteCall records one call to the remote service.
func RecordRemoteCall(op, status string, duration float64) {
	RemoteCallDuration.WithLabelValues(op, status).Observe(duration)
}
