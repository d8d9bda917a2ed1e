// Package metrics provides Prometheus instrumentation for the moderation
// pipeline: message intake, batch outcomes, analysis latency, actions and reviews.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound messages, labeled by result:
	// "buffered" or "duplicate".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_messages_total",
		Help: "Total number of inbound messages",
	}, []string{"result"})

	// BufferedMessages tracks messages waiting across all chats.
	BufferedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatwarden_buffered_messages",
		Help: "Current number of buffered messages",
	})

	// BatchesTotal counts processed batches, labeled by outcome:
	// "ok", "failed" or "disabled".
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_batches_total",
		Help: "Total number of processed batches",
	}, []string{"outcome"})

	// AnalyzeLatency records batch analysis time, model retries included.
	AnalyzeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatwarden_analyze_latency_seconds",
		Help:    "Batch analysis latency in seconds",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
	})

	// TokensTotal counts model tokens, labeled by direction: "in" or "out".
	TokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_model_tokens_total",
		Help: "Total number of model tokens",
	}, []string{"direction"})

	// ActionsTotal counts applied moderation actions, labeled by action and
	// status ("applied" or "failed").
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_actions_total",
		Help: "Total number of moderation actions",
	}, []string{"action", "status"})

	// ResponsesTotal counts replies sent to chats.
	ResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatwarden_responses_total",
		Help: "Total number of replies sent",
	})

	// ReviewsTotal counts review transitions, labeled by status:
	// "pending", "approved", "rejected", "expired".
	ReviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwarden_reviews_total",
		Help: "Total number of review state transitions",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		BufferedMessages,
		BatchesTotal,
		AnalyzeLatency,
		TokensTotal,
		ActionsTotal,
		ResponsesTotal,
		ReviewsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
