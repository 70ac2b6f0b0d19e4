// Package metrics provides Prometheus instrumentation for the comment
// moderation services. It exposes counters for screening outcomes, toxicity
// escalations and notifications, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScreeningsTotal counts screened texts, labeled by the pipeline stage
	// that decided the outcome ("clean", "exempt_code", "pattern", ...).
	ScreeningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commentwatch_screenings_total",
		Help: "Total number of texts screened, by deciding stage",
	}, []string{"stage"})

	// ScreeningLatency records the time spent in the screening pipeline,
	// excluding the toxicity classifier.
	ScreeningLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "commentwatch_screening_latency_seconds",
		Help:    "Screening pipeline latency in seconds",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})

	// EscalationsTotal counts toxicity classifier calls, labeled by outcome:
	// "toxic", "clean" or "unavailable".
	EscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commentwatch_escalations_total",
		Help: "Total number of toxicity classifier consultations",
	}, []string{"outcome"})

	// CommentsPolled counts new comments fetched from the course platform.
	CommentsPolled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commentwatch_comments_polled_total",
		Help: "Total number of new comments fetched",
	})

	// PollDuration records the duration of one full polling pass.
	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "commentwatch_poll_duration_seconds",
		Help:    "Duration of one polling pass over all courses",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// NotificationsTotal counts Telegram notifications, labeled by result:
	// "sent" or "failed".
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commentwatch_notifications_total",
		Help: "Total number of moderator notifications",
	}, []string{"result"})

	// VocabularyReloads counts vocabulary reloads.
	VocabularyReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commentwatch_vocabulary_reloads_total",
		Help: "Total number of vocabulary reloads",
	})
)

func init() {
	prometheus.MustRegister(
		ScreeningsTotal,
		ScreeningLatency,
		EscalationsTotal,
		CommentsPolled,
		PollDuration,
		NotificationsTotal,
		VocabularyReloads,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
