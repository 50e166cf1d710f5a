package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	submissionLoggedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_service",
		Subsystem: "log",
		Name:      "last_submission_logged_timestamp_seconds",
		Help:      "Unix timestamp of the most recent submission appended to the log.",
	})
	reviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "progress_service",
		Subsystem: "review",
		Name:      "decisions_total",
		Help:      "Number of committed review decisions, labeled by verdict.",
	}, []string{"decision"})
	reviewConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_service",
		Subsystem: "review",
		Name:      "conflicts_total",
		Help:      "Number of reviews rejected because the submission had already left pending.",
	})
)

func init() {
	prometheus.MustRegister(submissionLoggedGauge, reviewCounter, reviewConflictCounter)
}

// RecordSubmissionLogged updates the append watermark gauge.
func RecordSubmissionLogged(ts time.Time) {
	if ts.IsZero() {
		return
	}
	submissionLoggedGauge.Set(float64(ts.Unix()))
}

// RecordReview counts a committed decision.
func RecordReview(decision string) {
	reviewCounter.WithLabelValues(decision).Inc()
}

// RecordReviewConflict counts a review that lost the check-and-set race.
func RecordReviewConflict() {
	reviewConflictCounter.Inc()
}
