package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsOpenedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "sessions",
		Name:      "opened_total",
		Help:      "Total work sessions opened.",
	})
	sessionsClosedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Total work sessions closed.",
	})
	sessionMinutesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "sessions",
		Name:      "minutes_total",
		Help:      "Total minutes credited across closed sessions.",
	})
	rolloverDurationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "rollover",
		Name:      "duration_seconds",
		Help:      "Wall time of a per-guild weekly rollover transaction.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	weeksArchivedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "rollover",
		Name:      "weeks_archived_total",
		Help:      "Total guild-weeks archived by the rollover runner.",
	})
	classificationFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "classifier",
		Name:      "failures_total",
		Help:      "Weekly classifications deferred because the embedding backend was unavailable.",
	})
	lastRolloverGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worklog",
		Subsystem: "rollover",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed rollover.",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsOpenedCounter,
		sessionsClosedCounter,
		sessionMinutesCounter,
		rolloverDurationHist,
		weeksArchivedCounter,
		classificationFailureCounter,
		lastRolloverGauge,
	)
}

// RecordSessionOpened increments the opened-session counter.
func RecordSessionOpened() {
	sessionsOpenedCounter.Inc()
}

// RecordSessionClosed increments the closed-session counter and adds the
// credited minutes.
func RecordSessionClosed(minutes int64) {
	sessionsClosedCounter.Inc()
	if minutes > 0 {
		sessionMinutesCounter.Add(float64(minutes))
	}
}

// ObserveRolloverDuration records the wall time of one guild rollover and
// advances the completion watermark.
func ObserveRolloverDuration(d time.Duration) {
	rolloverDurationHist.Observe(d.Seconds())
	lastRolloverGauge.SetToCurrentTime()
}

// RecordWeekArchived increments the archived guild-week counter.
func RecordWeekArchived() {
	weeksArchivedCounter.Inc()
}

// RecordClassificationFailure counts a deferred weekly classification.
func RecordClassificationFailure() {
	classificationFailureCounter.Inc()
}
