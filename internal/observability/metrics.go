// Package observability declares the Prometheus collectors shared by the analysis service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repcount",
		Subsystem: "sessions",
		Name:      "created_total",
		Help:      "Number of analysis sessions created, by exercise.",
	}, []string{"exercise"})

	activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "repcount",
		Subsystem: "pipeline",
		Name:      "active_streams",
		Help:      "Number of analysis pipelines currently running.",
	})

	framesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repcount",
		Subsystem: "pipeline",
		Name:      "frames_processed_total",
		Help:      "Number of frames recorded, by analysis mode.",
	}, []string{"mode"})

	framesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repcount",
		Subsystem: "pipeline",
		Name:      "frames_skipped_total",
		Help:      "Number of frames not recorded, by reason.",
	}, []string{"reason"})

	repsCounted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repcount",
		Subsystem: "pipeline",
		Name:      "reps_total",
		Help:      "Repetitions (or plank seconds) counted at session end, by exercise.",
	}, []string{"exercise"})

	pipelineDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "repcount",
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "Wall time of a pipeline run, by how it ended.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"end"})

	datasetFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "repcount",
		Subsystem: "recorder",
		Name:      "dataset_write_failures_total",
		Help:      "Number of sessions whose CSV dataset could not be written.",
	})

	lastCompletedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "repcount",
		Subsystem: "sessions",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recently completed session.",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsCreated,
		activeStreams,
		framesProcessed,
		framesSkipped,
		repsCounted,
		pipelineDuration,
		datasetFailures,
		lastCompletedGauge,
	)
}

// RecordSessionCreated counts a new session.
func RecordSessionCreated(exercise string) {
	sessionsCreated.WithLabelValues(exercise).Inc()
}

// StreamStarted marks a pipeline as running and returns the func that marks it stopped.
func StreamStarted() func() {
	activeStreams.Inc()
	return activeStreams.Dec
}

// RecordFrame counts one recorded frame.
func RecordFrame(mode string) {
	framesProcessed.WithLabelValues(mode).Inc()
}

// RecordSkippedFrame counts one frame that produced no record.
func RecordSkippedFrame(reason string) {
	framesSkipped.WithLabelValues(reason).Inc()
}

// RecordSessionCompleted updates per-session totals once a pipeline finishes.
func RecordSessionCompleted(exercise, end string, reps int, elapsed time.Duration, completedAt time.Time) {
	repsCounted.WithLabelValues(exercise).Add(float64(reps))
	pipelineDuration.WithLabelValues(end).Observe(elapsed.Seconds())
	if !completedAt.IsZero() {
		lastCompletedGauge.Set(float64(completedAt.Unix()))
	}
}

// RecordDatasetFailure counts a failed CSV write.
func RecordDatasetFailure() {
	datasetFailures.Inc()
}
