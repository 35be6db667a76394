// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	TasksSubmitted  *prometheus.CounterVec
	TasksFinished   *prometheus.CounterVec
	TasksInFlight   prometheus.Gauge
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	ArtifactsStored *prometheus.CounterVec
	BookmarksSeen   *prometheus.CounterVec
}

// New registers the pipeline metrics on the given registerer. Passing
// nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmark_pipeline_tasks_submitted_total",
			Help: "Workflow tasks submitted, by workflow type.",
		}, []string{"workflow"}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmark_pipeline_tasks_finished_total",
			Help: "Workflow tasks reaching a terminal status.",
		}, []string{"workflow", "status"}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bookmark_pipeline_tasks_in_flight",
			Help: "Workflow tasks currently executing.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookmark_pipeline_stage_duration_seconds",
			Help:    "Stage execution time, by agent type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmark_pipeline_stage_failures_total",
			Help: "Stage executions that failed, by agent type.",
		}, []string{"agent"}),
		ArtifactsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmark_pipeline_artifacts_stored_total",
			Help: "Artifacts persisted, by artifact type.",
		}, []string{"type"}),
		BookmarksSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmark_pipeline_bookmarks_processed_total",
			Help: "Bookmarks processed per stage outcome.",
		}, []string{"agent", "outcome"}),
	}
}
