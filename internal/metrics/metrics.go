// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRunsTotal       *prometheus.CounterVec
	importItemsTotal      *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	stageDurationSeconds  *prometheus.HistogramVec
	aiTokensTotal         *prometheus.CounterVec
	pausedShortCircuits   *prometheus.CounterVec
	rateLimitedTotal      prometheus.Counter
	enrichmentQueueDepths *prometheus.GaugeVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		importRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_import_runs_total",
				Help: "Import runs finalized, labeled by source kind and status.",
			},
			[]string{"kind", "status"},
		)
		importItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_import_items_total",
				Help: "Items processed by adapters, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_jobs_total",
				Help: "Stage jobs executed, labeled by job type and result.",
			},
			[]string{"type", "result"},
		)
		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curator_stage_duration_seconds",
				Help:    "Duration of pipeline stage executions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		)
		aiTokensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_ai_tokens_total",
				Help: "Tokens consumed by editorialisation, labeled by site and direction.",
			},
			[]string{"site", "direction"},
		)
		pausedShortCircuits = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curator_workflow_pause_skips_total",
				Help: "Work skipped because a workflow pause was active.",
			},
			[]string{"workflow"},
		)
		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "curator_rate_limited_runs_total",
				Help: "Adapter invocations denied by the trailing-window rate limiter.",
			},
		)
		enrichmentQueueDepths = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curator_queue_depth",
				Help: "Current depth of each named job queue.",
			},
			[]string{"queue"},
		)
	})
}

// ObserveRun records a finalized import run.
func ObserveRun(kind, status string) {
	if importRunsTotal == nil {
		return
	}
	importRunsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveItem records one adapter item outcome (created, updated, failed).
func ObserveItem(kind, outcome string) {
	if importItemsTotal == nil {
		return
	}
	importItemsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveJob records a stage job execution and its duration.
func ObserveJob(jobType, result string, d time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(jobType, result).Inc()
	stageDurationSeconds.WithLabelValues(jobType).Observe(d.Seconds())
}

// ObserveTokens records AI token usage.
func ObserveTokens(site string, prompt, completion int) {
	if aiTokensTotal == nil {
		return
	}
	aiTokensTotal.WithLabelValues(site, "prompt").Add(float64(prompt))
	aiTokensTotal.WithLabelValues(site, "completion").Add(float64(completion))
}

// ObservePauseSkip records work short-circuited by an active pause.
func ObservePauseSkip(workflow string) {
	if pausedShortCircuits == nil {
		return
	}
	pausedShortCircuits.WithLabelValues(workflow).Inc()
}

// ObserveRateLimited records a denied adapter invocation.
func ObserveRateLimited() {
	if rateLimitedTotal == nil {
		return
	}
	rateLimitedTotal.Inc()
}

// SetQueueDepth reports the current depth of a named queue.
func SetQueueDepth(queue string, depth int) {
	if enrichmentQueueDepths == nil {
		return
	}
	enrichmentQueueDepths.WithLabelValues(queue).Set(float64(depth))
}
