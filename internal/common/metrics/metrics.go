// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_requests_total",
			Help: "Total number of questions processed, by detected intent",
		},
		[]string{"intent"},
	)

	RequestsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_requests_failed_total",
			Help: "Total number of failed requests, by stage and error code",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_stage_duration_seconds",
			Help: "Duration of each pipeline stage in seconds",
		},
		[]string{"stage"},
	)

	RequestsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_requests_active",
			Help: "Number of requests currently inside the pipeline",
		},
	)

	DroppedMembers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_dropped_members_total",
			Help: "Unknown field references dropped during validation",
		},
	)

	Regenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_regenerations_total",
			Help: "Query regenerations triggered by semantic layer rejections",
		},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_embedding_cache_total",
			Help: "Embedding cache lookups, by outcome",
		},
		[]string{"outcome"},
	)
)
