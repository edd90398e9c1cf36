package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LikesToggled counts like toggles by entity (post, comment) and action (like, unlike).
	LikesToggled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_likes_toggled_total",
		Help: "Total number of like toggles",
	}, []string{"entity", "action"})

	// CommentEvents counts comment lifecycle events by action (create, reply, edit, delete).
	CommentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_comment_events_total",
		Help: "Total number of comment lifecycle events",
	}, []string{"action"})

	// PostEvents counts post lifecycle events by action (create, update, delete, publish).
	PostEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_post_events_total",
		Help: "Total number of post lifecycle events",
	}, []string{"action"})

	// ViewIncrements counts view counter updates by result (counted, skipped, failed).
	ViewIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_view_increments_total",
		Help: "Total number of view increment attempts",
	}, []string{"result"})

	// CounterSyncs counts engagement counter recomputations by counter and result.
	CounterSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_counter_syncs_total",
		Help: "Total number of engagement counter recomputations",
	}, []string{"counter", "result"})

	// CounterDrift counts recomputations that changed a stored counter.
	CounterDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_counter_drift_total",
		Help: "Total number of counters found out of sync",
	}, []string{"counter"})

	// ReconcileRuns counts reconciler passes by result.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_reconcile_runs_total",
		Help: "Total number of reconciler passes",
	}, []string{"result"})

	// ReconcileDuration records how long a reconciler pass took.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "penpoint_reconcile_duration_seconds",
		Help:    "Reconciler pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// StoreQueryLatency records store query latency by store, operation and table.
	StoreQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "penpoint_store_query_latency_seconds",
		Help:    "Store query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "operation", "table"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// CacheLookups counts post cache lookups by result (hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "penpoint_cache_lookups_total",
		Help: "Total number of cache lookups",
	}, []string{"result"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(store, operation, table string) func() {
	start := time.Now()
	return func() {
		StoreQueryLatency.WithLabelValues(store, operation, table).Observe(time.Since(start).Seconds())
	}
}

// ToggleAction names the direction of a like toggle for metric labels.
func ToggleAction(liked bool) string {
	if liked {
		return "like"
	}
	return "unlike"
}
